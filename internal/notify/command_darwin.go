//go:build darwin

package notify

const notifyBinary = "osascript"

func notifyArgs(n Notification) []string {
	script := `display notification "` + escapeAppleScript(n.Body) + `" with title "` + escapeAppleScript(n.Title) + `"`
	return []string{"-e", script}
}
