//go:build !darwin

package notify

const notifyBinary = "notify-send"

func notifyArgs(n Notification) []string {
	return []string{"-a", "port-killer", n.Title, n.Body}
}
