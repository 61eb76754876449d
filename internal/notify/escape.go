package notify

import "strings"

var appleScriptEscapes = map[rune]string{
	'"':  `\"`,
	'\\': `\\`,
	'\n': `\n`,
	'\r': `\r`,
	'\t': `\t`,
}

// escapeAppleScript makes s safe inside an AppleScript double-quoted
// string. Other control characters are stripped.
func escapeAppleScript(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if esc, ok := appleScriptEscapes[r]; ok {
			b.WriteString(esc)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
