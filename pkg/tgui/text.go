package tgui

import "unicode/utf8"

// Trunc shortens s to at most n runes, the last of which becomes "…" when
// anything was cut.
func Trunc(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}
