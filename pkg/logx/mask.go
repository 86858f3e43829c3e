package logx

import "strings"

const secretVisible = 8

// MaskSecret keeps the first eight characters of a credential and hides the rest.
// Short values are hidden completely.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= secretVisible {
		return strings.Repeat("*", len(s))
	}
	return s[:secretVisible] + strings.Repeat("*", min(len(s)-secretVisible, 16))
}
