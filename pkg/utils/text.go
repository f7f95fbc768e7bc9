// Package utils provides shared utilities for text, math, and logging.
package utils

import "unicode/utf8"

// TruncateLeft returns s shortened to its last maxLen characters with a "..." prefix, so that
// the file name end of a long path stays visible. If maxLen is 0 or negative, returns s unchanged.
func TruncateLeft(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	cut := len(s)
	for n := 0; n < maxLen; n++ {
		_, size := utf8.DecodeLastRuneInString(s[:cut])
		cut -= size
	}
	return "..." + s[cut:]
}
