package helpers

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxLogValueLen caps sender supplied values written to the log.
const maxLogValueLen = 256

// SanitizeForLog makes a value taken from an SMTP transaction safe to log.
// Invalid UTF-8 sequences are dropped, control characters (CR and LF
// included) become '?', and overlong values are cut with a "..." suffix.
func SanitizeForLog(s string) string {
	if len(s) <= maxLogValueLen && utf8.ValidString(s) && !strings.ContainsFunc(s, unicode.IsControl) {
		return s
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLogValueLen+3))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		if unicode.IsControl(r) {
			r = '?'
		}
		if b.Len()+utf8.RuneLen(r) > maxLogValueLen {
			b.WriteString("...")
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
