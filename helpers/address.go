package helpers

import "strings"

// ExtractAddress returns the bare address of an envelope or header sender
// field. When the field contains a '<' followed (somewhere later) by a '>',
// the text between the last '<' and the last '>' is returned, so
// `Max Mustermann <max@example.com>` yields `max@example.com`. Otherwise the
// field is returned unchanged.
//
// The result is a substring of field; nothing is trimmed, folded or
// validated. Inputs with several bracket pairs use the last occurrence of
// each bracket independently, so `<a@x><b@x>` yields `b@x` while `>a<`
// falls back to the whole field.
func ExtractAddress(field string) string {
	open := strings.LastIndexByte(field, '<')
	closing := strings.LastIndexByte(field, '>')
	if open != -1 && closing != -1 && open < closing {
		return field[open+1 : closing]
	}
	return field
}

// EqualFoldASCII reports whether a and b are equal under ASCII case folding.
// Strings of different length never match; bytes outside A-Z/a-z must
// match exactly.
func EqualFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
