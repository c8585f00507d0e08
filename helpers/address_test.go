package helpers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "angle brackets only", input: "<a@x.com>", want: "a@x.com"},
		{name: "display name", input: "Max Mustermann <max.mustermann@example.invalid>", want: "max.mustermann@example.invalid"},
		{name: "quoted display name", input: `"Eve" <b@x.com>`, want: "b@x.com"},
		{name: "bare address", input: "a@x.com", want: "a@x.com"},
		{name: "bare address keeps whitespace", input: " a@x.com ", want: " a@x.com "},
		{name: "whitespace inside brackets kept", input: "< a@x.com >", want: " a@x.com "},
		{name: "empty brackets", input: "<>", want: ""},
		{name: "null sender with name", input: "Mailer <>", want: ""},
		{name: "empty input", input: "", want: ""},
		{name: "only open bracket", input: "Name <a@x.com", want: "Name <a@x.com"},
		{name: "only close bracket", input: "a@x.com>", want: "a@x.com>"},
		{name: "reversed brackets", input: ">a<", want: ">a<"},
		{name: "two pairs use last of each", input: "<a@x><b@x>", want: "b@x"},
		{name: "nested brackets", input: "<<a@x>>", want: "a@x>"},
		{name: "last open after last close", input: "<a@x> <b", want: "<a@x> <b"},
		{name: "trailing text after close", input: "<a@x.com> (comment)", want: "a@x.com"},
		{name: "case preserved", input: "<A@X.Com>", want: "A@X.Com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAddress(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want), len(got))
		})
	}
}

func TestExtractAddress_ReturnsSubstring(t *testing.T) {
	inputs := []string{
		"Max <max@example.com>",
		"<a@x><b@x>",
		">a<",
		"plain@example.com",
	}
	for _, in := range inputs {
		got := ExtractAddress(in)
		assert.True(t, strings.Contains(in, got), "result %q must be a substring of %q", got, in)
	}
}

func TestExtractAddress_IdempotentOnBareOutput(t *testing.T) {
	inputs := []string{
		"Max <max@example.com>",
		"<a@x.com>",
		"a@x.com",
		"<>",
	}
	for _, in := range inputs {
		once := ExtractAddress(in)
		if strings.ContainsAny(once, "<>") {
			continue
		}
		assert.Equal(t, once, ExtractAddress(once), "input %q", in)
	}
}

func TestEqualFoldASCII(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"a@x.com", "A@X.COM", true},
		{"from", "From", true},
		{"FROM", "from", true},
		{"a@x.com", "a@x.co", false},
		{"a@x.com", "b@x.com", false},
		{"", "", true},
		{"@", "`", false},
		{"[", "{", false},
		// Non-ASCII bytes are compared exactly, the Kelvin sign is not a 'k'
		{"\u212Aelvin", "kelvin", false},
		{"jürgen@x.de", "JüRGEN@x.de", true},
		{"jürgen@x.de", "JÜRGEN@x.de", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EqualFoldASCII(tt.a, tt.b), "EqualFoldASCII(%q, %q)", tt.a, tt.b)
	}
}

func TestMaskAddress(t *testing.T) {
	assert.Equal(t, "a@x.com", MaskAddress("a@x.com", false))
	assert.Equal(t, "a@x.com??", MaskAddress("a@x.com\r\n", false))

	masked := MaskAddress("a@x.com", true)
	assert.True(t, strings.HasPrefix(masked, "b3:"))
	assert.Len(t, masked, len("b3:")+16)
	assert.NotContains(t, masked, "a@x.com")
	assert.Equal(t, masked, MaskAddress("A@X.COM", true), "hash must not depend on case")
	assert.NotEqual(t, masked, MaskAddress("b@x.com", true))
}
