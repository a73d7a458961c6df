package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		fallback string
		expected string
	}{
		{"plain", "EvilDownload", "rule", "EvilDownload"},
		{"spaces and punctuation", "Evil .exe  download!", "rule", "Evil_exe_download"},
		{"leading digit", "2024 campaign", "rule", "_2024_campaign"},
		{"non ascii dropped", "Обнаружение evil", "rule", "evil"},
		{"empty", "   ", "rule", "rule"},
		{"only symbols", "!!!", "sig", "sig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeIdentifier(tt.in, tt.fallback))
		})
	}
}

func TestSanitizeIdentifier_Length(t *testing.T) {
	out := SanitizeIdentifier(strings.Repeat("a", 500), "x")
	assert.Len(t, out, MaxIdentifierLength)
}

func TestEscapeRuleString(t *testing.T) {
	assert.Equal(t, `a\"b\;c\\d`, EscapeRuleString(`a"b;c\d`))
	assert.Equal(t, `line\nnext`, EscapeRuleString("line\nnext"))
	assert.Equal(t, "evil.exe", EscapeRuleString("evil.exe"))
}

func TestEscapeYARAString(t *testing.T) {
	assert.Equal(t, `a\"b;c\\d`, EscapeYARAString(`a"b;c\d`))
	assert.Equal(t, `tab\there\x00`, EscapeYARAString("tab\there\x00"))
}

func TestEscapeSplunkValue(t *testing.T) {
	assert.Equal(t, `say \"hi\" \\ bye`, EscapeSplunkValue(`say "hi" \ bye`))
}

func TestEscapeUnescaped(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		chars string
		want  string
	}{
		{"bare slash", `a/b`, "/", `a\/b`},
		{"already escaped", `a\/b`, "/", `a\/b`},
		{"escaped backslash before slash", `a\\/b`, "/", `a\\\/b`},
		{"leading and trailing", `/x/`, "/", `\/x\/`},
		{"other escapes untouched", `\d+/\w`, "/", `\d+\/\w`},
		{"several delimiters", `a";\;/`, `";/`, `a\"\;\;\/`},
		{"no delimiters", `plain`, "/", `plain`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeUnescaped(tt.in, tt.chars))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
}
