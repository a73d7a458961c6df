package util

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// MaxIdentifierLength bounds generated rule identifiers.
	MaxIdentifierLength = 128
)

// SanitizeIdentifier turns free text into an identifier usable as a YARA
// rule name or Sigma selection key: letters, digits and underscores only,
// never starting with a digit. Empty input yields fallback.
func SanitizeIdentifier(s, fallback string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		out = fallback
	}
	if out != "" && unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	if len(out) > MaxIdentifierLength {
		out = out[:MaxIdentifierLength]
	}
	return out
}

// EscapeRuleString escapes a value for a double-quoted Snort/Suricata or
// YARA string: backslash, double quote and semicolon get a backslash.
func EscapeRuleString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\', '"', ';':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EscapeYARAString escapes a value for a double-quoted YARA text string.
// Control bytes are written as \xNN.
func EscapeYARAString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' || c == '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// EscapeUnescaped puts a backslash before every byte of s found in chars
// unless an odd run of backslashes already escapes it. Used for regex
// bodies where the author may have escaped the delimiter already.
func EscapeUnescaped(s, chars string) string {
	var b strings.Builder
	b.Grow(len(s))
	run := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(chars, c) >= 0 && run%2 == 0 {
			b.WriteByte('\\')
		}
		if c == '\\' {
			run++
		} else {
			run = 0
		}
		b.WriteByte(c)
	}
	return b.String()
}

// EscapeSplunkValue escapes a value for a double-quoted Splunk term.
func EscapeSplunkValue(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// TruncateString shortens s to max bytes, appending "..." when cut.
func TruncateString(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
