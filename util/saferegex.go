package util

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// Constants for regex validation
const (
	// MaxRegexLength is the maximum allowed regex pattern length
	MaxRegexLength = 500
	// DefaultRegexTimeout is the default timeout for regex matching
	DefaultRegexTimeout = 100 * time.Millisecond
	// MaxRegexTimeout is the maximum allowed timeout for regex matching
	MaxRegexTimeout = 1 * time.Second
)

// ErrRegexTimeout is returned when a match exceeds the matcher timeout.
var ErrRegexTimeout = errors.New("regex evaluation timeout")

var repetitionRe = regexp.MustCompile(`\{(\d+)(?:,\d*)?\}`)

// RegexMatcher compiles PCRE-style patterns with regexp2 and matches them
// under a backtracking timeout. Compiled patterns are cached per matcher.
type RegexMatcher struct {
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]*regexp2.Regexp
}

// NewRegexMatcher creates a matcher. A non-positive timeout uses
// DefaultRegexTimeout; values above MaxRegexTimeout are clamped.
func NewRegexMatcher(timeout time.Duration) *RegexMatcher {
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	if timeout > MaxRegexTimeout {
		timeout = MaxRegexTimeout
	}
	return &RegexMatcher{
		timeout: timeout,
		cache:   make(map[string]*regexp2.Regexp),
	}
}

// ValidatePattern checks length, flags, obvious ReDoS shapes and syntax.
func ValidatePattern(pattern, flags string) error {
	if pattern == "" {
		return fmt.Errorf("regex pattern cannot be empty")
	}
	if len(pattern) > MaxRegexLength {
		return fmt.Errorf("regex pattern too long: %d characters (max %d)", len(pattern), MaxRegexLength)
	}
	if _, err := parseFlags(flags); err != nil {
		return err
	}
	if err := checkForReDoSPatterns(pattern); err != nil {
		return err
	}
	if err := checkForExcessiveRepetition(pattern); err != nil {
		return err
	}
	return nil
}

// CheckPattern runs ValidatePattern and then a trial compile.
func CheckPattern(pattern, flags string) error {
	if err := ValidatePattern(pattern, flags); err != nil {
		return err
	}
	opts, _ := parseFlags(flags)
	if _, err := regexp2.Compile(pattern, opts); err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}
	return nil
}

// Compile validates pattern and returns the cached compiled form.
func (m *RegexMatcher) Compile(pattern, flags string) (*regexp2.Regexp, error) {
	key := flags + "/" + pattern

	m.mu.RLock()
	re, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return re, nil
	}

	if err := ValidatePattern(pattern, flags); err != nil {
		return nil, err
	}
	opts, _ := parseFlags(flags)
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	re.MatchTimeout = m.timeout

	m.mu.Lock()
	m.cache[key] = re
	m.mu.Unlock()
	return re, nil
}

// Match reports whether input contains a match for pattern.
func (m *RegexMatcher) Match(pattern, flags, input string) (bool, error) {
	re, err := m.Compile(pattern, flags)
	if err != nil {
		return false, err
	}
	ok, err := re.MatchString(input)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return false, ErrRegexTimeout
		}
		return false, fmt.Errorf("regex matching error: %w", err)
	}
	return ok, nil
}

// CacheSize returns the number of compiled patterns held.
func (m *RegexMatcher) CacheSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func parseFlags(flags string) (regexp2.RegexOptions, error) {
	var opts regexp2.RegexOptions
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'x':
			opts |= regexp2.IgnorePatternWhitespace
		default:
			return 0, fmt.Errorf("unsupported regex flag %q (allowed: i, m, s, x)", f)
		}
	}
	return opts, nil
}

// checkForReDoSPatterns checks for dangerous nested quantifier patterns
func checkForReDoSPatterns(pattern string) error {
	dangerousPatterns := []string{
		")+*", ")*+", ")+{", ")*{",
		"}+*", "}*+", "}+{", "}*{",
		"++", "**", "*+", "+*",
	}
	for _, dangerous := range dangerousPatterns {
		if strings.Contains(pattern, dangerous) {
			return fmt.Errorf("pattern contains nested quantifiers which may cause ReDoS: found '%s'", dangerous)
		}
	}
	return nil
}

// checkForExcessiveRepetition checks for repetition ranges of 1000 or more
func checkForExcessiveRepetition(pattern string) error {
	for _, match := range repetitionRe.FindAllStringSubmatch(pattern, -1) {
		count, err := strconv.Atoi(match[1])
		if err == nil && count >= 1000 {
			return fmt.Errorf("excessive repetition: %s (max 999)", match[0])
		}
	}
	return nil
}
