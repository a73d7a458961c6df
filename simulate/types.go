package simulate

import (
	"fmt"
	"strings"
	"time"
)

// TestType names one of the simulation tests.
type TestType string

const (
	TestComponentValidation TestType = "component-validation"
	TestRuleSyntax          TestType = "rule-syntax"
	TestLogicValidation     TestType = "logic-validation"
	TestPerformance         TestType = "performance-test"
	TestDataSimulation      TestType = "data-simulation"
	TestFormatGeneration    TestType = "format-generation"
	TestFalsePositive       TestType = "false-positive"
	TestCoverage            TestType = "coverage-analysis"
)

// Priority orders tests within a suite run.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Suite lists every test in the order RunAll executes them.
var Suite = []TestType{
	TestComponentValidation,
	TestRuleSyntax,
	TestLogicValidation,
	TestPerformance,
	TestDataSimulation,
	TestFormatGeneration,
	TestFalsePositive,
	TestCoverage,
}

// Priority returns the suite priority of t.
func (t TestType) Priority() Priority {
	switch t {
	case TestComponentValidation, TestRuleSyntax, TestLogicValidation:
		return PriorityHigh
	case TestPerformance, TestDataSimulation, TestFormatGeneration:
		return PriorityMedium
	}
	return PriorityLow
}

// Valid reports whether t is a known test.
func (t TestType) Valid() bool {
	for _, s := range Suite {
		if s == t {
			return true
		}
	}
	return false
}

// ParseTestType accepts a test name in any case.
func ParseTestType(s string) (TestType, error) {
	t := TestType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown test %q", s)
	}
	return t, nil
}

// Status is the outcome of a test or a suite.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// TestResult is the outcome of one test.
type TestResult struct {
	Type       TestType       `json:"type"`
	Priority   Priority       `json:"priority"`
	Status     Status         `json:"status"`
	Errors     []string       `json:"errors"`
	Warnings   []string       `json:"warnings"`
	Metrics    map[string]any `json:"metrics"`
	DurationMs float64        `json:"durationMs"`
}

func newResult(t TestType) *TestResult {
	return &TestResult{
		Type:     t,
		Priority: t.Priority(),
		Errors:   []string{},
		Warnings: []string{},
		Metrics:  map[string]any{},
	}
}

func (r *TestResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *TestResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// settle derives the status from collected errors and warnings unless the
// runner already marked the test as errored.
func (r *TestResult) settle() {
	if r.Status == StatusError {
		return
	}
	switch {
	case len(r.Errors) > 0:
		r.Status = StatusFailed
	case len(r.Warnings) > 0:
		r.Status = StatusWarning
	default:
		r.Status = StatusPassed
	}
}

// Aggregate counts test outcomes in a report.
type Aggregate struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

func (a *Aggregate) add(s Status) {
	a.Total++
	switch s {
	case StatusPassed:
		a.Passed++
	case StatusFailed:
		a.Failed++
	case StatusWarning:
		a.Warnings++
	case StatusError:
		a.Errors++
	}
}

// Status summarizes the aggregate: any failure or error fails the suite.
func (a Aggregate) Status() Status {
	switch {
	case a.Failed > 0 || a.Errors > 0:
		return StatusFailed
	case a.Warnings > 0:
		return StatusWarning
	}
	return StatusPassed
}

// TestReport is the outcome of a full suite run.
type TestReport struct {
	SuiteID    string       `json:"suiteId"`
	GraphID    string       `json:"graphId"`
	Timestamp  time.Time    `json:"timestamp"`
	Results    []TestResult `json:"results"`
	Aggregate  Aggregate    `json:"aggregate"`
	DurationMs float64      `json:"durationMs"`
	Status     Status       `json:"status"`
}

// Result returns the result of test t, if it ran.
func (r *TestReport) Result(t TestType) (TestResult, bool) {
	for _, res := range r.Results {
		if res.Type == t {
			return res, true
		}
	}
	return TestResult{}, false
}

// Config tunes the engine.
type Config struct {
	// SampleCount caps the records evaluated by data-simulation.
	SampleCount int `mapstructure:"sample_count" validate:"gte=1,lte=100000"`
	// AccuracyThreshold below which data-simulation warns.
	AccuracyThreshold float64 `mapstructure:"accuracy_threshold" validate:"gte=0,lte=1"`
	// PerformanceThresholdMs above which performance-test warns.
	PerformanceThresholdMs float64 `mapstructure:"performance_threshold_ms" validate:"gt=0"`
	// HistorySize bounds the number of retained reports.
	HistorySize int `mapstructure:"history_size" validate:"gte=1"`
	// TestTimeout is the deadline for a single test.
	TestTimeout time.Duration `mapstructure:"test_timeout"`
	// Parallel runs data-simulation and format-generation concurrently.
	Parallel bool `mapstructure:"parallel"`
	// Seed makes synthetic data reproducible.
	Seed uint64 `mapstructure:"seed"`
}

// Defaults.
const (
	DefaultSampleCount            = 1000
	DefaultAccuracyThreshold      = 0.95
	DefaultPerformanceThresholdMs = 100.0
	DefaultHistorySize            = 50
	DefaultTestTimeout            = 30 * time.Second
	DefaultSeed                   = 42
)

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SampleCount:            DefaultSampleCount,
		AccuracyThreshold:      DefaultAccuracyThreshold,
		PerformanceThresholdMs: DefaultPerformanceThresholdMs,
		HistorySize:            DefaultHistorySize,
		TestTimeout:            DefaultTestTimeout,
		Parallel:               true,
		Seed:                   DefaultSeed,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleCount <= 0 {
		c.SampleCount = d.SampleCount
	}
	if c.AccuracyThreshold <= 0 {
		c.AccuracyThreshold = d.AccuracyThreshold
	}
	if c.PerformanceThresholdMs <= 0 {
		c.PerformanceThresholdMs = d.PerformanceThresholdMs
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = d.TestTimeout
	}
	if c.Seed == 0 {
		c.Seed = d.Seed
	}
	return c
}
