package simulate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sigforge/compiler"
	"sigforge/core"
	"sigforge/metrics"
	"sigforge/util"
	"sigforge/util/goroutine"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RuleCompiler is the part of compiler.Compiler the engine needs.
type RuleCompiler interface {
	Compile(ctx context.Context, g *core.Graph, format compiler.Format, opts compiler.Options) (*compiler.CompiledRule, error)
}

type testFunc func(ctx context.Context, g *core.Graph, r *TestResult)

// Engine runs simulation tests against read-only graph snapshots.
type Engine struct {
	cfg      Config
	compiler RuleCompiler
	source   DataSource
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	regex    *util.RegexMatcher
	now      func() time.Time

	tests map[TestType]testFunc

	mu      sync.Mutex
	history *history
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics records test outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDataSource supplies sample records to data-simulation. Without one,
// records are synthesized from the graph.
func WithDataSource(src DataSource) Option {
	return func(e *Engine) { e.source = src }
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. rc compiles rules for format-generation.
func New(cfg Config, rc RuleCompiler, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		compiler: rc,
		logger:   zap.NewNop().Sugar(),
		regex:    util.NewRegexMatcher(util.DefaultRegexTimeout),
		now:      time.Now,
		history:  newHistory(cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tests = map[TestType]testFunc{
		TestComponentValidation: e.componentValidation,
		TestRuleSyntax:          e.ruleSyntax,
		TestLogicValidation:     e.logicValidation,
		TestPerformance:         e.performance,
		TestDataSimulation:      e.dataSimulation,
		TestFormatGeneration:    e.formatGeneration,
		TestFalsePositive:       e.falsePositive,
		TestCoverage:            e.coverage,
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// RunTest runs a single test on a snapshot of g.
func (e *Engine) RunTest(ctx context.Context, g *core.Graph, t TestType) (TestResult, error) {
	if !t.Valid() {
		return TestResult{}, fmt.Errorf("unknown test %q", t)
	}
	if g == nil {
		return TestResult{}, &core.GraphError{Op: "run test", ID: string(t), Err: core.ErrEmptyGraph}
	}
	return e.run(ctx, g.Clone(), t), nil
}

// RunAll runs the suite in priority order and records the report in the
// history. When the context is cancelled between tests the remaining tests
// are skipped and the partial report is returned with the context error;
// partial reports are not recorded.
func (e *Engine) RunAll(ctx context.Context, g *core.Graph) (*TestReport, error) {
	if g == nil {
		return nil, &core.GraphError{Op: "run tests", Err: core.ErrEmptyGraph}
	}
	snapshot := g.Clone()
	started := time.Now()
	report := &TestReport{
		SuiteID:   uuid.New().String(),
		GraphID:   snapshot.ID,
		Timestamp: e.now(),
	}

	results := make([]TestResult, len(Suite))
	ran := make([]bool, len(Suite))
	var runErr error

	for _, stage := range e.stages() {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if len(stage) == 1 {
			results[stage[0]] = e.run(ctx, snapshot, Suite[stage[0]])
			ran[stage[0]] = true
			continue
		}

		var eg errgroup.Group
		for _, idx := range stage {
			eg.Go(func() error {
				results[idx] = e.run(ctx, snapshot, Suite[idx])
				return nil
			})
		}
		_ = eg.Wait()
		for _, idx := range stage {
			ran[idx] = true
		}
	}

	for i, res := range results {
		if !ran[i] {
			continue
		}
		report.Results = append(report.Results, res)
		report.Aggregate.add(res.Status)
	}
	report.Status = report.Aggregate.Status()
	report.DurationMs = millis(time.Since(started))

	if runErr != nil {
		e.logger.Warnw("Simulation suite abandoned",
			"graph_id", snapshot.ID,
			"completed", len(report.Results),
			"error", runErr)
		return report, runErr
	}

	e.mu.Lock()
	e.history.add(*report)
	e.mu.Unlock()

	e.logger.Infow("Simulation suite completed",
		"suite_id", report.SuiteID,
		"graph_id", snapshot.ID,
		"status", report.Status,
		"passed", report.Aggregate.Passed,
		"failed", report.Aggregate.Failed,
		"warnings", report.Aggregate.Warnings,
		"errors", report.Aggregate.Errors,
		"duration_ms", report.DurationMs)
	return report, nil
}

// History returns retained reports, oldest first.
func (e *Engine) History() []TestReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.list()
}

// ClearHistory drops every retained report.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.clear()
}

// stages groups suite positions into sequential steps. With Parallel set,
// data-simulation and format-generation share one step.
func (e *Engine) stages() [][]int {
	var out [][]int
	for i, t := range Suite {
		concurrent := t == TestDataSimulation || t == TestFormatGeneration
		if e.cfg.Parallel && concurrent && len(out) > 0 {
			last := out[len(out)-1]
			if prev := Suite[last[0]]; prev == TestDataSimulation || prev == TestFormatGeneration {
				out[len(out)-1] = append(last, i)
				continue
			}
		}
		out = append(out, []int{i})
	}
	return out
}

// run executes one test under the per-test deadline. A panic or a timeout
// marks the test as errored; the work in flight is abandoned.
func (e *Engine) run(ctx context.Context, g *core.Graph, t TestType) TestResult {
	started := time.Now()
	fn := e.tests[t]

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TestTimeout)
	defer cancel()

	type outcome struct {
		res *TestResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		work := newResult(t)
		var err error
		defer func() { done <- outcome{res: work, err: err} }()
		defer goroutine.RecoverError("simulate."+string(t), e.logger, &err)
		fn(tctx, g, work)
	}()

	var res *TestResult
	select {
	case out := <-done:
		res = out.res
		if out.err != nil {
			res.Status = StatusError
			res.Errors = append(res.Errors, fmt.Sprintf("%v: %v", core.ErrTestExecution, out.err))
		}
	case <-tctx.Done():
		res = newResult(t)
		res.Status = StatusError
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			res.errorf("%v: test timed out after %s", core.ErrTestExecution, e.cfg.TestTimeout)
		} else {
			res.errorf("%v: test cancelled: %v", core.ErrTestExecution, tctx.Err())
		}
	}

	res.settle()
	res.DurationMs = millis(time.Since(started))
	e.metrics.RecordTestResult(string(t), string(res.Status), time.Since(started).Seconds())

	e.logger.Debugw("Simulation test finished",
		"test", t,
		"graph_id", g.ID,
		"status", res.Status,
		"errors", len(res.Errors),
		"warnings", len(res.Warnings),
		"duration_ms", res.DurationMs)
	return *res
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
