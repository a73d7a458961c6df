package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sigforge/catalog"
	"sigforge/compiler"
	"sigforge/core"
	"sigforge/metrics"
	"sigforge/simulate"

	"go.uber.org/zap"
)

// Session owns one signature graph and is the single entry point hosts use
// to edit, validate, compile and test it. All methods are safe for
// concurrent use. Event handlers run while the session lock is held and
// must not call back into the session.
type Session struct {
	mu    sync.RWMutex
	graph *core.Graph

	catalog  *catalog.Catalog
	bus      *core.EventBus
	compiler *compiler.Compiler
	engine   *simulate.Engine
	rules    core.ValidationRules
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger

	unsubscribe []func()
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics records validations and graph events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRules replaces the default validation rules.
func WithRules(rules core.ValidationRules) Option {
	return func(s *Session) { s.rules = rules }
}

// WithEventBus shares an existing bus, e.g. one a websocket hub listens on.
func WithEventBus(bus *core.EventBus) Option {
	return func(s *Session) { s.bus = bus }
}

// NewSession creates a session around an empty graph.
func NewSession(cat *catalog.Catalog, c *compiler.Compiler, e *simulate.Engine, opts ...Option) *Session {
	s := &Session{
		catalog:  cat,
		compiler: c,
		engine:   e,
		rules:    core.DefaultRules(),
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = core.NewEventBus(s.logger)
	}

	s.unsubscribe = append(s.unsubscribe,
		s.bus.Subscribe("compile-cache", func(ev core.Event) {
			if ev.Type.Mutates() {
				s.compiler.Invalidate()
			}
		}),
		s.bus.Subscribe("metrics", func(ev core.Event) {
			s.metrics.RecordGraphEvent(string(ev.Type))
		}),
	)
	s.graph = core.NewGraph(cat, core.WithEventBus(s.bus))
	return s
}

// Close detaches the session's own subscribers from the bus.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil
}

// Events returns the bus graph events are published on.
func (s *Session) Events() *core.EventBus { return s.bus }

// Catalog returns the component catalog.
func (s *Session) Catalog() *catalog.Catalog { return s.catalog }

// Compiler returns the session's compiler.
func (s *Session) Compiler() *compiler.Compiler { return s.compiler }

// Snapshot returns a detached copy of the current graph.
func (s *Session) Snapshot() *core.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Clone()
}

// GraphID returns the id of the current graph.
func (s *Session) GraphID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.ID
}

// Reset replaces the graph with an empty one.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = core.NewGraph(s.catalog, core.WithEventBus(s.bus))
	s.compiler.Invalidate()
	s.logger.Infow("Signature graph reset", "graph_id", s.graph.ID)
}

// Graph mutations publish one event each on success.

func (s *Session) AddNode(componentID string, params map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.AddNode(componentID, params)
}

// RemoveNode reports false when no such node exists.
func (s *Session) RemoveNode(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.RemoveNode(nodeID)
}

func (s *Session) SetParameter(nodeID, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.SetParameter(nodeID, name, value)
}

func (s *Session) MoveNode(nodeID string, pos core.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.MoveNode(nodeID, pos)
}

func (s *Session) SetNodeStatus(nodeID string, status core.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.SetNodeStatus(nodeID, status)
}

func (s *Session) Connect(fromNode, fromPort, toNode, toPort string, op core.Operator) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Connect(fromNode, fromPort, toNode, toPort, op)
}

// Disconnect reports false when no such edge exists.
func (s *Session) Disconnect(edgeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Disconnect(edgeID)
}

func (s *Session) SetOperator(edgeID string, op core.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.SetOperator(edgeID, op)
}

func (s *Session) SetMetadata(m core.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph.SetMetadata(m)
}

// Validate runs the structural validator on the current graph.
func (s *Session) Validate() core.ValidationResult {
	s.mu.RLock()
	res := core.Validate(s.graph, s.rules)
	s.mu.RUnlock()

	s.metrics.RecordValidation(len(res.Errors))
	return res
}

// Compile validates the graph and, when it has no errors, compiles it.
// An invalid graph yields a *core.ValidationError.
func (s *Session) Compile(ctx context.Context, format compiler.Format, opts compiler.Options) (*compiler.CompiledRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compileLocked(ctx, format, opts)
}

func (s *Session) compileLocked(ctx context.Context, format compiler.Format, opts compiler.Options) (*compiler.CompiledRule, error) {
	res := core.Validate(s.graph, s.rules)
	s.metrics.RecordValidation(len(res.Errors))
	if !res.IsValid {
		return nil, &core.ValidationError{Result: res}
	}
	return s.compiler.Compile(ctx, s.graph, format, opts)
}

// FormatResult is the outcome of one format in CompileAll.
type FormatResult struct {
	Format compiler.Format        `json:"format"`
	Rule   *compiler.CompiledRule `json:"rule,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// CompileAll compiles every format. A format that fails is reported in its
// result and does not stop the others; validation failure stops all.
func (s *Session) CompileAll(ctx context.Context, opts compiler.Options) ([]FormatResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FormatResult, 0, len(compiler.Formats))
	for _, f := range compiler.Formats {
		rule, err := s.compileLocked(ctx, f, opts)
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		r := FormatResult{Format: f, Rule: rule}
		if err != nil {
			r.Error = err.Error()
		}
		out = append(out, r)
	}
	return out, nil
}

// RunTest runs one simulation test on a snapshot of the graph.
func (s *Session) RunTest(ctx context.Context, t simulate.TestType) (simulate.TestResult, error) {
	return s.engine.RunTest(ctx, s.Snapshot(), t)
}

// RunAllTests runs the full simulation suite on a snapshot of the graph.
func (s *Session) RunAllTests(ctx context.Context) (*simulate.TestReport, error) {
	return s.engine.RunAll(ctx, s.Snapshot())
}

// History returns retained suite reports, oldest first.
func (s *Session) History() []simulate.TestReport {
	return s.engine.History()
}

// ClearHistory drops retained suite reports.
func (s *Session) ClearHistory() {
	s.engine.ClearHistory()
}

// Export serializes the graph to its JSON document form.
func (s *Session) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.MarshalDocument()
}

// Import replaces the graph with the one in data. Import is tolerant unless
// strict is set; everything dropped or kept without translation is returned
// as a warning.
func (s *Session) Import(data []byte, strict bool) ([]string, error) {
	doc, err := core.ParseDocument(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()
	g, warnings, err := core.Deserialize(doc, s.catalog, core.DeserializeOptions{Strict: strict}, core.WithEventBus(s.bus))
	if err != nil {
		return nil, fmt.Errorf("failed to import signature: %w", err)
	}
	s.graph = g
	s.logger.Infow("Signature imported",
		"graph_id", g.ID,
		"nodes", g.NodeCount(),
		"edges", g.EdgeCount(),
		"warnings", len(warnings),
		"duration_ms", time.Since(started).Milliseconds())
	return warnings, nil
}
