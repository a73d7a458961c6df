package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sigforge/catalog"
	"sigforge/compiler"
	"sigforge/core"
	"sigforge/metrics"
	"sigforge/simulate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	c, err := compiler.New(compiler.WithLogger(logger))
	require.NoError(t, err)
	e := simulate.New(simulate.Config{SampleCount: 50}, c, simulate.WithLogger(logger))
	s := NewSession(catalog.Builtin(), c, e, append([]Option{WithLogger(logger)}, opts...)...)
	t.Cleanup(s.Close)
	return s
}

func mustAdd(t *testing.T, s *Session, component string, params map[string]any) string {
	t.Helper()
	id, err := s.AddNode(component, params)
	require.NoError(t, err)
	return id
}

func TestSession_CompileRefusesInvalidGraph(t *testing.T) {
	s := newTestSession(t)
	a := mustAdd(t, s, catalog.StringMatch, map[string]any{"string": "a"})
	b := mustAdd(t, s, catalog.StringMatch, map[string]any{"string": "b"})
	_, err := s.Connect(a, "match", b, "match", core.OpAND)
	require.NoError(t, err)
	_, err = s.Connect(b, "match", a, "match", core.OpAND)
	require.NoError(t, err)

	_, err = s.Compile(context.Background(), compiler.FormatYARA, compiler.Options{})
	require.ErrorIs(t, err, core.ErrValidationFailed)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.False(t, verr.Result.IsValid)
	assert.Contains(t, verr.Result.Errors[0], "String Match")

	_, err = s.CompileAll(context.Background(), compiler.Options{})
	assert.ErrorIs(t, err, core.ErrValidationFailed)
}

func TestSession_MutationInvalidatesCache(t *testing.T) {
	s := newTestSession(t)
	id := mustAdd(t, s, catalog.StringMatch, map[string]any{"string": "evil.exe"})
	ctx := context.Background()

	first, err := s.Compile(ctx, compiler.FormatYARA, compiler.Options{})
	require.NoError(t, err)
	again, err := s.Compile(ctx, compiler.FormatYARA, compiler.Options{})
	require.NoError(t, err)
	assert.True(t, again.Cached)

	require.NoError(t, s.MoveNode(id, core.Position{X: 10, Y: 20}))
	moved, err := s.Compile(ctx, compiler.FormatYARA, compiler.Options{})
	require.NoError(t, err)
	assert.True(t, moved.Cached, "presentation changes keep the cache")

	require.NoError(t, s.SetParameter(id, "string", "other.exe"))
	changed, err := s.Compile(ctx, compiler.FormatYARA, compiler.Options{})
	require.NoError(t, err)
	assert.False(t, changed.Cached)
	assert.NotEqual(t, first.Text, changed.Text)
	assert.Contains(t, changed.Text, "other.exe")
}

func TestSession_EventsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestSession(t, WithMetrics(metrics.New(reg)))

	var (
		mu   sync.Mutex
		seen []core.EventType
	)
	unsub := s.Events().Subscribe("test", func(ev core.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
	})
	defer unsub()

	a := mustAdd(t, s, catalog.Protocol, nil)
	b := mustAdd(t, s, catalog.PortRange, map[string]any{"port": "53"})
	edge, err := s.Connect(a, "match", b, "match", core.OpOR)
	require.NoError(t, err)
	require.NoError(t, s.SetOperator(edge, core.OpAND))
	assert.True(t, s.Disconnect(edge))
	assert.True(t, s.RemoveNode(b))

	assert.Equal(t, []core.EventType{
		core.EventNodeAdded,
		core.EventNodeAdded,
		core.EventEdgeAdded,
		core.EventOperatorChanged,
		core.EventEdgeRemoved,
		core.EventNodeRemoved,
	}, seen)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.GraphMutations.WithLabelValues(string(core.EventNodeAdded))))

	s.Validate()
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ValidationRuns))
}

func TestSession_RemovalReportsExistence(t *testing.T) {
	s := newTestSession(t)
	a := mustAdd(t, s, catalog.Protocol, nil)
	b := mustAdd(t, s, catalog.PortRange, map[string]any{"port": "53"})
	edge, err := s.Connect(a, "match", b, "match", core.OpAND)
	require.NoError(t, err)

	tests := []struct {
		name   string
		remove func() bool
		want   bool
	}{
		{"edge", func() bool { return s.Disconnect(edge) }, true},
		{"edge again", func() bool { return s.Disconnect(edge) }, false},
		{"unknown edge", func() bool { return s.Disconnect("edge-404") }, false},
		{"node", func() bool { return s.RemoveNode(b) }, true},
		{"node again", func() bool { return s.RemoveNode(b) }, false},
		{"unknown node", func() bool { return s.RemoveNode("node-404") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.remove())
		})
	}
}

func TestSession_ConcurrentRemoveHasOneWinner(t *testing.T) {
	s := newTestSession(t)
	id := mustAdd(t, s, catalog.Protocol, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.RemoveNode(id) {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, removed)
	assert.Zero(t, s.Snapshot().NodeCount())
}

func TestSession_ExportImport(t *testing.T) {
	s := newTestSession(t)
	a := mustAdd(t, s, catalog.DNSQuery, map[string]any{"domain": "bad.example"})
	b := mustAdd(t, s, catalog.StringMatch, map[string]any{"string": "token="})
	_, err := s.Connect(a, "match", b, "match", core.OpAND)
	require.NoError(t, err)
	s.SetMetadata(core.Metadata{Name: "Exfil", Type: core.RuleDetection, Priority: core.PriorityHigh})

	data, err := s.Export()
	require.NoError(t, err)

	other := newTestSession(t)
	warnings, err := other.Import(data, false)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, s.GraphID(), other.GraphID())
	assert.Equal(t, s.Snapshot().ContentHash(), other.Snapshot().ContentHash())

	// New nodes continue after imported ids.
	id := mustAdd(t, other, catalog.Protocol, nil)
	assert.Equal(t, "node-3", id)
}

func TestSession_ImportTolerance(t *testing.T) {
	doc := []byte(`{
		"version": 1,
		"nodes": [
			{"id": "node-1", "componentId": "string-match", "parameters": {"string": "x"}},
			{"id": "node-2", "componentId": "quantum-sensor"}
		],
		"edges": [
			{"id": "edge-1", "fromNode": "node-1", "toNode": "node-9", "fromPort": "match", "toPort": "match", "operator": "AND"}
		]
	}`)

	s := newTestSession(t)
	warnings, err := s.Import(doc, false)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "quantum-sensor")
	assert.Contains(t, warnings[1], "edge-1 dropped")

	rule, err := s.Compile(context.Background(), compiler.FormatJSON, compiler.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.Warnings)

	_, err = s.Import(doc, true)
	assert.ErrorIs(t, err, core.ErrMalformedDocument)

	_, err = s.Import([]byte(`{"nodes": "nope"}`), false)
	assert.ErrorIs(t, err, core.ErrMalformedDocument)
}

func TestSession_CompileAllAndTests(t *testing.T) {
	s := newTestSession(t)
	a := mustAdd(t, s, catalog.IPAddress, map[string]any{"address": "198.51.100.4", "direction": "dst"})
	b := mustAdd(t, s, catalog.StringMatch, map[string]any{"string": "/admin.php"})
	_, err := s.Connect(a, "match", b, "match", core.OpAND)
	require.NoError(t, err)
	ctx := context.Background()

	results, err := s.CompileAll(ctx, compiler.Options{DryRun: true})
	require.NoError(t, err)
	require.Len(t, results, len(compiler.Formats))
	for _, r := range results {
		assert.Empty(t, r.Error, r.Format)
		assert.NotEmpty(t, r.Rule.Text, r.Format)
	}

	res, err := s.RunTest(ctx, simulate.TestLogicValidation)
	require.NoError(t, err)
	assert.Equal(t, simulate.StatusPassed, res.Status)

	report, err := s.RunAllTests(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Results, len(simulate.Suite))
	assert.Equal(t, s.GraphID(), report.GraphID)
	assert.Len(t, s.History(), 1)

	s.ClearHistory()
	assert.Empty(t, s.History())
}

func TestSession_ResetAndConcurrentAccess(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.AddNode(catalog.StringMatch, map[string]any{"string": "payload"})
		}()
		go func() {
			defer wg.Done()
			s.Validate()
			_, _ = s.Compile(ctx, compiler.FormatSplunk, compiler.Options{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.Snapshot().NodeCount())

	before := s.GraphID()
	s.Reset()
	assert.NotEqual(t, before, s.GraphID())
	assert.Zero(t, s.Snapshot().NodeCount())
}
