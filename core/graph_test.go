package core

import (
	"errors"
	"testing"

	"sigforge/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return NewGraph(catalog.Builtin())
}

func mustAdd(t *testing.T, g *Graph, component string, params map[string]any) string {
	t.Helper()
	id, err := g.AddNode(component, params)
	require.NoError(t, err)
	return id
}

func mustConnect(t *testing.T, g *Graph, from, to string, op Operator) string {
	t.Helper()
	id, err := g.Connect(from, "match", to, "match", op)
	require.NoError(t, err)
	return id
}

func TestAddNode_DefaultsFromCatalog(t *testing.T) {
	g := newTestGraph(t)

	id := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "evil.exe"})
	n, ok := g.Node(id)
	require.True(t, ok)

	assert.Equal(t, "node-1", id)
	assert.Equal(t, "evil.exe", n.Parameters["string"])
	assert.Equal(t, true, n.Parameters["case_sensitive"])
	assert.Equal(t, "payload", n.Parameters["field"])
	assert.Equal(t, StatusConfigured, n.Status)
}

func TestAddNode_UnknownComponent(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.AddNode("quantum-detector", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownComponent))

	var ge *GraphError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "quantum-detector", ge.ID)
	assert.Equal(t, 0, g.NodeCount())
}

func TestRemoveNode_CascadesEdges(t *testing.T) {
	g := newTestGraph(t)
	a := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "a"})
	b := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "b"})
	c := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "c"})
	mustConnect(t, g, a, b, OpAND)
	mustConnect(t, g, b, c, OpOR)
	keep := mustConnect(t, g, a, c, OpAND)

	g.RemoveNode(b)

	assert.False(t, g.HasNode(b))
	assert.Equal(t, 1, g.EdgeCount())
	_, ok := g.Edge(keep)
	assert.True(t, ok)
	for _, e := range g.Edges() {
		assert.NotEqual(t, b, e.FromNode)
		assert.NotEqual(t, b, e.ToNode)
	}
}

func TestRemoveNode_AbsentIsNoop(t *testing.T) {
	g := newTestGraph(t)
	mustAdd(t, g, catalog.Protocol, nil)
	before := g.Version()

	assert.False(t, g.RemoveNode("node-99"))

	assert.Equal(t, 1, g.NodeCount())
	assert.Equal(t, before, g.Version())
}

func TestSetParameter_StoresRawValue(t *testing.T) {
	g := newTestGraph(t)
	id := mustAdd(t, g, catalog.BytePattern, nil)

	require.NoError(t, g.SetParameter(id, "offset", "not-a-number"))
	n, _ := g.Node(id)
	assert.Equal(t, "not-a-number", n.Parameters["offset"])

	err := g.SetParameter("node-404", "offset", 1)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestConnect_InvalidEndpoints(t *testing.T) {
	g := newTestGraph(t)
	s := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "x"})
	h := mustAdd(t, g, catalog.FileHash, nil)

	tests := []struct {
		name             string
		from, fp, to, tp string
		op               Operator
		wantErr          error
	}{
		{"missing source", "node-404", "match", h, "match", OpAND, ErrInvalidEndpoint},
		{"missing target", s, "match", "node-404", "match", OpAND, ErrInvalidEndpoint},
		{"undeclared output port", s, "file", h, "file", OpAND, ErrInvalidEndpoint},
		{"undeclared input port", s, "payload", h, "payload", OpAND, ErrInvalidEndpoint},
		{"bad operator", s, "match", h, "match", Operator("IMPLIES"), ErrInvalidOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Connect(tt.from, tt.fp, tt.to, tt.tp, tt.op)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, g.EdgeCount())
}

func TestConnect_DefaultsToAND(t *testing.T) {
	g := newTestGraph(t)
	a := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "a"})
	b := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "b"})

	id, err := g.Connect(a, "match", b, "match", "")
	require.NoError(t, err)
	e, _ := g.Edge(id)
	assert.Equal(t, OpAND, e.Operator)
}

func TestConnect_AllowsCyclesAndDuplicates(t *testing.T) {
	g := newTestGraph(t)
	a := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "a"})
	b := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "b"})

	mustConnect(t, g, a, b, OpAND)
	mustConnect(t, g, a, b, OpOR)
	mustConnect(t, g, b, a, OpAND)
	assert.Equal(t, 3, g.EdgeCount())
}

func TestDisconnectAndSetOperator(t *testing.T) {
	g := newTestGraph(t)
	a := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "a"})
	b := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "b"})
	e := mustConnect(t, g, a, b, OpAND)

	require.NoError(t, g.SetOperator(e, OpXOR))
	edge, _ := g.Edge(e)
	assert.Equal(t, OpXOR, edge.Operator)

	assert.ErrorIs(t, g.SetOperator("edge-404", OpOR), ErrEdgeNotFound)
	assert.ErrorIs(t, g.SetOperator(e, "MAYBE"), ErrInvalidOperator)

	assert.True(t, g.Disconnect(e))
	assert.False(t, g.Disconnect(e))
	assert.Equal(t, 0, g.EdgeCount())
}

func TestVersion_IgnoresPresentationChanges(t *testing.T) {
	g := newTestGraph(t)
	id := mustAdd(t, g, catalog.Protocol, nil)
	v := g.Version()

	require.NoError(t, g.MoveNode(id, Position{X: 10, Y: 20}))
	require.NoError(t, g.SetNodeStatus(id, StatusRunning))
	assert.Equal(t, v, g.Version())

	require.NoError(t, g.SetParameter(id, "protocol", "udp"))
	assert.Greater(t, g.Version(), v)
}

func TestNodes_InsertionOrderAndCopies(t *testing.T) {
	g := newTestGraph(t)
	first := mustAdd(t, g, catalog.Protocol, nil)
	second := mustAdd(t, g, catalog.DNSQuery, map[string]any{"domain": "evil.example"})

	nodes := g.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, first, nodes[0].ID)
	assert.Equal(t, second, nodes[1].ID)

	nodes[0].Parameters["protocol"] = "icmp"
	n, _ := g.Node(first)
	assert.Equal(t, "tcp", n.Parameters["protocol"], "returned nodes must not alias graph state")
}

func TestClone_IsIndependent(t *testing.T) {
	g := newTestGraph(t)
	a := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "a"})
	b := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "b"})
	mustConnect(t, g, a, b, OpOR)

	c := g.Clone()
	require.NoError(t, g.SetParameter(a, "string", "changed"))
	g.RemoveNode(b)

	n, _ := c.Node(a)
	assert.Equal(t, "a", n.Parameters["string"])
	assert.Equal(t, 2, c.NodeCount())
	assert.Equal(t, 1, c.EdgeCount())
	assert.Equal(t, g.ID, c.ID)
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("nand")
	require.NoError(t, err)
	assert.Equal(t, OpNAND, op)

	op, err = ParseOperator("")
	require.NoError(t, err)
	assert.Equal(t, OpAND, op)

	_, err = ParseOperator("IMPLIES")
	assert.ErrorIs(t, err, ErrInvalidOperator)
}

func TestContentHash(t *testing.T) {
	g := newTestGraph(t)
	a := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "a"})
	h1 := g.ContentHash()

	require.NoError(t, g.MoveNode(a, Position{X: 5}))
	assert.Equal(t, h1, g.ContentHash(), "position must not affect the hash")

	require.NoError(t, g.SetParameter(a, "string", "b"))
	assert.NotEqual(t, h1, g.ContentHash())
}

func TestEstimatePerformance(t *testing.T) {
	g := newTestGraph(t)
	a := mustAdd(t, g, catalog.IPAddress, map[string]any{"address": "10.0.0.1"})
	b := mustAdd(t, g, catalog.StringMatch, map[string]any{"string": "x"})
	c := mustAdd(t, g, catalog.BehavioralIndicator, map[string]any{"behavior": "persistence"})
	mustConnect(t, g, a, b, OpAND)
	_, err := g.Connect(b, "match", c, "match", OpAND)
	require.NoError(t, err)

	est := EstimatePerformance(g)
	// 10 base + 5 network + 20 content + 30 behavioral + 2*2 edges
	assert.InDelta(t, 69.0, est.EstimatedMs, 0.001)
	assert.Equal(t, ComplexitySimple, est.Complexity)
}

func TestComplexityClass(t *testing.T) {
	assert.Equal(t, ComplexitySimple, ComplexityClass(3, 2))
	assert.Equal(t, ComplexityMedium, ComplexityClass(5, 6))
	assert.Equal(t, ComplexityComplex, ComplexityClass(12, 15))
	assert.Equal(t, ComplexityVeryComplex, ComplexityClass(16, 4))
}
