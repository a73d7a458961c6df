package simulate

import (
	"context"
	"net"
	"testing"

	"sigforge/catalog"
	"sigforge/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runOne(t *testing.T, g *core.Graph, tt TestType) TestResult {
	t.Helper()
	res, err := newTestEngine(t, Config{}).RunTest(context.Background(), g, tt)
	require.NoError(t, err)
	return res
}

func TestRuleSyntax_Scores(t *testing.T) {
	tests := []struct {
		name   string
		meta   core.Metadata
		nodes  int
		score  int
		status Status
	}{
		{
			name:   "complete",
			meta:   core.Metadata{Name: "Beacon", Type: core.RuleDetection, Priority: core.PriorityLow},
			nodes:  1,
			score:  100,
			status: StatusPassed,
		},
		{
			name:   "short name only warns",
			meta:   core.Metadata{Name: "ab", Type: core.RuleDetection, Priority: core.PriorityLow},
			nodes:  1,
			score:  100,
			status: StatusWarning,
		},
		{
			name:   "missing everything",
			meta:   core.Metadata{},
			nodes:  1,
			score:  55,
			status: StatusFailed,
		},
		{
			name:   "no components",
			meta:   core.Metadata{Name: "Beacon", Type: core.RuleMonitoring, Priority: core.PriorityHigh},
			nodes:  0,
			score:  70,
			status: StatusFailed,
		},
		{
			name:   "unconnected components",
			meta:   core.Metadata{Name: "Beacon", Type: core.RuleAnalysis, Priority: core.PriorityCritical},
			nodes:  3,
			score:  85,
			status: StatusWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := core.NewGraph(catalog.Builtin())
			g.SetMetadata(tt.meta)
			for i := 0; i < tt.nodes; i++ {
				addNode(t, g, catalog.Protocol, nil)
			}

			res := runOne(t, g, TestRuleSyntax)
			assert.Equal(t, tt.score, res.Metrics["syntaxScore"])
			assert.Equal(t, tt.status, res.Status)
		})
	}
}

func TestLogicValidation_CycleAndOrphan(t *testing.T) {
	g := core.NewGraph(catalog.Builtin())
	a := addNode(t, g, catalog.StringMatch, map[string]any{"string": "a"})
	b := addNode(t, g, catalog.StringMatch, map[string]any{"string": "b"})
	addNode(t, g, catalog.StringMatch, map[string]any{"string": "c"})
	connect(t, g, a, b, core.OpAND)
	connect(t, g, b, a, core.OpOR)

	res := runOne(t, g, TestLogicValidation)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 55, res.Metrics["logicScore"])
	assert.Equal(t, true, res.Metrics["hasCycle"])
	assert.Equal(t, 1, res.Metrics["orphanCount"])
	assert.Equal(t, []string{"node-3"}, res.Metrics["orphans"])
	assert.Contains(t, res.Errors[0], "cycle detected")
}

func TestLogicValidation_InvalidPort(t *testing.T) {
	doc := core.Document{
		Version: core.DocumentVersion,
		Nodes: []core.Node{
			{ID: "node-1", ComponentID: catalog.StringMatch, Parameters: map[string]any{"string": "a"}},
			{ID: "node-2", ComponentID: catalog.StringMatch, Parameters: map[string]any{"string": "b"}},
		},
		Edges: []core.Edge{
			{ID: "edge-1", FromNode: "node-1", FromPort: "bogus", ToNode: "node-2", ToPort: "match", Operator: core.OpAND},
		},
	}
	g, _, err := core.Deserialize(doc, catalog.Builtin(), core.DeserializeOptions{})
	require.NoError(t, err)

	res := runOne(t, g, TestLogicValidation)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 90, res.Metrics["logicScore"])
	assert.Equal(t, 1, res.Metrics["invalidEdgeCount"])
	assert.Contains(t, res.Errors[0], "has no output bogus")
}

func TestLogicValidation_SingleNodeIsNotOrphan(t *testing.T) {
	g := core.NewGraph(catalog.Builtin())
	addNode(t, g, catalog.DNSQuery, map[string]any{"domain": "evil.example"})

	res := runOne(t, g, TestLogicValidation)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, 100, res.Metrics["logicScore"])
	assert.Equal(t, "node-1", res.Metrics["expression"])
}

func TestPerformance_Threshold(t *testing.T) {
	g := webGraph(t)

	res := runOne(t, g, TestPerformance)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, 44.0, res.Metrics["estimatedMs"])
	assert.Equal(t, core.ComplexitySimple, res.Metrics["complexity"])

	strict, err := newTestEngine(t, Config{PerformanceThresholdMs: 20}).RunTest(context.Background(), g, TestPerformance)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, strict.Status)
	assert.Contains(t, strict.Warnings[0], "exceeds the 20ms threshold")
}

func TestIndicatorRisk(t *testing.T) {
	_, slash8, _ := net.ParseCIDR("10.0.0.0/8")
	_, slash24, _ := net.ParseCIDR("10.1.2.0/24")

	tests := []struct {
		name string
		ind  core.Indicator
		want float64
	}{
		{"wildcard ip", core.IPIndicator{Address: "any"}, 0.8},
		{"single ip", core.IPIndicator{Address: "192.0.2.1"}, 0.05},
		{"/24", core.IPIndicator{Address: "10.1.2.0/24", Network: slash24}, 0.1},
		{"/8", core.IPIndicator{Address: "10.0.0.0/8", Network: slash8}, 0.6},
		{"single port", core.PortIndicator{Low: 443, High: 443}, 0.15},
		{"port range", core.PortIndicator{Low: 0, High: 65535}, 0.5},
		{"short string", core.StringIndicator{Value: "ab", CaseSensitive: true}, 0.6},
		{"long string", core.StringIndicator{Value: "mimikatz.exe", CaseSensitive: true}, 0.1},
		{"hash", core.HashIndicator{Value: "abc"}, 0.01},
		{"common process", core.ProcessIndicator{Process: "cmd.exe"}, 0.4},
		{"common process with command line", core.ProcessIndicator{Process: "cmd.exe", CommandLine: "/c"}, 0.2},
		{"extension", core.ExtensionIndicator{}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IndicatorRisk(tt.ind), 1e-9)
		})
	}
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, RiskLow, RiskLevel(0))
	assert.Equal(t, RiskLow, RiskLevel(0.099))
	assert.Equal(t, RiskMedium, RiskLevel(0.1))
	assert.Equal(t, RiskMedium, RiskLevel(0.29))
	assert.Equal(t, RiskHigh, RiskLevel(0.3))
}

func TestFalsePositive_BroadGraphWarns(t *testing.T) {
	g := core.NewGraph(catalog.Builtin())
	addNode(t, g, catalog.Protocol, map[string]any{"protocol": "tcp"})
	addNode(t, g, catalog.StringMatch, map[string]any{"string": "ok"})

	res := runOne(t, g, TestFalsePositive)
	assert.Equal(t, StatusWarning, res.Status)
	assert.Equal(t, RiskHigh, res.Metrics["riskLevel"])
	assert.Equal(t, []string{"node-1", "node-2"}, res.Metrics["highRiskComponents"])
}

func TestCoverageScore(t *testing.T) {
	assert.Equal(t, 0.0, CoverageScore(0, 0))
	assert.Equal(t, 0.5, CoverageScore(1, 1))
	assert.Equal(t, 0.75, CoverageScore(2, 1))
	assert.Equal(t, 1.0, CoverageScore(3, 2))
}

func TestCoverage_StrengthsAndGaps(t *testing.T) {
	res := runOne(t, webGraph(t), TestCoverage)

	assert.Equal(t, StatusWarning, res.Status)
	assert.Equal(t, []string{"network"}, res.Metrics["strengths"])
	assert.Equal(t, []string{"behavioral", "file", "temporal"}, res.Metrics["gaps"])
	scores := res.Metrics["categoryScores"].(map[string]float64)
	assert.Equal(t, 1.0, scores["network"])
	assert.Equal(t, 0.5, scores["content"])
	assert.Equal(t, 0.3, res.Metrics["overallCoverage"])
}
