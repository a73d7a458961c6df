package simulate

import (
	"context"
	"math"
	"sort"
	"strings"

	"sigforge/catalog"
	"sigforge/compiler"
	"sigforge/core"
)

// Score penalties for rule-syntax.
const (
	penaltyName          = 20
	penaltyType          = 15
	penaltyPriority      = 10
	penaltyNoComponents  = 30
	penaltyNoConnections = 15
)

// Score penalties for logic-validation.
const (
	penaltyCycle       = 40
	penaltyOrphan      = 5
	penaltyInvalidEdge = 10
)

// Risk levels for false-positive.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	riskMediumAt = 0.1
	riskHighAt   = 0.3
)

// Coverage thresholds.
const (
	coverageStrength = 0.7
	coverageGap      = 0.3
)

// CoverageCategories are the threat categories coverage-analysis scores.
var CoverageCategories = []catalog.Category{
	catalog.CategoryNetwork,
	catalog.CategoryContent,
	catalog.CategoryFile,
	catalog.CategoryBehavioral,
	catalog.CategoryTemporal,
}

func (e *Engine) componentValidation(_ context.Context, g *core.Graph, r *TestResult) {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		r.warnf("signature has no components to validate")
	}

	var invalid, unknown []string
	for _, n := range nodes {
		def, ok := g.Definition(n)
		if !ok {
			unknown = append(unknown, n.ID)
			r.warnf("%s uses unknown component %q; its parameters are not checked", n.ID, n.ComponentID)
			continue
		}

		bad := false
		for _, issue := range core.CheckParameters(def, n.Parameters) {
			if issue.Severe {
				bad = true
				r.errorf("%s: %s", g.Label(n.ID), issue.Message)
			} else {
				r.warnf("%s: %s", g.Label(n.ID), issue.Message)
			}
		}
		if !bad {
			if _, err := core.DecodeIndicator(n, def); err != nil {
				bad = true
				r.errorf("%s: %v", g.Label(n.ID), err)
			}
		}
		if bad {
			invalid = append(invalid, n.ID)
		}
	}

	r.Metrics["totalComponents"] = len(nodes)
	r.Metrics["validComponents"] = len(nodes) - len(invalid) - len(unknown)
	r.Metrics["invalidComponents"] = len(invalid)
	r.Metrics["unknownComponents"] = len(unknown)
	r.Metrics["invalidNodes"] = nonNil(invalid)
}

func (e *Engine) ruleSyntax(_ context.Context, g *core.Graph, r *TestResult) {
	meta := g.Metadata()
	score := 100

	name := strings.TrimSpace(meta.Name)
	switch {
	case name == "":
		r.errorf("rule name is required")
		score -= penaltyName
	case len([]rune(name)) < 3:
		r.warnf("rule name %q is shorter than 3 characters", name)
	}
	if !meta.Type.Valid() {
		r.errorf("rule type %q is not one of detection, prevention, monitoring, analysis", meta.Type)
		score -= penaltyType
	}
	if !meta.Priority.Valid() {
		r.errorf("rule priority %q is not one of low, medium, high, critical", meta.Priority)
		score -= penaltyPriority
	}
	if g.NodeCount() == 0 {
		r.errorf("signature has no components")
		score -= penaltyNoComponents
	}
	if g.NodeCount() > 1 && g.EdgeCount() == 0 {
		r.warnf("signature has %d components but no connections; they are joined with AND", g.NodeCount())
		score -= penaltyNoConnections
	}

	if score < 0 {
		score = 0
	}
	r.Metrics["syntaxScore"] = score
	r.Metrics["nameLength"] = len([]rune(name))
}

func (e *Engine) logicValidation(_ context.Context, g *core.Graph, r *TestResult) {
	score := 100

	cycle, hasCycle := core.FindCycle(g)
	if hasCycle {
		r.errorf("cycle detected: %s closes a loop (%s)", g.Label(cycle.ClosingNode), strings.Join(cycle.Path, " -> "))
		score -= penaltyCycle
	}

	var orphans []string
	if g.NodeCount() > 1 {
		for _, n := range g.Nodes() {
			if g.InDegree(n.ID) == 0 && g.OutDegree(n.ID) == 0 {
				orphans = append(orphans, n.ID)
				r.warnf("%s is not connected to any other component", g.Label(n.ID))
			}
		}
	}
	score -= penaltyOrphan * len(orphans)

	invalidEdges := 0
	for _, edge := range g.Edges() {
		if msg := edgeProblem(g, edge); msg != "" {
			invalidEdges++
			r.errorf("connection %s: %s", edge.ID, msg)
		}
	}
	score -= penaltyInvalidEdge * invalidEdges

	if score < 0 {
		score = 0
	}
	r.Metrics["logicScore"] = score
	r.Metrics["hasCycle"] = hasCycle
	r.Metrics["orphanCount"] = len(orphans)
	r.Metrics["orphans"] = nonNil(orphans)
	r.Metrics["invalidEdgeCount"] = invalidEdges
	r.Metrics["expression"] = compiler.Linearize(g).String()
	r.Metrics["dominantOperator"] = string(compiler.DominantOperator(g.Edges()))
}

func edgeProblem(g *core.Graph, e core.Edge) string {
	from, okFrom := g.Node(e.FromNode)
	to, okTo := g.Node(e.ToNode)
	switch {
	case !okFrom:
		return "source component " + e.FromNode + " does not exist"
	case !okTo:
		return "target component " + e.ToNode + " does not exist"
	}
	if def, ok := g.Definition(from); ok && !def.HasOutput(e.FromPort) {
		return g.Label(from.ID) + " has no output " + e.FromPort
	}
	if def, ok := g.Definition(to); ok && !def.HasInput(e.ToPort) {
		return g.Label(to.ID) + " has no input " + e.ToPort
	}
	if !e.Operator.Valid() {
		return "operator " + string(e.Operator) + " is not valid"
	}
	return ""
}

func (e *Engine) performance(_ context.Context, g *core.Graph, r *TestResult) {
	est := core.EstimatePerformance(g)
	if est.EstimatedMs > e.cfg.PerformanceThresholdMs {
		r.warnf("estimated processing time %.0fms exceeds the %.0fms threshold", est.EstimatedMs, e.cfg.PerformanceThresholdMs)
	}
	costs := make(map[string]float64, len(est.CategoryCostMs))
	for cat, ms := range est.CategoryCostMs {
		costs[string(cat)] = ms
	}
	r.Metrics["estimatedMs"] = est.EstimatedMs
	r.Metrics["thresholdMs"] = e.cfg.PerformanceThresholdMs
	r.Metrics["complexity"] = est.Complexity
	r.Metrics["nodeCount"] = est.NodeCount
	r.Metrics["edgeCount"] = est.EdgeCount
	r.Metrics["categoryCostMs"] = costs
}

func (e *Engine) falsePositive(_ context.Context, g *core.Graph, r *TestResult) {
	indicators, problems := core.DecodeAll(g)
	for _, p := range problems {
		r.warnf("%s", p)
	}

	perNode := make(map[string]float64, len(indicators))
	var risky []string
	total := 0.0
	for _, ind := range indicators {
		score := IndicatorRisk(ind)
		id := ind.NodeRef().NodeID
		perNode[id] = score
		total += score
		if score >= riskHighAt {
			risky = append(risky, id)
		}
	}

	risk := 0.0
	if len(indicators) > 0 {
		risk = round(total / float64(len(indicators)))
	}
	level := RiskLevel(risk)
	if level == RiskHigh {
		r.warnf("false positive risk is high (%.2f); broad components: %s", risk, strings.Join(risky, ", "))
	}

	r.Metrics["riskScore"] = risk
	r.Metrics["riskLevel"] = level
	r.Metrics["componentRisk"] = perNode
	r.Metrics["highRiskComponents"] = nonNil(risky)
}

// RiskLevel buckets an averaged risk score.
func RiskLevel(score float64) string {
	switch {
	case score < riskMediumAt:
		return RiskLow
	case score < riskHighAt:
		return RiskMedium
	}
	return RiskHigh
}

var commonProcesses = map[string]bool{
	"svchost.exe":    true,
	"explorer.exe":   true,
	"cmd.exe":        true,
	"powershell.exe": true,
	"rundll32.exe":   true,
	"chrome.exe":     true,
	"bash":           true,
	"sh":             true,
}

// IndicatorRisk scores how likely a single component is to match benign
// traffic, from 0 (never) to 1 (always).
func IndicatorRisk(ind core.Indicator) float64 {
	switch v := ind.(type) {
	case core.IPIndicator:
		if v.Address == "" || v.Address == "any" {
			return 0.8
		}
		if v.Network != nil {
			ones, bits := v.Network.Mask.Size()
			switch host := bits - ones; {
			case host == 0:
				return 0.05
			case host <= 8:
				return 0.1
			case host <= 16:
				return 0.3
			default:
				return 0.6
			}
		}
		return 0.05
	case core.PortIndicator:
		switch width := v.High - v.Low; {
		case width == 0:
			return 0.15
		case width <= 1024:
			return 0.25
		default:
			return 0.5
		}
	case core.ProtocolIndicator:
		return 0.6
	case core.DNSIndicator:
		return 0.1
	case core.StringIndicator:
		risk := 0.1
		switch n := len(v.Value); {
		case n < 4:
			risk = 0.6
		case n < 8:
			risk = 0.3
		}
		if !v.CaseSensitive {
			risk += 0.05
		}
		return math.Min(risk, 1)
	case core.RegexIndicator:
		if strings.Contains(v.Pattern, ".*") || strings.Contains(v.Pattern, ".+") {
			return 0.45
		}
		return 0.25
	case core.BytesIndicator:
		switch n := len(v.Bytes); {
		case n < 2:
			return 0.5
		case n < 4:
			return 0.2
		}
		return 0.05
	case core.HeaderIndicator:
		return 0.2
	case core.HashIndicator:
		return 0.01
	case core.FileSizeIndicator:
		return 0.4
	case core.ProcessIndicator:
		risk := 0.15
		if commonProcesses[strings.ToLower(v.Process)] {
			risk = 0.4
		}
		if v.CommandLine != "" {
			risk /= 2
		}
		return risk
	case core.RegistryIndicator:
		return 0.2
	case core.BehaviorIndicator:
		if v.Threshold > 1 {
			return 0.15
		}
		return 0.3
	case core.TimeWindowIndicator:
		return 0.05
	}
	return 0.5
}

func (e *Engine) coverage(_ context.Context, g *core.Graph, r *TestResult) {
	counts := make(map[catalog.Category]int)
	kinds := make(map[catalog.Category]map[string]bool)
	for _, n := range g.Nodes() {
		def, ok := g.Definition(n)
		if !ok {
			continue
		}
		counts[def.Category]++
		if kinds[def.Category] == nil {
			kinds[def.Category] = make(map[string]bool)
		}
		kinds[def.Category][n.ComponentID] = true
	}

	categories := append([]catalog.Category(nil), CoverageCategories...)
	for cat := range counts {
		if !containsCategory(categories, cat) {
			categories = append(categories, cat)
		}
	}

	scores := make(map[string]float64, len(categories))
	var strengths, gaps []string
	sum := 0.0
	for _, cat := range categories {
		s := CoverageScore(counts[cat], len(kinds[cat]))
		scores[string(cat)] = s
		sum += s
		switch {
		case s > coverageStrength:
			strengths = append(strengths, string(cat))
		case s < coverageGap && containsCategory(CoverageCategories, cat):
			gaps = append(gaps, string(cat))
		}
	}
	sort.Strings(strengths)
	sort.Strings(gaps)

	if len(gaps) > 0 {
		r.warnf("no or weak coverage for: %s", strings.Join(gaps, ", "))
	}
	r.Metrics["categoryScores"] = scores
	r.Metrics["strengths"] = nonNil(strengths)
	r.Metrics["gaps"] = nonNil(gaps)
	r.Metrics["overallCoverage"] = round(sum / float64(len(categories)))
}

// CoverageScore rates one category from the number of components in it
// and how many distinct component types they use.
func CoverageScore(count, distinct int) float64 {
	return math.Min(1, 0.25*float64(count)+0.25*float64(distinct))
}

func containsCategory(list []catalog.Category, c catalog.Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
