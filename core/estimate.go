package core

import "sigforge/catalog"

// Performance cost model, in milliseconds.
const (
	BaseCostMs    = 10.0
	EdgeCostMs    = 2.0
	defaultCostMs = 10.0
)

var categoryCostMs = map[catalog.Category]float64{
	catalog.CategoryNetwork:    5,
	catalog.CategoryFile:       15,
	catalog.CategoryContent:    20,
	catalog.CategoryBehavioral: 30,
	catalog.CategoryTemporal:   10,
}

// Complexity classes.
const (
	ComplexitySimple      = "simple"
	ComplexityMedium      = "medium"
	ComplexityComplex     = "complex"
	ComplexityVeryComplex = "very_complex"
)

// PerformanceEstimate is a heuristic evaluation cost for one event.
type PerformanceEstimate struct {
	EstimatedMs    float64                      `json:"estimatedMs"`
	Complexity     string                       `json:"complexity"`
	NodeCount      int                          `json:"nodeCount"`
	EdgeCount      int                          `json:"edgeCount"`
	CategoryCostMs map[catalog.Category]float64 `json:"categoryCostMs"`
}

// CategoryCost returns the per-node cost for a category.
func CategoryCost(c catalog.Category) float64 {
	if cost, ok := categoryCostMs[c]; ok {
		return cost
	}
	return defaultCostMs
}

// EstimatePerformance sums the base cost, a per-node cost by category and a
// per-edge cost.
func EstimatePerformance(g *Graph) PerformanceEstimate {
	est := PerformanceEstimate{
		EstimatedMs:    BaseCostMs,
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		CategoryCostMs: make(map[catalog.Category]float64),
	}
	for _, n := range g.Nodes() {
		var cat catalog.Category
		if def, ok := g.Definition(n); ok {
			cat = def.Category
		}
		cost := CategoryCost(cat)
		est.EstimatedMs += cost
		if cat != "" {
			est.CategoryCostMs[cat] += cost
		}
	}
	est.EstimatedMs += EdgeCostMs * float64(est.EdgeCount)
	est.Complexity = ComplexityClass(est.NodeCount, est.EdgeCount)
	return est
}

// ComplexityClass buckets a graph by size.
func ComplexityClass(nodes, edges int) string {
	switch {
	case nodes <= 3 && edges <= 2:
		return ComplexitySimple
	case nodes <= 7 && edges <= 8:
		return ComplexityMedium
	case nodes <= 15 && edges <= 20:
		return ComplexityComplex
	default:
		return ComplexityVeryComplex
	}
}
