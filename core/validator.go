package core

import (
	"fmt"
	"strings"
)

// ValidationRules tunes the structural checks.
type ValidationRules struct {
	AllowSelfConnection      bool `json:"allowSelfConnection" mapstructure:"allow_self_connection"`
	AllowMultipleConnections bool `json:"allowMultipleConnections" mapstructure:"allow_multiple_connections"`
	AllowCycles              bool `json:"allowCycles" mapstructure:"allow_cycles"`
	MaxInputConnections      int  `json:"maxInputConnections" mapstructure:"max_input_connections"`
	MaxOutputConnections     int  `json:"maxOutputConnections" mapstructure:"max_output_connections"`
}

// DefaultRules disallows self loops, duplicate pairs and cycles and caps
// each node at 10 incoming and 10 outgoing edges.
func DefaultRules() ValidationRules {
	return ValidationRules{
		MaxInputConnections:  10,
		MaxOutputConnections: 10,
	}
}

// ValidationResult collects everything wrong with a graph.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	// InvalidNodes lists nodes with at least one parameter error.
	InvalidNodes []string `json:"invalidNodes,omitempty"`
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks g against rules. It never mutates g, so repeated calls on
// an unchanged graph return identical results.
func Validate(g *Graph, rules ValidationRules) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}

	if g.NodeCount() == 0 {
		res.addWarning("signature has no components")
	}

	if !rules.AllowCycles {
		if c, found := FindCycle(g); found {
			res.addError("cycle detected: %s closes a loop (%s)", g.label(c.ClosingNode), strings.Join(c.Path, " -> "))
		}
	}

	validateEdges(g, rules, &res)
	validateConnectionCounts(g, rules, &res)
	validateNodes(g, &res)

	res.IsValid = len(res.Errors) == 0
	return res
}

func validateEdges(g *Graph, rules ValidationRules, res *ValidationResult) {
	seen := make(map[[2]string]bool)
	for _, e := range g.Edges() {
		from, okFrom := g.Node(e.FromNode)
		to, okTo := g.Node(e.ToNode)
		if !okFrom || !okTo {
			res.addError("connection %s references a missing component", e.ID)
			continue
		}

		if e.FromNode == e.ToNode && !rules.AllowSelfConnection {
			res.addError("connection %s connects %s to itself", e.ID, g.label(e.FromNode))
		}

		if def, ok := g.Definition(to); ok && !def.HasInput(e.FromPort) {
			res.addError("connection %s: output %q of %s is not compatible with the inputs of %s (%s)",
				e.ID, e.FromPort, g.label(from.ID), g.label(to.ID), strings.Join(def.Inputs, ", "))
		}

		pair := [2]string{e.FromNode, e.ToNode}
		if seen[pair] && !rules.AllowMultipleConnections {
			res.addError("duplicate connection from %s to %s", g.label(e.FromNode), g.label(e.ToNode))
		}
		seen[pair] = true
	}
}

func validateConnectionCounts(g *Graph, rules ValidationRules, res *ValidationResult) {
	in := make(map[string]int)
	out := make(map[string]int)
	for _, e := range g.Edges() {
		out[e.FromNode]++
		in[e.ToNode]++
	}
	for _, n := range g.Nodes() {
		if rules.MaxInputConnections > 0 && in[n.ID] > rules.MaxInputConnections {
			res.addWarning("%s has %d input connections (limit %d)", g.label(n.ID), in[n.ID], rules.MaxInputConnections)
		}
		if rules.MaxOutputConnections > 0 && out[n.ID] > rules.MaxOutputConnections {
			res.addWarning("%s has %d output connections (limit %d)", g.label(n.ID), out[n.ID], rules.MaxOutputConnections)
		}
	}
}

func validateNodes(g *Graph, res *ValidationResult) {
	for _, n := range g.Nodes() {
		def, ok := g.Definition(n)
		if !ok {
			res.addWarning("%s uses unknown component %q; its parameters and ports are not checked", n.ID, n.ComponentID)
			continue
		}

		invalid := false
		for _, issue := range CheckParameters(def, n.Parameters) {
			if issue.Severe {
				invalid = true
				res.addError("%s: %s", g.label(n.ID), issue.Message)
			} else {
				res.addWarning("%s: %s", g.label(n.ID), issue.Message)
			}
		}
		if !invalid {
			if _, err := DecodeIndicator(n, def); err != nil {
				invalid = true
				res.addError("%s: %v", g.label(n.ID), err)
			}
		}
		if invalid {
			res.InvalidNodes = append(res.InvalidNodes, n.ID)
		}
	}
}

// label renders a node as `Name (id)` for messages.
func (g *Graph) label(id string) string {
	n, ok := g.nodes[id]
	if !ok {
		return id
	}
	if def, ok := g.catalog.Get(n.ComponentID); ok {
		return fmt.Sprintf("%s (%s)", def.Name, id)
	}
	return fmt.Sprintf("%s (%s)", n.ComponentID, id)
}

// Label renders a node for human-facing messages.
func (g *Graph) Label(id string) string { return g.label(id) }
