package compiler

import (
	"strings"

	"sigforge/core"
)

// Term is one operand of a linearized expression. Op joins the term to
// whatever precedes it and is empty for the first term.
type Term struct {
	Op     core.Operator `json:"op,omitempty" xml:"op,attr,omitempty"`
	NodeID string        `json:"nodeId" xml:"node,attr"`
}

// Expression is a flat, left-to-right sequence of operands. There is no
// precedence and no grouping: "a OR b AND c" reads strictly in order.
type Expression []Term

// Linearize derives the logic expression of g.
//
// Without edges every node is joined by AND in insertion order. Otherwise
// edges are folded in insertion order: the first edge contributes
// "from OP to", each later edge appends its source (joined by AND) and its
// target (joined by the edge operator) when they are not already present.
// Nodes that no edge touches are then appended with AND in insertion order.
func Linearize(g *core.Graph) Expression {
	edges := g.Edges()
	if len(edges) == 0 {
		nodes := g.Nodes()
		expr := make(Expression, 0, len(nodes))
		for i, n := range nodes {
			t := Term{NodeID: n.ID}
			if i > 0 {
				t.Op = core.OpAND
			}
			expr = append(expr, t)
		}
		return expr
	}

	seen := make(map[string]bool)
	var expr Expression
	add := func(id string, op core.Operator) {
		if seen[id] {
			return
		}
		seen[id] = true
		if len(expr) == 0 {
			op = ""
		}
		expr = append(expr, Term{Op: op, NodeID: id})
	}
	for _, e := range edges {
		add(e.FromNode, core.OpAND)
		add(e.ToNode, e.Operator)
	}
	for _, n := range g.Nodes() {
		add(n.ID, core.OpAND)
	}
	return expr
}

// NodeIDs returns the operands in order.
func (e Expression) NodeIDs() []string {
	ids := make([]string, len(e))
	for i, t := range e {
		ids[i] = t.NodeID
	}
	return ids
}

// Render prints the expression. name maps a node to its operand text and
// may reject a node, in which case the node and its joining operator are
// skipped. op maps operators to the target syntax.
func (e Expression) Render(name func(nodeID string) (string, bool), op func(core.Operator) string) string {
	var b strings.Builder
	for _, t := range e {
		operand, ok := name(t.NodeID)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			joiner := t.Op
			if joiner == "" {
				joiner = core.OpAND
			}
			b.WriteByte(' ')
			b.WriteString(op(joiner))
			b.WriteByte(' ')
		}
		b.WriteString(operand)
	}
	return b.String()
}

// String renders node ids joined by upper-case operators.
func (e Expression) String() string {
	return e.Render(
		func(id string) (string, bool) { return id, true },
		func(op core.Operator) string { return string(op) },
	)
}

// DominantOperator returns the most frequent edge operator. Ties go to the
// operator that reached the winning count first while walking edges in
// insertion order. A graph without edges yields AND.
func DominantOperator(edges []core.Edge) core.Operator {
	counts := make(map[core.Operator]int)
	best, bestCount := core.OpAND, 0
	for _, e := range edges {
		op := e.Operator
		if op == "" {
			op = core.OpAND
		}
		counts[op]++
		if counts[op] > bestCount {
			best, bestCount = op, counts[op]
		}
	}
	return best
}
