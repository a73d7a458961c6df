package core

// Cycle describes the first directed cycle found.
type Cycle struct {
	// ClosingNode is the node the back edge returns to.
	ClosingNode string
	// Path lists the nodes on the cycle starting and ending at ClosingNode.
	Path []string
}

// FindCycle runs a depth-first search from every unvisited node in insertion
// order, following edges in insertion order, and stops at the first back edge.
func FindCycle(g *Graph) (Cycle, bool) {
	adj := make(map[string][]string, len(g.nodes))
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		if !g.HasNode(e.FromNode) || !g.HasNode(e.ToNode) {
			continue
		}
		adj[e.FromNode] = append(adj[e.FromNode], e.ToNode)
	}

	visited := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))
	var stack []string
	var found Cycle

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, next := range adj[id] {
			if onStack[next] {
				found = Cycle{ClosingNode: next, Path: cyclePath(stack, next)}
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range g.nodeOrder {
		if !visited[id] && visit(id) {
			return found, true
		}
	}
	return Cycle{}, false
}

// HasCycle reports whether g contains a directed cycle.
func HasCycle(g *Graph) bool {
	_, found := FindCycle(g)
	return found
}

func cyclePath(stack []string, closing string) []string {
	for i, id := range stack {
		if id == closing {
			path := append([]string(nil), stack[i:]...)
			return append(path, closing)
		}
	}
	return []string{closing, closing}
}
