package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type hashedNode struct {
	ID          string         `json:"id"`
	ComponentID string         `json:"c"`
	Parameters  map[string]any `json:"p"`
}

type hashedGraph struct {
	Metadata Metadata     `json:"m"`
	Nodes    []hashedNode `json:"n"`
	Edges    []Edge       `json:"e"`
	Order    []string     `json:"o"`
}

// ContentHash fingerprints everything that affects compiled output: node ids,
// components, parameters, edges with operators, edge order and metadata.
// Positions and statuses are excluded.
func (g *Graph) ContentHash() string {
	h := hashedGraph{Metadata: g.Metadata()}

	for _, id := range g.sortedNodeIDs() {
		n := g.nodes[id]
		h.Nodes = append(h.Nodes, hashedNode{ID: n.ID, ComponentID: n.ComponentID, Parameters: n.Parameters})
	}
	edges := g.Edges()
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	h.Edges = edges
	// linearization follows insertion order, so it is part of the content
	h.Order = append([]string(nil), g.edgeOrder...)

	// json.Marshal sorts map keys, giving a canonical encoding.
	data, err := json.Marshal(h)
	if err != nil {
		// parameters that cannot be marshaled still need a stable key
		data = []byte(g.ID)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
