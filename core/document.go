package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sigforge/catalog"

	"github.com/xeipuuv/gojsonschema"
)

// DocumentVersion is the current serialization format version.
const DocumentVersion = 1

// Document is the plain, serializable form of a Graph.
type Document struct {
	Version  int      `json:"version"`
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
}

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "id": {"type": "string"},
    "metadata": {"type": "object"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "componentId"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "componentId": {"type": "string", "minLength": 1},
          "parameters": {"type": ["object", "null"]},
          "status": {"type": "string"}
        }
      }
    },
    "edges": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id", "fromNode", "toNode"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "fromNode": {"type": "string"},
          "toNode": {"type": "string"},
          "fromPort": {"type": "string"},
          "toPort": {"type": "string"},
          "operator": {"type": "string"}
        }
      }
    }
  }
}`

// Serialize captures the graph as a Document. Nodes and edges keep their
// insertion order.
func (g *Graph) Serialize() Document {
	return Document{
		Version:  DocumentVersion,
		ID:       g.ID,
		Metadata: g.Metadata(),
		Nodes:    g.Nodes(),
		Edges:    g.Edges(),
	}
}

// MarshalDocument serializes the graph to indented JSON.
func (g *Graph) MarshalDocument() ([]byte, error) {
	return json.MarshalIndent(g.Serialize(), "", "  ")
}

// ParseDocument validates data against the document schema and decodes it.
func ParseDocument(data []byte) (Document, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Document{}, fmt.Errorf("%w: %s", ErrMalformedDocument, strings.Join(msgs, "; "))
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return doc, nil
}

// DeserializeOptions controls import strictness.
type DeserializeOptions struct {
	// Strict rejects edges that reference missing nodes instead of dropping them.
	Strict bool
}

// Deserialize rebuilds a graph from doc. By default it is tolerant: edges
// whose endpoints are missing are dropped and reported as warnings, and nodes
// of components the catalog does not know are kept as extensions.
func Deserialize(doc Document, cat *catalog.Catalog, opts DeserializeOptions, graphOpts ...GraphOption) (*Graph, []string, error) {
	var warnings []string

	g := NewGraph(cat, graphOpts...)
	if doc.ID != "" {
		g.ID = doc.ID
	}

	if doc.Metadata.Name != "" || doc.Metadata.Type != "" || doc.Metadata.Priority != "" {
		g.metadata = doc.Metadata.withDefaults()
	}

	for i, n := range doc.Nodes {
		if n.ID == "" || n.ComponentID == "" {
			return nil, nil, fmt.Errorf("%w: node %d has no id or component", ErrMalformedDocument, i)
		}
		if g.HasNode(n.ID) {
			return nil, nil, fmt.Errorf("%w: duplicate node id %q", ErrMalformedDocument, n.ID)
		}
		if _, ok := cat.Get(n.ComponentID); !ok {
			warnings = append(warnings, fmt.Sprintf("node %s uses unknown component %q; kept without translation", n.ID, n.ComponentID))
		}

		node := n.clone()
		if node.Status == "" {
			node.Status = StatusConfigured
		}
		g.insertNode(&node)
		g.nodeSeq = maxSeq(g.nodeSeq, n.ID, "node-")
	}

	for i, e := range doc.Edges {
		if e.ID == "" {
			return nil, nil, fmt.Errorf("%w: edge %d has no id", ErrMalformedDocument, i)
		}
		if _, dup := g.edges[e.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate edge id %q", ErrMalformedDocument, e.ID)
		}
		op, err := ParseOperator(string(e.Operator))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: edge %s: %v", ErrMalformedDocument, e.ID, err)
		}
		if !g.HasNode(e.FromNode) || !g.HasNode(e.ToNode) {
			if opts.Strict {
				return nil, nil, fmt.Errorf("%w: edge %s references a missing node", ErrMalformedDocument, e.ID)
			}
			warnings = append(warnings, fmt.Sprintf("edge %s dropped: references a missing node", e.ID))
			continue
		}

		edge := e
		edge.Operator = op
		g.insertEdge(&edge)
		g.edgeSeq = maxSeq(g.edgeSeq, e.ID, "edge-")
	}

	g.emit(Event{Type: EventGraphLoaded})
	return g, warnings, nil
}

// maxSeq keeps generated ids ahead of imported ones.
func maxSeq(cur int, id, prefix string) int {
	if !strings.HasPrefix(id, prefix) {
		return cur
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil || n <= cur {
		return cur
	}
	return n
}
