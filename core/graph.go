package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"sigforge/catalog"

	"github.com/google/uuid"
)

// Operator is the logical operator carried by an edge.
type Operator string

const (
	OpAND  Operator = "AND"
	OpOR   Operator = "OR"
	OpNOT  Operator = "NOT"
	OpXOR  Operator = "XOR"
	OpNAND Operator = "NAND"
	OpNOR  Operator = "NOR"
)

// Operators lists every operator in declaration order.
var Operators = []Operator{OpAND, OpOR, OpNOT, OpXOR, OpNAND, OpNOR}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	for _, op := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// ParseOperator accepts an operator name in any case. Empty means AND.
func ParseOperator(s string) (Operator, error) {
	if s == "" {
		return OpAND, nil
	}
	op := Operator(strings.ToUpper(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
	}
	return op, nil
}

// Status is the lifecycle state a host assigns to a node.
type Status string

const (
	StatusConfigured Status = "configured"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Position is an opaque canvas location. Compiler and validator ignore it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one instantiated component.
type Node struct {
	ID          string         `json:"id"`
	ComponentID string         `json:"componentId"`
	Parameters  map[string]any `json:"parameters"`
	Position    Position       `json:"position"`
	Status      Status         `json:"status"`
}

// Edge joins an output port of one node to an input port of another.
type Edge struct {
	ID       string   `json:"id"`
	FromNode string   `json:"fromNode"`
	FromPort string   `json:"fromPort"`
	ToNode   string   `json:"toNode"`
	ToPort   string   `json:"toPort"`
	Operator Operator `json:"operator"`
}

// Graph is a signature under construction.
type Graph struct {
	ID       string
	metadata Metadata

	catalog   *catalog.Catalog
	bus       *EventBus
	nodes     map[string]*Node
	edges     map[string]*Edge
	nodeOrder []string
	edgeOrder []string
	nodeSeq   int
	edgeSeq   int
	version   uint64
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithEventBus publishes every mutation to bus.
func WithEventBus(bus *EventBus) GraphOption {
	return func(g *Graph) { g.bus = bus }
}

// WithID overrides the generated graph id.
func WithID(id string) GraphOption {
	return func(g *Graph) { g.ID = id }
}

// NewGraph creates an empty graph whose nodes are drawn from cat.
func NewGraph(cat *catalog.Catalog, opts ...GraphOption) *Graph {
	g := &Graph{
		ID:       uuid.New().String(),
		metadata: DefaultMetadata(),
		catalog:  cat,
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Catalog returns the catalog backing this graph.
func (g *Graph) Catalog() *catalog.Catalog { return g.catalog }

// Version increases on every mutation that changes compiled output.
func (g *Graph) Version() uint64 { return g.version }

// Metadata returns a copy of the rule metadata.
func (g *Graph) Metadata() Metadata {
	m := g.metadata
	m.Tags = append([]string(nil), g.metadata.Tags...)
	return m
}

// SetMetadata replaces the rule metadata.
func (g *Graph) SetMetadata(m Metadata) {
	g.metadata = m.withDefaults()
	g.emit(Event{Type: EventMetadataChanged})
}

// AddNode instantiates componentID, filling unset parameters from the
// catalog defaults.
func (g *Graph) AddNode(componentID string, params map[string]any) (string, error) {
	def, ok := g.catalog.Get(componentID)
	if !ok {
		return "", graphErr("add node", componentID, ErrUnknownComponent)
	}

	values := def.Defaults()
	for k, v := range params {
		values[k] = v
	}

	id := g.nextNodeID()
	g.insertNode(&Node{
		ID:          id,
		ComponentID: componentID,
		Parameters:  values,
		Status:      StatusConfigured,
	})
	g.emit(Event{Type: EventNodeAdded, NodeID: id, Value: componentID})
	return id, nil
}

// RemoveNode deletes a node and every edge touching it and reports whether
// the node existed. Absent ids are ignored.
func (g *Graph) RemoveNode(id string) bool {
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	for _, eid := range append([]string(nil), g.edgeOrder...) {
		e := g.edges[eid]
		if e.FromNode == id || e.ToNode == id {
			g.deleteEdge(eid)
			g.emit(Event{Type: EventEdgeRemoved, EdgeID: eid})
		}
	}
	delete(g.nodes, id)
	g.nodeOrder = removeString(g.nodeOrder, id)
	g.emit(Event{Type: EventNodeRemoved, NodeID: id})
	return true
}

// SetParameter stores value verbatim. Type checking is the validator's job.
func (g *Graph) SetParameter(nodeID, name string, value any) error {
	n, ok := g.nodes[nodeID]
	if !ok {
		return graphErr("set parameter", nodeID, ErrNodeNotFound)
	}
	if n.Parameters == nil {
		n.Parameters = make(map[string]any)
	}
	n.Parameters[name] = value
	g.emit(Event{Type: EventParameterChanged, NodeID: nodeID, Key: name, Value: value})
	return nil
}

// MoveNode updates the canvas position.
func (g *Graph) MoveNode(nodeID string, pos Position) error {
	n, ok := g.nodes[nodeID]
	if !ok {
		return graphErr("move node", nodeID, ErrNodeNotFound)
	}
	n.Position = pos
	g.emit(Event{Type: EventNodeMoved, NodeID: nodeID, Value: pos})
	return nil
}

// SetNodeStatus records a host-assigned lifecycle state.
func (g *Graph) SetNodeStatus(nodeID string, status Status) error {
	n, ok := g.nodes[nodeID]
	if !ok {
		return graphErr("set status", nodeID, ErrNodeNotFound)
	}
	n.Status = status
	g.emit(Event{Type: EventStatusChanged, NodeID: nodeID, Value: status})
	return nil
}

// Connect adds an edge. Cycles and duplicates are left for the validator.
func (g *Graph) Connect(fromNode, fromPort, toNode, toPort string, op Operator) (string, error) {
	if op == "" {
		op = OpAND
	}
	if !op.Valid() {
		return "", graphErr("connect", string(op), ErrInvalidOperator)
	}
	from, ok := g.nodes[fromNode]
	if !ok {
		return "", graphErr("connect", fromNode, fmt.Errorf("%w: source node does not exist", ErrInvalidEndpoint))
	}
	to, ok := g.nodes[toNode]
	if !ok {
		return "", graphErr("connect", toNode, fmt.Errorf("%w: target node does not exist", ErrInvalidEndpoint))
	}
	if def, known := g.catalog.Get(from.ComponentID); known && !def.HasOutput(fromPort) {
		return "", graphErr("connect", fromNode, fmt.Errorf("%w: no output port %q", ErrInvalidEndpoint, fromPort))
	}
	if def, known := g.catalog.Get(to.ComponentID); known && !def.HasInput(toPort) {
		return "", graphErr("connect", toNode, fmt.Errorf("%w: no input port %q", ErrInvalidEndpoint, toPort))
	}

	id := g.nextEdgeID()
	g.insertEdge(&Edge{
		ID:       id,
		FromNode: fromNode,
		FromPort: fromPort,
		ToNode:   toNode,
		ToPort:   toPort,
		Operator: op,
	})
	g.emit(Event{Type: EventEdgeAdded, EdgeID: id, NodeID: fromNode, Value: toNode})
	return id, nil
}

// Disconnect removes an edge and reports whether it existed.
func (g *Graph) Disconnect(edgeID string) bool {
	if _, ok := g.edges[edgeID]; !ok {
		return false
	}
	g.deleteEdge(edgeID)
	g.emit(Event{Type: EventEdgeRemoved, EdgeID: edgeID})
	return true
}

// SetOperator changes the operator of an existing edge.
func (g *Graph) SetOperator(edgeID string, op Operator) error {
	e, ok := g.edges[edgeID]
	if !ok {
		return graphErr("set operator", edgeID, ErrEdgeNotFound)
	}
	if !op.Valid() {
		return graphErr("set operator", string(op), ErrInvalidOperator)
	}
	e.Operator = op
	g.emit(Event{Type: EventOperatorChanged, EdgeID: edgeID, Value: op})
	return nil
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Edge returns a copy of the edge with the given id.
func (g *Graph) Edge(id string) (Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// Edges returns copies of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, *g.edges[id])
	}
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// HasNode reports whether id is a live node.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// InDegree counts edges ending at id.
func (g *Graph) InDegree(id string) int {
	n := 0
	for _, e := range g.edges {
		if e.ToNode == id {
			n++
		}
	}
	return n
}

// OutDegree counts edges starting at id.
func (g *Graph) OutDegree(id string) int {
	n := 0
	for _, e := range g.edges {
		if e.FromNode == id {
			n++
		}
	}
	return n
}

// Definition resolves the catalog definition of a node.
func (g *Graph) Definition(n Node) (*catalog.Definition, bool) {
	return g.catalog.Get(n.ComponentID)
}

// Clone returns a deep copy detached from any event bus.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		ID:        g.ID,
		metadata:  g.Metadata(),
		catalog:   g.catalog,
		nodes:     make(map[string]*Node, len(g.nodes)),
		edges:     make(map[string]*Edge, len(g.edges)),
		nodeOrder: append([]string(nil), g.nodeOrder...),
		edgeOrder: append([]string(nil), g.edgeOrder...),
		nodeSeq:   g.nodeSeq,
		edgeSeq:   g.edgeSeq,
		version:   g.version,
	}
	for id, n := range g.nodes {
		cp := n.clone()
		c.nodes[id] = &cp
	}
	for id, e := range g.edges {
		cp := *e
		c.edges[id] = &cp
	}
	return c
}

func (g *Graph) insertNode(n *Node) {
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
}

func (g *Graph) insertEdge(e *Edge) {
	g.edges[e.ID] = e
	g.edgeOrder = append(g.edgeOrder, e.ID)
}

func (g *Graph) deleteEdge(id string) {
	delete(g.edges, id)
	g.edgeOrder = removeString(g.edgeOrder, id)
}

func (g *Graph) nextNodeID() string {
	for {
		g.nodeSeq++
		id := "node-" + strconv.Itoa(g.nodeSeq)
		if _, taken := g.nodes[id]; !taken {
			return id
		}
	}
}

func (g *Graph) nextEdgeID() string {
	for {
		g.edgeSeq++
		id := "edge-" + strconv.Itoa(g.edgeSeq)
		if _, taken := g.edges[id]; !taken {
			return id
		}
	}
}

func (g *Graph) emit(ev Event) {
	if ev.Type.Mutates() {
		g.version++
	}
	if g.bus == nil {
		return
	}
	ev.GraphID = g.ID
	ev.Version = g.version
	ev.Time = time.Now()
	g.bus.Publish(ev)
}

// sortedNodeIDs returns node ids in lexical order, used where traversal order
// must not depend on insertion history.
func (g *Graph) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (n *Node) clone() Node {
	cp := *n
	cp.Parameters = make(map[string]any, len(n.Parameters))
	for k, v := range n.Parameters {
		cp.Parameters[k] = cloneValue(v)
	}
	return cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		return append([]any(nil), t...)
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	default:
		return v
	}
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
