package compiler

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"sigforge/core"
)

// XMLNamespace is the namespace of generated XML signatures.
const XMLNamespace = "urn:sigforge:signature:1"

// StructuredVersion is the schema version of JSON and XML output.
const StructuredVersion = "1.0"

// ruleDocument is the machine-readable form shared by JSON and XML output.
type ruleDocument struct {
	XMLName     xml.Name `json:"-" xml:"signature"`
	Namespace   string   `json:"-" xml:"xmlns,attr"`
	Version     string   `json:"version" xml:"version,attr"`
	ID          string   `json:"id" xml:"id,attr"`
	GeneratedAt string   `json:"generatedAt" xml:"generatedAt,attr"`
	ContentHash string   `json:"contentHash" xml:"contentHash,attr"`

	Metadata    docMetadata     `json:"metadata" xml:"metadata"`
	Components  []docComponent  `json:"components" xml:"components>component"`
	Connections []docConnection `json:"connections" xml:"connections>connection"`
	Logic       docLogic        `json:"logic" xml:"logic"`
	Performance docPerformance  `json:"performance" xml:"performance"`
	Validation  docValidation   `json:"validation" xml:"validation"`
}

type docMetadata struct {
	Name        string   `json:"name" xml:"name"`
	Description string   `json:"description,omitempty" xml:"description,omitempty"`
	Author      string   `json:"author,omitempty" xml:"author,omitempty"`
	Type        string   `json:"type" xml:"type"`
	Priority    string   `json:"priority" xml:"priority"`
	Category    string   `json:"category,omitempty" xml:"category,omitempty"`
	Tags        []string `json:"tags,omitempty" xml:"tags>tag,omitempty"`
}

type docParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type docComponent struct {
	ID          string         `json:"id" xml:"id,attr"`
	ComponentID string         `json:"componentId" xml:"type,attr"`
	Name        string         `json:"name,omitempty" xml:"name,omitempty"`
	Category    string         `json:"category,omitempty" xml:"category,omitempty"`
	Known       bool           `json:"known" xml:"known,attr"`
	Parameters  map[string]any `json:"parameters" xml:"-"`
	ParamList   []docParam     `json:"-" xml:"parameters>parameter"`
}

type docConnection struct {
	ID       string `json:"id" xml:"id,attr"`
	From     string `json:"from" xml:"from,attr"`
	FromPort string `json:"fromPort" xml:"fromPort,attr"`
	To       string `json:"to" xml:"to,attr"`
	ToPort   string `json:"toPort" xml:"toPort,attr"`
	Operator string `json:"operator" xml:"operator,attr"`
}

type docLogic struct {
	Expression       string `json:"expression" xml:"expression"`
	DominantOperator string `json:"dominantOperator" xml:"dominantOperator"`
	Terms            []Term `json:"terms" xml:"terms>term"`
}

type docPerformance struct {
	EstimatedMs float64 `json:"estimatedMs" xml:"estimatedMs"`
	Complexity  string  `json:"complexity" xml:"complexity"`
	NodeCount   int     `json:"nodeCount" xml:"nodeCount"`
	EdgeCount   int     `json:"edgeCount" xml:"edgeCount"`
}

type docValidation struct {
	HasComponents      bool `json:"hasComponents" xml:"hasComponents"`
	HasConnections     bool `json:"hasConnections" xml:"hasConnections"`
	Acyclic            bool `json:"acyclic" xml:"acyclic"`
	ParametersComplete bool `json:"parametersComplete" xml:"parametersComplete"`
	UnknownComponents  int  `json:"unknownComponents" xml:"unknownComponents"`
}

func buildDocument(b *build) ruleDocument {
	est := core.EstimatePerformance(b.graph)
	doc := ruleDocument{
		Namespace:   XMLNamespace,
		Version:     StructuredVersion,
		ID:          b.graph.ID,
		GeneratedAt: b.now.UTC().Format(time.RFC3339),
		ContentHash: b.graph.ContentHash(),
		Metadata: docMetadata{
			Name:        b.meta.Name,
			Description: b.meta.Description,
			Author:      b.meta.Author,
			Type:        string(b.meta.Type),
			Priority:    string(b.meta.Priority),
			Category:    b.meta.Category,
			Tags:        b.meta.Tags,
		},
		Components:  make([]docComponent, 0, len(b.nodes)),
		Connections: make([]docConnection, 0, len(b.edges)),
		Logic: docLogic{
			Expression:       b.expr.String(),
			DominantOperator: string(DominantOperator(b.edges)),
			Terms:            b.expr,
		},
		Performance: docPerformance{
			EstimatedMs: est.EstimatedMs,
			Complexity:  est.Complexity,
			NodeCount:   est.NodeCount,
			EdgeCount:   est.EdgeCount,
		},
		Validation: docValidation{
			HasComponents:      len(b.nodes) > 0,
			HasConnections:     len(b.edges) > 0,
			Acyclic:            !core.HasCycle(b.graph),
			ParametersComplete: true,
		},
	}

	for _, n := range b.nodes {
		comp := docComponent{
			ID:          n.ID,
			ComponentID: n.ComponentID,
			Parameters:  n.Parameters,
		}
		if comp.Parameters == nil {
			comp.Parameters = map[string]any{}
		}
		if def, ok := b.graph.Definition(n); ok {
			comp.Known = true
			comp.Name = def.Name
			comp.Category = string(def.Category)
			for _, issue := range core.CheckParameters(def, n.Parameters) {
				if issue.Severe {
					doc.Validation.ParametersComplete = false
				}
			}
		} else {
			doc.Validation.UnknownComponents++
		}
		names := make([]string, 0, len(n.Parameters))
		for name := range n.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			comp.ParamList = append(comp.ParamList, docParam{Name: name, Value: paramText(n.Parameters[name])})
		}
		doc.Components = append(doc.Components, comp)
	}

	for _, e := range b.edges {
		doc.Connections = append(doc.Connections, docConnection{
			ID:       e.ID,
			From:     e.FromNode,
			FromPort: e.FromPort,
			To:       e.ToNode,
			ToPort:   e.ToPort,
			Operator: string(e.Operator),
		})
	}
	return doc
}

func generateJSON(b *build) (string, error) {
	data, err := json.MarshalIndent(buildDocument(b), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal json rule: %w", err)
	}
	return string(data), nil
}

func generateXML(b *build) (string, error) {
	data, err := xml.MarshalIndent(buildDocument(b), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal xml rule: %w", err)
	}
	return xml.Header + string(data) + "\n", nil
}

func paramText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	}
	return fmt.Sprint(v)
}
