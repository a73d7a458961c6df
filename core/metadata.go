package core

import "strings"

// RuleType is what the generated rule is meant to do when it fires.
type RuleType string

const (
	RuleDetection  RuleType = "detection"
	RulePrevention RuleType = "prevention"
	RuleMonitoring RuleType = "monitoring"
	RuleAnalysis   RuleType = "analysis"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleDetection, RulePrevention, RuleMonitoring, RuleAnalysis:
		return true
	}
	return false
}

// Priority is the rule severity. It maps 1:1 to Sigma levels.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Numeric returns the IDS priority number, 1 being most severe.
func (p Priority) Numeric() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 4
	default:
		return 3
	}
}

// Metadata describes the rule the graph compiles to.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Type        RuleType `json:"type"`
	Priority    Priority `json:"priority"`
	// Category selects the SID range: malware, network, web or custom.
	// Empty means infer from the components.
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// DefaultMetadata is the metadata of a freshly created graph.
func DefaultMetadata() Metadata {
	return Metadata{
		Name:     "Untitled Signature",
		Author:   "sigforge",
		Type:     RuleDetection,
		Priority: PriorityMedium,
	}
}

func (m Metadata) withDefaults() Metadata {
	m.Name = strings.TrimSpace(m.Name)
	m.Category = strings.ToLower(strings.TrimSpace(m.Category))
	m.Tags = append([]string(nil), m.Tags...)
	return m
}
