// Package catalog holds the read-only component definitions that signature
// graph nodes are instantiated from.
package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// ParamType is the declared type of a component parameter.
type ParamType string

const (
	ParamString      ParamType = "string"
	ParamNumber      ParamType = "number"
	ParamBoolean     ParamType = "boolean"
	ParamSelect      ParamType = "select"
	ParamMultiSelect ParamType = "multiselect"
	ParamRange       ParamType = "range"
)

// Category groups components by the kind of evidence they inspect.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryFile       Category = "file"
	CategoryContent    Category = "content"
	CategoryBehavioral Category = "behavioral"
	CategoryTemporal   Category = "temporal"
)

// Categories lists the known categories in a stable order.
var Categories = []Category{
	CategoryNetwork,
	CategoryFile,
	CategoryContent,
	CategoryBehavioral,
	CategoryTemporal,
}

// Parameter describes one configurable value of a component.
type Parameter struct {
	Type        ParamType `yaml:"type" json:"type" validate:"required,oneof=string number boolean select multiselect range"`
	Required    bool      `yaml:"required" json:"required"`
	Default     any       `yaml:"default,omitempty" json:"default,omitempty"`
	Min         *float64  `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *float64  `yaml:"max,omitempty" json:"max,omitempty"`
	Options     []string  `yaml:"options,omitempty" json:"options,omitempty" validate:"required_if=Type select,required_if=Type multiselect"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// Definition is a component type that nodes are created from.
type Definition struct {
	ID          string               `yaml:"id" json:"id" validate:"required,max=64"`
	Name        string               `yaml:"name" json:"name" validate:"required"`
	Category    Category             `yaml:"category" json:"category" validate:"required"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      []string             `yaml:"inputs" json:"inputs" validate:"dive,required"`
	Outputs     []string             `yaml:"outputs" json:"outputs" validate:"dive,required"`
	Parameters  map[string]Parameter `yaml:"parameters" json:"parameters" validate:"dive"`
}

// HasInput reports whether port is a declared input port.
func (d *Definition) HasInput(port string) bool {
	return contains(d.Inputs, port)
}

// HasOutput reports whether port is a declared output port.
func (d *Definition) HasOutput(port string) bool {
	return contains(d.Outputs, port)
}

// ParameterNames returns the parameter names in sorted order.
func (d *Definition) ParameterNames() []string {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the catalog default for every parameter that declares one.
func (d *Definition) Defaults() map[string]any {
	out := make(map[string]any, len(d.Parameters))
	for name, p := range d.Parameters {
		if p.Default != nil {
			out[name] = p.Default
		}
	}
	return out
}

// Catalog is a registry of component definitions keyed by id.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{defs: make(map[string]*Definition)}
}

// Register adds or replaces a definition.
func (c *Catalog) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("component definition has no id")
	}
	if def.Parameters == nil {
		def.Parameters = map[string]Parameter{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[def.ID] = &def
	return nil
}

// Get looks up a definition by id.
func (c *Catalog) Get(id string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[id]
	return def, ok
}

// List returns all definitions sorted by category, then id.
func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	out := make([]*Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
