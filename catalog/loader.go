package catalog

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a catalog extension file.
type File struct {
	Components []Definition `yaml:"components" validate:"dive"`
}

var validate = validator.New()

// Parse decodes and validates catalog definitions from YAML.
func Parse(data []byte) ([]Definition, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("invalid catalog definition: %w", err)
	}

	seen := make(map[string]bool, len(file.Components))
	for _, def := range file.Components {
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate component id %q", def.ID)
		}
		seen[def.ID] = true
		for name, p := range def.Parameters {
			if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
				return nil, fmt.Errorf("component %q parameter %q: min exceeds max", def.ID, name)
			}
		}
	}
	return file.Components, nil
}

// LoadFile reads extra definitions from path and registers them, overriding
// built-ins with the same id.
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied catalog path
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog file: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return 0, err
	}
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return 0, err
		}
	}
	return len(defs), nil
}
