package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sigforge/catalog"
)

// isEmpty reports whether a parameter value counts as unset.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case []float64:
		return len(t) == 0
	}
	return false
}

// asNumber accepts Go numeric types and json.Number. Strings are not numbers.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func asStrings(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func asRange(v any) (lo, hi float64, ok bool) {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []float64:
		for _, f := range t {
			items = append(items, f)
		}
	case []int:
		for _, i := range t {
			items = append(items, i)
		}
	case map[string]any:
		items = []any{t["min"], t["max"]}
	default:
		return 0, 0, false
	}
	if len(items) != 2 {
		return 0, 0, false
	}
	lo, okLo := asNumber(items[0])
	hi, okHi := asNumber(items[1])
	return lo, hi, okLo && okHi
}

// ParamIssue is one problem found in a node's parameters.
type ParamIssue struct {
	Param   string
	Message string
	// Severe issues make the node invalid; the rest are advisory.
	Severe bool
}

// CheckParameters validates values against a component definition: required
// presence, declared type, option membership and numeric bounds.
func CheckParameters(def *catalog.Definition, values map[string]any) []ParamIssue {
	var issues []ParamIssue
	for _, name := range def.ParameterNames() {
		p := def.Parameters[name]
		v, present := values[name]
		if !present || isEmpty(v) {
			if p.Required {
				issues = append(issues, ParamIssue{
					Param:   name,
					Message: fmt.Sprintf("required parameter %q is not set", name),
					Severe:  true,
				})
			}
			continue
		}
		issues = append(issues, checkValue(name, p, v)...)
	}
	return issues
}

func checkValue(name string, p catalog.Parameter, v any) []ParamIssue {
	mismatch := func(want string) []ParamIssue {
		return []ParamIssue{{
			Param:   name,
			Message: fmt.Sprintf("parameter %q must be a %s, got %T", name, want, v),
			Severe:  true,
		}}
	}

	switch p.Type {
	case catalog.ParamString:
		if _, ok := v.(string); !ok {
			return mismatch("string")
		}
	case catalog.ParamBoolean:
		if _, ok := v.(bool); !ok {
			return mismatch("boolean")
		}
	case catalog.ParamNumber:
		f, ok := asNumber(v)
		if !ok {
			return mismatch("number")
		}
		return checkBounds(name, p, f)
	case catalog.ParamSelect:
		s, ok := v.(string)
		if !ok {
			return mismatch("string")
		}
		if !optionAllowed(p.Options, s) {
			return []ParamIssue{{
				Param:   name,
				Message: fmt.Sprintf("parameter %q value %q is not one of %s", name, s, strings.Join(p.Options, ", ")),
				Severe:  true,
			}}
		}
	case catalog.ParamMultiSelect:
		list, ok := asStrings(v)
		if !ok {
			return mismatch("list of strings")
		}
		for _, s := range list {
			if !optionAllowed(p.Options, s) {
				return []ParamIssue{{
					Param:   name,
					Message: fmt.Sprintf("parameter %q value %q is not one of %s", name, s, strings.Join(p.Options, ", ")),
					Severe:  true,
				}}
			}
		}
	case catalog.ParamRange:
		lo, hi, ok := asRange(v)
		if !ok {
			return mismatch("[min, max] pair")
		}
		if lo > hi {
			return []ParamIssue{{
				Param:   name,
				Message: fmt.Sprintf("parameter %q range minimum %s exceeds maximum %s", name, formatNumber(lo), formatNumber(hi)),
				Severe:  true,
			}}
		}
		return append(checkBounds(name, p, lo), checkBounds(name, p, hi)...)
	}
	return nil
}

func checkBounds(name string, p catalog.Parameter, f float64) []ParamIssue {
	if p.Min != nil && f < *p.Min {
		return []ParamIssue{{
			Param:   name,
			Message: fmt.Sprintf("parameter %q value %s is below minimum %s", name, formatNumber(f), formatNumber(*p.Min)),
		}}
	}
	if p.Max != nil && f > *p.Max {
		return []ParamIssue{{
			Param:   name,
			Message: fmt.Sprintf("parameter %q value %s is above maximum %s", name, formatNumber(f), formatNumber(*p.Max)),
		}}
	}
	return nil
}

func optionAllowed(options []string, v string) bool {
	if len(options) == 0 {
		return true
	}
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
