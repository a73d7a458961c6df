package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"sigforge/catalog"
	"sigforge/core"
	"sigforge/util"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type sigmaLogSource struct {
	Category string `yaml:"category"`
	Product  string `yaml:"product"`
}

// sigmaRule keeps the conventional Sigma key order when marshaled.
type sigmaRule struct {
	Title       string         `yaml:"title"`
	ID          string         `yaml:"id"`
	Status      string         `yaml:"status"`
	Description string         `yaml:"description,omitempty"`
	Author      string         `yaml:"author,omitempty"`
	Date        string         `yaml:"date"`
	Tags        []string       `yaml:"tags,omitempty"`
	LogSource   sigmaLogSource `yaml:"logsource"`
	Detection   *yaml.Node     `yaml:"detection"`
	Level       string         `yaml:"level"`
}

var sigmaLogSources = map[catalog.Category]sigmaLogSource{
	catalog.CategoryNetwork:    {Category: "network_connection", Product: "zeek"},
	catalog.CategoryFile:       {Category: "file_event", Product: "windows"},
	catalog.CategoryBehavioral: {Category: "process_creation", Product: "windows"},
}

var sigmaOperators = map[core.Operator]string{
	core.OpAND:  "and",
	core.OpOR:   "or",
	core.OpNOT:  "and not",
	core.OpXOR:  "or",
	core.OpNAND: "and not",
	core.OpNOR:  "or not",
}

var errNoSigmaSelections = errors.New("no component produces a sigma detection field")

// field is one key/value of a Sigma selection.
type field struct {
	key   string
	value any
}

// generateSigma emits a Sigma rule with one selection per component.
func generateSigma(b *build) (string, error) {
	b.warnXOR()
	rule := sigmaRule{
		Title:       b.meta.Name,
		ID:          sigmaID(b.graph.ID),
		Status:      "experimental",
		Description: b.meta.Description,
		Author:      b.meta.Author,
		Date:        b.now.UTC().Format("2006-01-02"),
		Tags:        append([]string(nil), b.meta.Tags...),
		LogSource:   sigmaLogSourceFor(b.indicators),
		Level:       sigmaLevel(b.meta.Priority),
	}

	detection := &yaml.Node{Kind: yaml.MappingNode}
	selections := make(map[string]string)
	timeframe := ""

	for _, ind := range b.indicators {
		if w, ok := ind.(core.TimeWindowIndicator); ok {
			timeframe = fmt.Sprintf("%ds", w.Seconds)
			continue
		}
		if beh, ok := ind.(core.BehaviorIndicator); ok {
			rule.Tags = appendUnique(rule.Tags, "behavior."+util.SanitizeIdentifier(beh.Behavior, "unknown"))
			for _, tactic := range beh.Tactics {
				rule.Tags = appendUnique(rule.Tags, "attack."+tactic)
			}
			continue
		}

		fields := sigmaFields(ind)
		if len(fields) == 0 {
			ref := ind.NodeRef()
			b.warn("%s component %s cannot be expressed in sigma and was omitted", ref.ComponentID, ref.NodeID)
			continue
		}
		name := fmt.Sprintf("selection_%d", len(selections)+1)
		selections[ind.NodeRef().NodeID] = name

		sel := &yaml.Node{Kind: yaml.MappingNode}
		for _, f := range fields {
			if err := addYAMLPair(sel, f.key, f.value); err != nil {
				return "", err
			}
		}
		detection.Content = append(detection.Content, yamlKey(name), sel)
	}

	if len(selections) == 0 {
		return "", errNoSigmaSelections
	}

	condition := b.expr.Render(
		func(id string) (string, bool) {
			s, ok := selections[id]
			return s, ok
		},
		func(op core.Operator) string { return sigmaOperators[op] },
	)
	if condition == "" {
		condition = "all of selection_*"
	}
	if err := addYAMLPair(detection, "condition", condition); err != nil {
		return "", err
	}
	if timeframe != "" {
		if err := addYAMLPair(detection, "timeframe", timeframe); err != nil {
			return "", err
		}
	}
	rule.Detection = detection

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(&rule); err != nil {
		return "", fmt.Errorf("failed to marshal sigma rule: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sigmaFields(ind core.Indicator) []field {
	switch v := ind.(type) {
	case core.IPIndicator:
		if v.Address == "" || v.Address == "any" {
			return nil
		}
		key := "dst_ip"
		if v.Direction == "src" {
			key = "src_ip"
		}
		if v.Network != nil {
			key += "|cidr"
		}
		return []field{{key, v.Address}}
	case core.PortIndicator:
		key := "dst_port"
		if v.Direction == "src" {
			key = "src_port"
		}
		if v.Low == v.High {
			return []field{{key, v.Low}}
		}
		return []field{{key + "|gte", v.Low}, {key + "|lte", v.High}}
	case core.ProtocolIndicator:
		if v.Protocol == "" {
			return nil
		}
		return []field{{"protocol", v.Protocol}}
	case core.DNSIndicator:
		if v.Domain == "" {
			return nil
		}
		return []field{{"QueryName|endswith", v.Domain}}
	case core.StringIndicator:
		if v.Value == "" {
			return nil
		}
		key := v.Field + "|contains"
		if v.CaseSensitive {
			key += "|cased"
		}
		return []field{{key, v.Value}}
	case core.RegexIndicator:
		if v.Pattern == "" {
			return nil
		}
		key := "payload|re"
		if strings.Contains(v.Flags, "i") {
			key += "|i"
		}
		return []field{{key, v.Pattern}}
	case core.HeaderIndicator:
		if v.Header == "" {
			return nil
		}
		return []field{{util.SanitizeIdentifier(v.Header, "header") + "|contains", v.Value}}
	case core.HashIndicator:
		if v.Value == "" {
			return nil
		}
		return []field{{"Hashes|contains", strings.ToUpper(v.Algorithm) + "=" + v.Value}}
	case core.FileSizeIndicator:
		out := []field{{"FileSize|gte", v.Min}}
		if v.Max > 0 {
			out = append(out, field{"FileSize|lte", v.Max})
		}
		return out
	case core.ProcessIndicator:
		var out []field
		if v.Process != "" {
			out = append(out, field{"Image|endswith", `\` + v.Process})
		}
		if v.CommandLine != "" {
			out = append(out, field{"CommandLine|contains", v.CommandLine})
		}
		return out
	case core.RegistryIndicator:
		var out []field
		if v.Key != "" {
			out = append(out, field{"TargetObject|contains", v.Key})
		}
		if v.Value != "" {
			out = append(out, field{"Details|contains", v.Value})
		}
		return out
	}
	// byte patterns have no portable Sigma representation
	return nil
}

func sigmaLogSourceFor(indicators []core.Indicator) sigmaLogSource {
	for _, ind := range indicators {
		if ls, ok := sigmaLogSources[ind.NodeRef().Category]; ok {
			return ls
		}
	}
	return sigmaLogSource{Category: "generic", Product: "generic"}
}

func sigmaLevel(p core.Priority) string {
	if p.Valid() {
		return string(p)
	}
	return string(core.PriorityMedium)
}

// sigmaID returns the graph id when it is a UUID, otherwise a stable
// name-based UUID derived from it.
func sigmaID(graphID string) string {
	if id, err := uuid.Parse(graphID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(graphID)).String()
}

func yamlKey(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

func addYAMLPair(m *yaml.Node, key string, value any) error {
	v := &yaml.Node{}
	if err := v.Encode(value); err != nil {
		return fmt.Errorf("failed to encode sigma field %s: %w", key, err)
	}
	m.Content = append(m.Content, yamlKey(key), v)
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
