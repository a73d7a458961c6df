package compiler

import (
	"fmt"
	"strings"

	"sigforge/core"
	"sigforge/util"
)

var yaraOperators = map[core.Operator]string{
	core.OpAND:  "and",
	core.OpOR:   "or",
	core.OpNOT:  "and not",
	core.OpXOR:  "or",
	core.OpNAND: "and not",
	core.OpNOR:  "or not",
}

type yaraString struct {
	id     string
	nodeID string
	value  string
}

// generateYARA emits one YARA rule. String, regex, byte-pattern and hash
// components each contribute one string; everything else is ignored.
func generateYARA(b *build) (string, error) {
	var (
		strs   []yaraString
		counts = map[string]int{}
	)
	next := func(prefix string) string {
		counts[prefix]++
		return fmt.Sprintf("$%s%d", prefix, counts[prefix])
	}

	for _, ind := range b.indicators {
		ref := ind.NodeRef()
		switch v := ind.(type) {
		case core.StringIndicator:
			if v.Value == "" {
				continue
			}
			value := fmt.Sprintf(`"%s"`, util.EscapeYARAString(v.Value))
			if !v.CaseSensitive {
				value += " nocase"
			}
			strs = append(strs, yaraString{id: next("s"), nodeID: ref.NodeID, value: value})
		case core.RegexIndicator:
			if v.Pattern == "" {
				continue
			}
			value := "/" + util.EscapeUnescaped(v.Pattern, "/") + "/"
			for _, f := range v.Flags {
				if f == 'i' || f == 's' {
					value += string(f)
				}
			}
			strs = append(strs, yaraString{id: next("r"), nodeID: ref.NodeID, value: value})
		case core.BytesIndicator:
			if len(v.Bytes) == 0 {
				continue
			}
			strs = append(strs, yaraString{id: next("b"), nodeID: ref.NodeID, value: "{ " + v.Hex() + " }"})
		case core.HashIndicator:
			if v.Value == "" {
				continue
			}
			strs = append(strs, yaraString{id: next("h"), nodeID: ref.NodeID, value: fmt.Sprintf(`"%s"`, v.Value)})
		}
	}

	var out strings.Builder
	name := util.SanitizeIdentifier(b.meta.Name, "sigforge_rule")
	fmt.Fprintf(&out, "rule %s\n{\n", name)

	out.WriteString("    meta:\n")
	meta := [][2]string{
		{"author", b.meta.Author},
		{"description", b.meta.Description},
		{"date", b.now.UTC().Format("2006-01-02")},
		{"id", b.graph.ID},
		{"priority", string(b.meta.Priority)},
		{"type", string(b.meta.Type)},
	}
	if len(b.meta.Tags) > 0 {
		meta = append(meta, [2]string{"tags", strings.Join(b.meta.Tags, ", ")})
	}
	for _, kv := range meta {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(&out, "        %s = \"%s\"\n", kv[0], util.EscapeYARAString(kv[1]))
	}

	if len(strs) > 0 {
		out.WriteString("\n    strings:\n")
		for _, s := range strs {
			fmt.Fprintf(&out, "        %s = %s\n", s.id, s.value)
		}
	}

	fmt.Fprintf(&out, "\n    condition:\n        %s\n}\n", yaraCondition(b, strs))
	return out.String(), nil
}

func yaraCondition(b *build, strs []yaraString) string {
	switch {
	case len(strs) == 0:
		return "false"
	case len(strs) == 1:
		return "any of them"
	case len(b.edges) == 0:
		return "all of them"
	}

	b.warnXOR()
	byNode := make(map[string]string, len(strs))
	for _, s := range strs {
		byNode[s.nodeID] = s.id
	}
	cond := b.expr.Render(
		func(id string) (string, bool) {
			s, ok := byNode[id]
			return s, ok
		},
		func(op core.Operator) string { return yaraOperators[op] },
	)
	if cond == "" {
		// connected nodes carry no strings; fall back to the string set
		return "all of them"
	}
	return cond
}
