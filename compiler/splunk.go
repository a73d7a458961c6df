package compiler

import (
	"fmt"
	"strings"

	"sigforge/core"
	"sigforge/util"
)

var splunkOperators = map[core.Operator]string{
	core.OpAND:  "AND",
	core.OpOR:   "OR",
	core.OpNOT:  "NOT",
	core.OpXOR:  "OR",
	core.OpNAND: "NOT",
	core.OpNOR:  "OR NOT",
}

// generateSplunk emits an SPL search. Fragments are joined by the dominant
// edge operator rather than per-edge operators.
func generateSplunk(b *build) (string, error) {
	joiner := splunkOperators[DominantOperator(b.edges)]
	b.warnXOR()

	var (
		terms     []string
		regexes   []string
		threshold int
	)
	for _, id := range b.expr.NodeIDs() {
		ind, ok := b.indicator(id)
		if !ok {
			continue
		}
		switch v := ind.(type) {
		case core.RegexIndicator:
			if v.Pattern != "" {
				regexes = append(regexes, v.Pattern)
			}
			continue
		case core.TimeWindowIndicator:
			threshold = v.Count
			continue
		}

		frag := splunkFragment(ind)
		if frag == "" {
			ref := ind.NodeRef()
			b.warn("%s component %s has no splunk mapping and was omitted", ref.ComponentID, ref.NodeID)
			continue
		}
		terms = append(terms, frag)
	}

	index := "*"
	if b.opts.SplunkIndex != "" {
		index = util.SanitizeIdentifier(b.opts.SplunkIndex, "main")
	}

	var out strings.Builder
	fmt.Fprintf(&out, "search index=%s", index)
	if len(terms) > 0 {
		out.WriteByte(' ')
		out.WriteString(strings.Join(terms, " "+joiner+" "))
	}
	fmt.Fprintf(&out, " earliest=-%s", b.opts.lookback())

	for _, re := range regexes {
		fmt.Fprintf(&out, ` | regex _raw="%s"`, util.EscapeSplunkValue(re))
	}
	if threshold > 0 || b.opts.SplunkStats {
		if threshold < 1 {
			threshold = 1
		}
		fmt.Fprintf(&out, " | stats count by src_ip, dest_ip | where count >= %d", threshold)
	}
	return out.String(), nil
}

func splunkFragment(ind core.Indicator) string {
	q := func(field, value string) string {
		return fmt.Sprintf(`%s="%s"`, field, util.EscapeSplunkValue(value))
	}
	all := func(parts ...string) string {
		var kept []string
		for _, p := range parts {
			if p != "" {
				kept = append(kept, p)
			}
		}
		if len(kept) > 1 {
			return "(" + strings.Join(kept, " AND ") + ")"
		}
		return strings.Join(kept, "")
	}

	switch v := ind.(type) {
	case core.IPIndicator:
		if v.Address == "" || v.Address == "any" {
			return ""
		}
		switch v.Direction {
		case "src":
			return q("src_ip", v.Address)
		case "dst":
			return q("dest_ip", v.Address)
		}
		return fmt.Sprintf("(%s OR %s)", q("src_ip", v.Address), q("dest_ip", v.Address))
	case core.PortIndicator:
		field := "dest_port"
		if v.Direction == "src" {
			field = "src_port"
		}
		if v.Low == v.High {
			return fmt.Sprintf("%s=%d", field, v.Low)
		}
		return fmt.Sprintf("(%s>=%d AND %s<=%d)", field, v.Low, field, v.High)
	case core.ProtocolIndicator:
		if v.Protocol == "" {
			return ""
		}
		return q("transport", v.Protocol)
	case core.DNSIndicator:
		if v.Domain == "" {
			return ""
		}
		return q("query", v.Domain)
	case core.StringIndicator:
		if v.Value == "" {
			return ""
		}
		if v.Field == "" || v.Field == "payload" {
			return `"` + util.EscapeSplunkValue(v.Value) + `"`
		}
		return q(util.SanitizeIdentifier(v.Field, "payload"), "*"+v.Value+"*")
	case core.HeaderIndicator:
		if v.Header == "" {
			return ""
		}
		if strings.EqualFold(v.Header, "user-agent") {
			return q("http_user_agent", "*"+v.Value+"*")
		}
		return `"` + util.EscapeSplunkValue(v.Header+": "+v.Value) + `"`
	case core.HashIndicator:
		if v.Value == "" {
			return ""
		}
		return q(v.Algorithm, v.Value)
	case core.FileSizeIndicator:
		if v.Max > 0 {
			return fmt.Sprintf("(file_size>=%d AND file_size<=%d)", v.Min, v.Max)
		}
		return fmt.Sprintf("file_size>=%d", v.Min)
	case core.ProcessIndicator:
		var name, cmd string
		if v.Process != "" {
			name = q("process_name", v.Process)
		}
		if v.CommandLine != "" {
			cmd = q("process", "*"+v.CommandLine+"*")
		}
		return all(name, cmd)
	case core.RegistryIndicator:
		var key, val string
		if v.Key != "" {
			key = q("registry_path", "*"+v.Key+"*")
		}
		if v.Value != "" {
			val = q("registry_value_data", "*"+v.Value+"*")
		}
		return all(key, val)
	case core.BehaviorIndicator:
		if v.Behavior == "" {
			return ""
		}
		return q("behavior", v.Behavior)
	}
	return ""
}
