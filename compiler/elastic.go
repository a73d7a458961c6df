package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"sigforge/core"
)

type esClause = map[string]any

// generateElastic emits an Elasticsearch bool query. A node lands in
// must_not when the edge feeding it negates, in should when it is joined
// by OR or XOR, and in must otherwise.
func generateElastic(b *build) (string, error) {
	var must, should, mustNot []any

	for _, id := range b.expr.NodeIDs() {
		ind, ok := b.indicator(id)
		if !ok {
			continue
		}
		clauses := esClauses(ind)
		if len(clauses) == 0 {
			ref := ind.NodeRef()
			b.warn("%s component %s has no elasticsearch mapping and was omitted", ref.ComponentID, ref.NodeID)
			continue
		}
		var clause any = clauses[0]
		if len(clauses) > 1 {
			clause = esClause{"bool": esClause{"must": clauses}}
		}

		switch esPlacement(b.edges, id) {
		case "must_not":
			mustNot = append(mustNot, clause)
		case "should":
			should = append(should, clause)
		default:
			must = append(must, clause)
		}
	}

	boolQuery := esClause{
		"filter": []any{
			esClause{"range": esClause{"@timestamp": esClause{"gte": "now-" + b.opts.lookback()}}},
		},
	}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(should) > 0 {
		boolQuery["should"] = should
		boolQuery["minimum_should_match"] = 1
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}

	data, err := json.MarshalIndent(esClause{"query": esClause{"bool": boolQuery}}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal elasticsearch query: %w", err)
	}
	return string(data), nil
}

// esPlacement decides the bool bucket of a node from the first edge that
// targets it, or failing that the first edge leaving it.
func esPlacement(edges []core.Edge, nodeID string) string {
	op := core.Operator("")
	for _, e := range edges {
		if e.ToNode == nodeID {
			op = e.Operator
			break
		}
	}
	if op == "" {
		for _, e := range edges {
			if e.FromNode == nodeID {
				if e.Operator == core.OpOR || e.Operator == core.OpXOR {
					op = e.Operator
				}
				break
			}
		}
	}
	switch op {
	case core.OpNOT, core.OpNAND, core.OpNOR:
		return "must_not"
	case core.OpOR, core.OpXOR:
		return "should"
	}
	return "must"
}

func esClauses(ind core.Indicator) []esClause {
	match := func(field string, value any) esClause {
		return esClause{"match": esClause{field: value}}
	}
	rangeOf := func(field string, lo, hi int64) esClause {
		bounds := esClause{"gte": lo}
		if hi > 0 {
			bounds["lte"] = hi
		}
		return esClause{"range": esClause{field: bounds}}
	}

	switch v := ind.(type) {
	case core.IPIndicator:
		if v.Address == "" || v.Address == "any" {
			return nil
		}
		switch v.Direction {
		case "src":
			return []esClause{match("src_ip", v.Address)}
		case "dst":
			return []esClause{match("dest_ip", v.Address)}
		}
		return []esClause{{"multi_match": esClause{"query": v.Address, "fields": []string{"src_ip", "dest_ip"}}}}
	case core.PortIndicator:
		field := "dest_port"
		if v.Direction == "src" {
			field = "src_port"
		}
		if v.Low == v.High {
			return []esClause{match(field, v.Low)}
		}
		return []esClause{rangeOf(field, int64(v.Low), int64(v.High))}
	case core.ProtocolIndicator:
		if v.Protocol == "" {
			return nil
		}
		return []esClause{match("network.transport", v.Protocol)}
	case core.DNSIndicator:
		if v.Domain == "" {
			return nil
		}
		return []esClause{match("dns.question.name", v.Domain)}
	case core.StringIndicator:
		if v.Value == "" {
			return nil
		}
		field := "message"
		if v.Field != "" && v.Field != "payload" {
			field = v.Field
		}
		return []esClause{{"match_phrase": esClause{field: v.Value}}}
	case core.RegexIndicator:
		if v.Pattern == "" {
			return nil
		}
		return []esClause{{"regexp": esClause{"message": esClause{
			"value":            v.Pattern,
			"case_insensitive": strings.Contains(v.Flags, "i"),
		}}}}
	case core.HeaderIndicator:
		if v.Header == "" {
			return nil
		}
		return []esClause{match("http.request.headers."+strings.ToLower(v.Header), v.Value)}
	case core.HashIndicator:
		if v.Value == "" {
			return nil
		}
		return []esClause{{"term": esClause{"file.hash." + v.Algorithm: v.Value}}}
	case core.FileSizeIndicator:
		return []esClause{rangeOf("file.size", v.Min, v.Max)}
	case core.ProcessIndicator:
		var out []esClause
		if v.Process != "" {
			out = append(out, match("process.name", v.Process))
		}
		if v.CommandLine != "" {
			out = append(out, esClause{"match_phrase": esClause{"process.command_line": v.CommandLine}})
		}
		return out
	case core.RegistryIndicator:
		var out []esClause
		if v.Key != "" {
			out = append(out, match("registry.path", v.Key))
		}
		if v.Value != "" {
			out = append(out, match("registry.data.strings", v.Value))
		}
		return out
	case core.BehaviorIndicator:
		if v.Behavior == "" {
			return nil
		}
		return []esClause{match("event.action", v.Behavior)}
	}
	return nil
}
