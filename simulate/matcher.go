package simulate

import (
	"bytes"
	"errors"
	"net"
	"strings"

	"sigforge/core"
	"sigforge/util"

	ac "github.com/petar-dambovaliev/aho-corasick"
)

// evaluable reports whether a component has a per-record predicate.
// Time windows aggregate across records, extensions have no semantics and
// wildcard addresses or ports match everything.
func evaluable(ind core.Indicator) bool {
	switch v := ind.(type) {
	case core.TimeWindowIndicator, core.ExtensionIndicator:
		return false
	case core.IPIndicator:
		return v.Address != "" && v.Address != "any"
	case core.PortIndicator:
		return v.Low > 0 || v.High < 65535
	}
	return true
}

// literalIndex is an Aho-Corasick prefilter over string-match values,
// one automaton per record field and case mode. A field with no automaton
// hit cannot satisfy any string predicate on it.
type literalIndex struct {
	byField map[string]*fieldAutomata
}

type fieldAutomata struct {
	sensitive   *ac.AhoCorasick
	insensitive *ac.AhoCorasick
}

func buildAutomaton(patterns []string, caseInsensitive bool) *ac.AhoCorasick {
	if len(patterns) == 0 {
		return nil
	}
	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		AsciiCaseInsensitive: caseInsensitive,
		MatchKind:            ac.LeftMostLongestMatch,
	})
	automaton := builder.Build(patterns)
	return &automaton
}

func newLiteralIndex(indicators []core.Indicator) *literalIndex {
	type group struct{ sensitive, insensitive []string }
	groups := make(map[string]*group)
	for _, ind := range indicators {
		s, ok := ind.(core.StringIndicator)
		if !ok || s.Value == "" {
			continue
		}
		g := groups[s.Field]
		if g == nil {
			g = &group{}
			groups[s.Field] = g
		}
		if s.CaseSensitive {
			g.sensitive = append(g.sensitive, s.Value)
		} else {
			g.insensitive = append(g.insensitive, s.Value)
		}
	}

	idx := &literalIndex{byField: make(map[string]*fieldAutomata, len(groups))}
	for field, g := range groups {
		idx.byField[field] = &fieldAutomata{
			sensitive:   buildAutomaton(g.sensitive, false),
			insensitive: buildAutomaton(g.insensitive, true),
		}
	}
	return idx
}

// candidates returns the fields whose text contains at least one literal.
func (x *literalIndex) candidates(rec Record) map[string]bool {
	out := make(map[string]bool, len(x.byField))
	for field, fa := range x.byField {
		text := rec.text(field)
		if text == "" {
			continue
		}
		if fa.sensitive != nil && len(fa.sensitive.FindAll(text)) > 0 {
			out[field] = true
			continue
		}
		if fa.insensitive != nil && len(fa.insensitive.FindAll(text)) > 0 {
			out[field] = true
		}
	}
	return out
}

// matcher evaluates the per-component predicates of a graph against records.
type matcher struct {
	indicators []core.Indicator
	literals   *literalIndex
	regex      *util.RegexMatcher

	regexTimeouts int
	regexErrors   int
}

func newMatcher(indicators []core.Indicator, regex *util.RegexMatcher) *matcher {
	m := &matcher{regex: regex}
	for _, ind := range indicators {
		if evaluable(ind) {
			m.indicators = append(m.indicators, ind)
		}
	}
	m.literals = newLiteralIndex(m.indicators)
	if m.regex == nil {
		m.regex = util.NewRegexMatcher(util.DefaultRegexTimeout)
	}
	return m
}

// evaluate returns how many components matched rec and whether that is at
// least half of them.
func (m *matcher) evaluate(rec Record) (bool, int) {
	if len(m.indicators) == 0 {
		return false, 0
	}
	cands := m.literals.candidates(rec)
	hits := 0
	for _, ind := range m.indicators {
		if m.match(ind, rec, cands) {
			hits++
		}
	}
	return hits*2 >= len(m.indicators), hits
}

func (m *matcher) match(ind core.Indicator, rec Record, cands map[string]bool) bool {
	switch v := ind.(type) {
	case core.IPIndicator:
		return matchIP(v, rec)
	case core.PortIndicator:
		field := FieldDstPort
		if v.Direction == "src" {
			field = FieldSrcPort
		}
		p, ok := rec.number(field)
		return ok && int(p) >= v.Low && int(p) <= v.High
	case core.ProtocolIndicator:
		return v.Protocol != "" && strings.EqualFold(rec.text(FieldProtocol), v.Protocol)
	case core.DNSIndicator:
		q := strings.TrimSuffix(strings.ToLower(rec.text(FieldDNSQuery)), ".")
		return v.Domain != "" && (q == v.Domain || strings.HasSuffix(q, "."+v.Domain))
	case core.StringIndicator:
		if v.Value == "" || !cands[v.Field] {
			return false
		}
		text := rec.text(v.Field)
		if v.CaseSensitive {
			return strings.Contains(text, v.Value)
		}
		return strings.Contains(asciiLower(text), asciiLower(v.Value))
	case core.RegexIndicator:
		if v.Pattern == "" {
			return false
		}
		ok, err := m.regex.Match(v.Pattern, v.Flags, rec.text(FieldPayload))
		if err != nil {
			if errors.Is(err, util.ErrRegexTimeout) {
				m.regexTimeouts++
			} else {
				m.regexErrors++
			}
			return false
		}
		return ok
	case core.BytesIndicator:
		payload := []byte(rec.text(FieldPayload))
		offset := max(v.Offset, 0)
		if len(v.Bytes) == 0 || offset > len(payload) {
			return false
		}
		return bytes.Contains(payload[offset:], v.Bytes)
	case core.HeaderIndicator:
		got, ok := rec.headers()[strings.ToLower(v.Header)]
		return ok && strings.Contains(got, v.Value)
	case core.HashIndicator:
		return v.Value != "" && strings.EqualFold(rec.text(v.Algorithm), v.Value)
	case core.FileSizeIndicator:
		size, ok := rec.number(FieldFileSize)
		return ok && int64(size) >= v.Min && (v.Max == 0 || int64(size) <= v.Max)
	case core.ProcessIndicator:
		name := rec.text(FieldProcess)
		if i := strings.LastIndexAny(name, `\/`); i >= 0 {
			name = name[i+1:]
		}
		if !strings.EqualFold(name, v.Process) {
			return false
		}
		return v.CommandLine == "" || strings.Contains(rec.text(FieldCommandLine), v.CommandLine)
	case core.RegistryIndicator:
		if !strings.Contains(asciiLower(rec.text(FieldRegistryKey)), asciiLower(v.Key)) {
			return false
		}
		return v.Value == "" || strings.Contains(rec.text(FieldRegistryValue), v.Value)
	case core.BehaviorIndicator:
		return v.Behavior != "" && rec.text(FieldBehavior) == v.Behavior
	}
	return false
}

func matchIP(v core.IPIndicator, rec Record) bool {
	if v.Address == "" || v.Address == "any" {
		return true
	}
	var fields []string
	switch v.Direction {
	case "src":
		fields = []string{FieldSrcIP}
	case "dst":
		fields = []string{FieldDstIP}
	default:
		fields = []string{FieldSrcIP, FieldDstIP}
	}
	for _, f := range fields {
		raw := strings.TrimSpace(rec.text(f))
		if raw == "" {
			continue
		}
		if v.Network != nil {
			if ip := net.ParseIP(raw); ip != nil && v.Network.Contains(ip) {
				return true
			}
			continue
		}
		if a, b := net.ParseIP(raw), net.ParseIP(v.Address); a != nil && b != nil && a.Equal(b) {
			return true
		}
	}
	return false
}

// asciiLower folds ASCII letters only, matching the prefilter's case mode.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
