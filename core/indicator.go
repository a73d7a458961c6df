package core

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"sigforge/catalog"
	"sigforge/util"
)

// Indicator is the typed detection primitive a node decodes to. The set of
// implementations is closed; ExtensionIndicator carries components the
// compiler and simulator have no translation for.
type Indicator interface {
	NodeRef() Ref
	indicator()
}

// Ref identifies the node an indicator came from.
type Ref struct {
	NodeID      string
	ComponentID string
	Category    catalog.Category
}

// NodeRef returns the originating node reference.
func (r Ref) NodeRef() Ref { return r }

func (Ref) indicator() {}

type (
	IPIndicator struct {
		Ref
		Address   string
		Direction string // src, dst or any
		Network   *net.IPNet
	}
	PortIndicator struct {
		Ref
		Low, High int
		Direction string // src or dst
	}
	ProtocolIndicator struct {
		Ref
		Protocol string
	}
	DNSIndicator struct {
		Ref
		Domain string
	}
	StringIndicator struct {
		Ref
		Value         string
		CaseSensitive bool
		Field         string
	}
	RegexIndicator struct {
		Ref
		Pattern string
		Flags   string
	}
	BytesIndicator struct {
		Ref
		Bytes  []byte
		Offset int
	}
	HeaderIndicator struct {
		Ref
		Header string
		Value  string
	}
	HashIndicator struct {
		Ref
		Algorithm string
		Value     string
	}
	FileSizeIndicator struct {
		Ref
		Min, Max int64
	}
	ProcessIndicator struct {
		Ref
		Process     string
		CommandLine string
	}
	RegistryIndicator struct {
		Ref
		Key   string
		Value string
	}
	BehaviorIndicator struct {
		Ref
		Behavior  string
		Threshold int
		Tactics   []string
	}
	TimeWindowIndicator struct {
		Ref
		Seconds int
		Count   int
	}
	ExtensionIndicator struct {
		Ref
		Parameters map[string]any
	}
)

// Hex renders the byte pattern as space separated upper-case pairs.
func (b BytesIndicator) Hex() string {
	parts := make([]string, len(b.Bytes))
	for i, c := range b.Bytes {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, " ")
}

// PortSpec renders the port as "80" or "1024:65535".
func (p PortIndicator) PortSpec() string {
	if p.Low == p.High {
		return strconv.Itoa(p.Low)
	}
	return fmt.Sprintf("%d:%d", p.Low, p.High)
}

var hashLengths = map[string]int{"md5": 32, "sha1": 40, "sha256": 64}

// DecodeIndicator turns a node into its typed indicator. Values that are
// present but malformed (bad CIDR, port, hex, hash or regex) return an error;
// absent values fall back to the catalog default.
func DecodeIndicator(n Node, def *catalog.Definition) (Indicator, error) {
	if def == nil {
		return ExtensionIndicator{
			Ref:        Ref{NodeID: n.ID, ComponentID: n.ComponentID},
			Parameters: n.Parameters,
		}, nil
	}

	ref := Ref{NodeID: n.ID, ComponentID: n.ComponentID, Category: def.Category}
	p := paramReader{values: n.Parameters, def: def}

	switch n.ComponentID {
	case catalog.IPAddress:
		addr := strings.TrimSpace(p.str("address"))
		ind := IPIndicator{Ref: ref, Address: addr, Direction: p.str("direction")}
		if strings.Contains(addr, "/") {
			_, network, err := net.ParseCIDR(addr)
			if err != nil {
				return nil, fmt.Errorf("address %q is not a valid CIDR", addr)
			}
			ind.Network = network
		} else if addr != "" && addr != "any" && net.ParseIP(addr) == nil {
			return nil, fmt.Errorf("address %q is not a valid IP", addr)
		}
		return ind, nil

	case catalog.PortRange:
		lo, hi, err := parsePort(p.str("port"))
		if err != nil {
			return nil, err
		}
		return PortIndicator{Ref: ref, Low: lo, High: hi, Direction: p.str("direction")}, nil

	case catalog.Protocol:
		return ProtocolIndicator{Ref: ref, Protocol: strings.ToLower(p.str("protocol"))}, nil

	case catalog.DNSQuery:
		return DNSIndicator{Ref: ref, Domain: strings.TrimSuffix(strings.ToLower(p.str("domain")), ".")}, nil

	case catalog.StringMatch:
		field := p.str("field")
		if field == "" {
			field = "payload"
		}
		return StringIndicator{Ref: ref, Value: p.str("string"), CaseSensitive: p.boolean("case_sensitive", true), Field: field}, nil

	case catalog.RegexMatch:
		pattern, flags := p.str("pattern"), p.str("flags")
		if pattern != "" {
			if err := util.CheckPattern(pattern, flags); err != nil {
				return nil, err
			}
		}
		return RegexIndicator{Ref: ref, Pattern: pattern, Flags: flags}, nil

	case catalog.BytePattern:
		raw := strings.NewReplacer(" ", "", "|", "", "0x", "", "\\x", "").Replace(p.str("bytes"))
		data, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("bytes %q is not valid hex", p.str("bytes"))
		}
		// a negative offset searches from the start of the payload
		offset := max(int(p.number("offset")), 0)
		return BytesIndicator{Ref: ref, Bytes: data, Offset: offset}, nil

	case catalog.HTTPHeader:
		return HeaderIndicator{Ref: ref, Header: p.str("header"), Value: p.str("value")}, nil

	case catalog.FileHash:
		algo := strings.ToLower(p.str("hash_type"))
		value := strings.ToLower(strings.TrimSpace(p.str("hash_value")))
		if want, ok := hashLengths[algo]; ok && value != "" {
			if _, err := hex.DecodeString(value); err != nil || len(value) != want {
				return nil, fmt.Errorf("hash_value is not a valid %s digest", algo)
			}
		}
		return HashIndicator{Ref: ref, Algorithm: algo, Value: value}, nil

	case catalog.FileSize:
		lo, hi, _ := asRange(n.Parameters["size"])
		return FileSizeIndicator{Ref: ref, Min: int64(lo), Max: int64(hi)}, nil

	case catalog.ProcessName:
		return ProcessIndicator{Ref: ref, Process: p.str("process"), CommandLine: p.str("command_line")}, nil

	case catalog.RegistryKey:
		return RegistryIndicator{Ref: ref, Key: p.str("key"), Value: p.str("value")}, nil

	case catalog.BehavioralIndicator:
		tactics, _ := asStrings(n.Parameters["tactics"])
		threshold := int(p.number("threshold"))
		if threshold < 1 {
			threshold = 1
		}
		return BehaviorIndicator{Ref: ref, Behavior: p.str("behavior"), Threshold: threshold, Tactics: tactics}, nil

	case catalog.TimeWindow:
		count := int(p.number("count"))
		if count < 1 {
			count = 1
		}
		return TimeWindowIndicator{Ref: ref, Seconds: int(p.number("window_seconds")), Count: count}, nil
	}

	return ExtensionIndicator{Ref: ref, Parameters: n.Parameters}, nil
}

// DecodeAll decodes every node of g in insertion order. Nodes that fail to
// decode are skipped and reported in the returned warnings.
func DecodeAll(g *Graph) ([]Indicator, []string) {
	var (
		out      []Indicator
		warnings []string
	)
	for _, n := range g.Nodes() {
		def, _ := g.Definition(n)
		ind, err := DecodeIndicator(n, def)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("component %s (%s) skipped: %v", n.ID, n.ComponentID, err))
			continue
		}
		out = append(out, ind)
	}
	return out, warnings
}

func parsePort(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "any" {
		return 0, 65535, nil
	}
	lo, hi := s, s
	if i := strings.IndexAny(s, ":-"); i >= 0 {
		lo, hi = s[:i], s[i+1:]
	}
	l, err1 := strconv.Atoi(strings.TrimSpace(lo))
	h, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil || l < 0 || h > 65535 || l > h {
		return 0, 0, fmt.Errorf("port %q is not a valid port or lo:hi range", s)
	}
	return l, h, nil
}

type paramReader struct {
	values map[string]any
	def    *catalog.Definition
}

func (r paramReader) get(name string) any {
	if v, ok := r.values[name]; ok && v != nil {
		return v
	}
	return r.def.Parameters[name].Default
}

func (r paramReader) str(name string) string {
	switch v := r.get(name).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (r paramReader) boolean(name string, fallback bool) bool {
	if b, ok := r.get(name).(bool); ok {
		return b
	}
	return fallback
}

func (r paramReader) number(name string) float64 {
	f, _ := asNumber(r.get(name))
	return f
}
