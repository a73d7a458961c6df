package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sigforge/core"
	"sigforge/util"
)

var idsActions = map[string]bool{
	"alert":  true,
	"drop":   true,
	"pass":   true,
	"reject": true,
	"log":    true,
}

var classTypes = map[SIDCategory]string{
	SIDMalware:  "trojan-activity",
	SIDNetwork:  "network-scan",
	SIDWeb:      "web-application-attack",
	SIDCustom:   "misc-activity",
	SIDFallback: "misc-activity",
}

// idsRule is the parsed shape of a Snort/Suricata rule.
type idsRule struct {
	Action   string
	Proto    string
	SrcAddr  string
	SrcPort  string
	Dir      string
	DstAddr  string
	DstPort  string
	Options  []string
	Buffered []string
}

func (r idsRule) String() string {
	opts := append(append([]string(nil), r.Options...), r.Buffered...)
	return fmt.Sprintf("%s %s %s %s %s %s %s (%s;)",
		r.Action, r.Proto, r.SrcAddr, r.SrcPort, r.Dir, r.DstAddr, r.DstPort,
		strings.Join(opts, "; "))
}

// generateIDS emits a single Snort or Suricata rule. Suricata output uses
// sticky buffers for HTTP and DNS, a fast_pattern on the first payload
// content and flowbits for behavioral components.
func (c *Compiler) generateIDS(ctx context.Context, b *build, suricata bool) (string, error) {
	target := "snort"
	if suricata {
		target = "suricata"
	}

	category := InferSIDCategory(b.meta, b.indicators)
	if b.opts.DryRun {
		b.sid = c.sids.Peek(category)
	} else {
		sid, err := c.sids.Allocate(ctx, category)
		if err != nil {
			return "", err
		}
		b.sid = sid
	}

	rule := idsRule{
		Action:  idsAction(b),
		Proto:   idsProtocol(b, suricata),
		SrcAddr: "any",
		SrcPort: "any",
		Dir:     "->",
		DstAddr: "any",
		DstPort: "any",
	}

	var src, dst, either, srcPorts, dstPorts []string
	var metadata []string
	contentSeen := false
	payload := func(opts ...string) {
		if suricata && !contentSeen && strings.HasPrefix(opts[0], "content:") {
			opts = append(opts[:1:1], append([]string{"fast_pattern"}, opts[1:]...)...)
		}
		if strings.HasPrefix(opts[0], "content:") {
			contentSeen = true
		}
		rule.Options = append(rule.Options, opts...)
	}

	rule.Options = append(rule.Options, fmt.Sprintf(`msg:"%s"`, util.EscapeRuleString(b.meta.Name)))

	for _, ind := range b.indicators {
		switch v := ind.(type) {
		case core.IPIndicator:
			if v.Address == "" || v.Address == "any" {
				continue
			}
			switch v.Direction {
			case "src":
				src = append(src, v.Address)
			case "dst":
				dst = append(dst, v.Address)
			default:
				either = append(either, v.Address)
			}
		case core.PortIndicator:
			if v.Low == 0 && v.High == 65535 {
				continue
			}
			if v.Direction == "src" {
				srcPorts = append(srcPorts, v.PortSpec())
			} else {
				dstPorts = append(dstPorts, v.PortSpec())
			}
		case core.ProtocolIndicator:
			// header only
		case core.StringIndicator:
			if v.Value == "" {
				continue
			}
			opts := []string{fmt.Sprintf(`content:"%s"`, contentLiteral(v.Value))}
			if !v.CaseSensitive {
				opts = append(opts, "nocase")
			}
			payload(opts...)
		case core.RegexIndicator:
			if v.Pattern == "" {
				continue
			}
			payload(fmt.Sprintf(`pcre:"/%s/%s"`, pcreLiteral(v.Pattern), v.Flags))
		case core.BytesIndicator:
			if len(v.Bytes) == 0 {
				continue
			}
			opts := []string{fmt.Sprintf(`content:"|%s|"`, v.Hex())}
			if v.Offset > 0 {
				opts = append(opts, fmt.Sprintf("offset:%d", v.Offset))
			}
			payload(opts...)
		case core.HeaderIndicator:
			needle := v.Header
			if v.Value != "" {
				needle = v.Header + ": " + v.Value
			}
			if suricata {
				rule.Buffered = append(rule.Buffered, "http.header", fmt.Sprintf(`content:"%s"`, contentLiteral(needle)))
			} else {
				payload(fmt.Sprintf(`content:"%s"`, contentLiteral(needle)), "http_header")
			}
		case core.DNSIndicator:
			if v.Domain == "" {
				continue
			}
			if suricata {
				rule.Buffered = append(rule.Buffered, "dns.query", fmt.Sprintf(`content:"%s"`, contentLiteral(v.Domain)), "nocase")
			} else {
				payload(fmt.Sprintf(`content:"%s"`, contentLiteral(v.Domain)), "nocase")
			}
		case core.HashIndicator:
			if v.Value != "" {
				metadata = append(metadata, v.Algorithm+" "+v.Value)
			}
		case core.FileSizeIndicator:
			if v.Max > 0 {
				payload(fmt.Sprintf("dsize:%d<>%d", v.Min, v.Max))
			} else {
				payload(fmt.Sprintf("dsize:>%d", v.Min))
			}
		case core.BehaviorIndicator:
			name := util.SanitizeIdentifier(v.Behavior, "behavior")
			if suricata {
				payload("flowbits:set," + name)
			} else {
				metadata = append(metadata, "behavior "+name)
			}
		case core.TimeWindowIndicator:
			payload(fmt.Sprintf("detection_filter:track by_src, count %d, seconds %d", v.Count, v.Seconds))
		case core.ProcessIndicator, core.RegistryIndicator:
			ref := ind.NodeRef()
			b.warn("%s component %s cannot be expressed in %s and was omitted", ref.ComponentID, ref.NodeID, target)
		}
	}

	switch {
	case len(either) > 0 && len(src) == 0 && len(dst) == 0:
		rule.DstAddr = addressList(either)
		rule.Dir = "<>"
	default:
		dst = append(dst, either...)
		if len(src) > 0 {
			rule.SrcAddr = addressList(src)
		}
		if len(dst) > 0 {
			rule.DstAddr = addressList(dst)
		}
	}
	if len(srcPorts) > 0 {
		rule.SrcPort = addressList(srcPorts)
	}
	if len(dstPorts) > 0 {
		rule.DstPort = addressList(dstPorts)
	}
	if rule.Proto == "ip" && (len(srcPorts) > 0 || len(dstPorts) > 0) {
		rule.Proto = "tcp"
	}

	tail := []string{
		"classtype:" + classTypes[category],
		fmt.Sprintf("priority:%d", b.meta.Priority.Numeric()),
	}
	if len(metadata) > 0 {
		sort.Strings(metadata)
		tail = append(tail, "metadata:"+strings.Join(metadata, ", "))
	}
	tail = append(tail, fmt.Sprintf("sid:%d", b.sid), "rev:1")
	rule.Buffered = append(rule.Buffered, tail...)

	return rule.String(), nil
}

func idsAction(b *build) string {
	if a := strings.ToLower(b.opts.Action); idsActions[a] {
		return a
	}
	if b.meta.Type == core.RulePrevention {
		return "drop"
	}
	return "alert"
}

// idsProtocol picks the header protocol. Snort only knows transport
// protocols; Suricata also accepts application protocols.
func idsProtocol(b *build, suricata bool) string {
	var hasHeader, hasDNS, hasPort bool
	for _, ind := range b.indicators {
		switch v := ind.(type) {
		case core.ProtocolIndicator:
			return headerProtocol(v.Protocol, suricata)
		case core.HeaderIndicator:
			hasHeader = true
		case core.DNSIndicator:
			hasDNS = true
		case core.PortIndicator:
			hasPort = true
		}
	}
	switch {
	case hasHeader:
		return headerProtocol("http", suricata)
	case hasDNS:
		return headerProtocol("dns", suricata)
	case hasPort:
		return "tcp"
	}
	return "ip"
}

func headerProtocol(proto string, suricata bool) string {
	switch proto {
	case "tcp", "udp", "icmp", "ip":
		return proto
	case "http", "tls":
		if suricata {
			return proto
		}
		return "tcp"
	case "dns":
		if suricata {
			return proto
		}
		return "udp"
	}
	return "ip"
}

func addressList(values []string) string {
	if len(values) == 1 {
		return values[0]
	}
	return "[" + strings.Join(values, ",") + "]"
}

// contentLiteral renders s for a content:"..." option. Characters with
// meaning inside rule options and non-printable bytes are hex encoded.
func contentLiteral(s string) string {
	var b strings.Builder
	inHex := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		special := c == '"' || c == ';' || c == '\\' || c == '|' || c == ':' || c < 0x20 || c >= 0x7f
		switch {
		case special && !inHex:
			fmt.Fprintf(&b, "|%02X", c)
			inHex = true
		case special:
			fmt.Fprintf(&b, " %02X", c)
		default:
			if inHex {
				b.WriteByte('|')
				inHex = false
			}
			b.WriteByte(c)
		}
	}
	if inHex {
		b.WriteByte('|')
	}
	return b.String()
}

func pcreLiteral(pattern string) string {
	return util.EscapeUnescaped(pattern, `";/`)
}
