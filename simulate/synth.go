package simulate

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"regexp/syntax"
	"strings"

	"sigforge/core"
)

const negativeAttempts = 8

var (
	noiseWords = []string{
		"GET", "POST", "index.html", "login", "static", "images", "session",
		"HTTP/1.1", "Accept", "keep-alive", "cache", "update", "status", "ok",
	}
	noiseProtocols = []string{"tcp", "udp", "icmp", "http", "dns", "tls"}
	noiseProcesses = []string{"notepad.exe", "calc.exe", "winword.exe", "sshd", "nginx"}
	noiseBehaviors = []string{"benign_activity", "scheduled_task", "software_update"}
)

// Synthesize builds n records from the graph's components. Even positions
// are positives carrying a matching value for every component that can be
// synthesized; odd positions are negatives whose values are checked not to
// match. The same seed always yields the same records.
func Synthesize(indicators []core.Indicator, n int, seed uint64) []Record {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	m := newMatcher(indicators, nil)

	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		positive := i%2 == 0
		rec := Record{Fields: baseline(rng), ExpectedMatch: positive}
		for _, ind := range m.indicators {
			if positive {
				setPositive(rec, ind, rng)
			} else {
				setNegative(rec, ind, rng, m)
			}
		}
		out = append(out, rec)
	}
	return out
}

// Synthesizable reports whether Synthesize can produce a matching value
// for the component.
func Synthesizable(ind core.Indicator) bool {
	if r, ok := ind.(core.RegexIndicator); ok {
		_, literal := regexLiteral(r.Pattern, r.Flags)
		return literal
	}
	return evaluable(ind)
}

func baseline(rng *rand.Rand) map[string]any {
	return map[string]any{
		FieldSrcIP:    randomIP(rng),
		FieldDstIP:    randomIP(rng),
		FieldSrcPort:  float64(49152 + rng.IntN(16383)),
		FieldProtocol: "tcp",
		FieldPayload:  noise(rng, 6),
	}
}

// randomIP draws from 198.18.0.0/15, the benchmarking range.
func randomIP(rng *rand.Rand) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, 0xC6120000|rng.Uint32()&0x1FFFF)
	return net.IP(b).String()
}

func noise(rng *rand.Rand, words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = noiseWords[rng.IntN(len(noiseWords))]
	}
	return strings.Join(parts, " ")
}

func appendText(rec Record, field, value string) {
	if cur := rec.text(field); cur != "" {
		rec.Fields[field] = cur + " " + value
		return
	}
	rec.Fields[field] = value
}

func setPositive(rec Record, ind core.Indicator, rng *rand.Rand) {
	switch v := ind.(type) {
	case core.IPIndicator:
		addr := v.Address
		if v.Network != nil {
			addr = v.Network.IP.String()
		}
		if addr == "" || addr == "any" {
			return
		}
		if v.Direction == "src" {
			rec.Fields[FieldSrcIP] = addr
		} else {
			rec.Fields[FieldDstIP] = addr
		}
	case core.PortIndicator:
		field := FieldDstPort
		if v.Direction == "src" {
			field = FieldSrcPort
		}
		rec.Fields[field] = float64(v.Low + rng.IntN(v.High-v.Low+1))
	case core.ProtocolIndicator:
		rec.Fields[FieldProtocol] = v.Protocol
	case core.DNSIndicator:
		if rng.IntN(2) == 0 {
			rec.Fields[FieldDNSQuery] = v.Domain
		} else {
			rec.Fields[FieldDNSQuery] = "www." + v.Domain
		}
	case core.StringIndicator:
		appendText(rec, v.Field, v.Value)
	case core.RegexIndicator:
		if lit, ok := regexLiteral(v.Pattern, v.Flags); ok {
			appendText(rec, FieldPayload, lit)
		}
	case core.BytesIndicator:
		payload := rec.text(FieldPayload)
		if len(payload) < v.Offset {
			payload += strings.Repeat(" ", v.Offset-len(payload))
		}
		rec.Fields[FieldPayload] = payload + string(v.Bytes)
	case core.HeaderIndicator:
		headers, _ := rec.Fields[FieldHTTPHeaders].(map[string]any)
		if headers == nil {
			headers = map[string]any{}
			rec.Fields[FieldHTTPHeaders] = headers
		}
		headers[v.Header] = v.Value
	case core.HashIndicator:
		rec.Fields[v.Algorithm] = v.Value
	case core.FileSizeIndicator:
		size := v.Min + rng.Int64N(1024)
		if v.Max >= v.Min && v.Max > 0 {
			size = v.Min + rng.Int64N(v.Max-v.Min+1)
		}
		rec.Fields[FieldFileSize] = float64(size)
	case core.ProcessIndicator:
		rec.Fields[FieldProcess] = v.Process
		if v.CommandLine != "" {
			appendText(rec, FieldCommandLine, v.CommandLine)
		}
	case core.RegistryIndicator:
		rec.Fields[FieldRegistryKey] = v.Key
		if v.Value != "" {
			rec.Fields[FieldRegistryValue] = v.Value
		}
	case core.BehaviorIndicator:
		rec.Fields[FieldBehavior] = v.Behavior
	}
}

// setNegative writes a value for the component's field that matches none
// of the components reading that field, retrying random values and finally
// dropping the field.
func setNegative(rec Record, ind core.Indicator, rng *rand.Rand, m *matcher) {
	field, gen := negativeGenerator(ind)
	if field == "" {
		return
	}
	var sharing []core.Indicator
	for _, other := range m.indicators {
		if f, _ := negativeGenerator(other); f == field {
			sharing = append(sharing, other)
		}
	}

	for attempt := 0; attempt < negativeAttempts; attempt++ {
		rec.Fields[field] = gen(rng)
		cands := m.literals.candidates(rec)
		clean := true
		for _, other := range sharing {
			if m.match(other, rec, cands) {
				clean = false
				break
			}
		}
		if clean {
			return
		}
	}
	delete(rec.Fields, field)
}

func negativeGenerator(ind core.Indicator) (string, func(*rand.Rand) any) {
	switch v := ind.(type) {
	case core.IPIndicator:
		if v.Address == "" || v.Address == "any" {
			return "", nil
		}
		field := FieldDstIP
		if v.Direction == "src" {
			field = FieldSrcIP
		}
		return field, func(rng *rand.Rand) any { return randomIP(rng) }
	case core.PortIndicator:
		field := FieldDstPort
		if v.Direction == "src" {
			field = FieldSrcPort
		}
		return field, func(rng *rand.Rand) any {
			switch {
			case v.Low > 0 && (v.High >= 65535 || rng.IntN(2) == 0):
				return float64(rng.IntN(v.Low))
			case v.High < 65535:
				return float64(v.High + 1 + rng.IntN(65535-v.High))
			}
			return float64(v.Low)
		}
	case core.ProtocolIndicator:
		return FieldProtocol, func(rng *rand.Rand) any { return noiseProtocols[rng.IntN(len(noiseProtocols))] }
	case core.DNSIndicator:
		return FieldDNSQuery, func(rng *rand.Rand) any { return fmt.Sprintf("host-%d.example.org", rng.IntN(100000)) }
	case core.StringIndicator:
		return v.Field, func(rng *rand.Rand) any { return noise(rng, 6) }
	case core.RegexIndicator, core.BytesIndicator:
		return FieldPayload, func(rng *rand.Rand) any { return noise(rng, 6) }
	case core.HeaderIndicator:
		return FieldHTTPHeaders, func(rng *rand.Rand) any {
			return map[string]any{v.Header: noise(rng, 2)}
		}
	case core.HashIndicator:
		return v.Algorithm, func(rng *rand.Rand) any {
			b := make([]byte, len(v.Value)/2)
			for i := range b {
				b[i] = byte(rng.IntN(256))
			}
			return fmt.Sprintf("%x", b)
		}
	case core.FileSizeIndicator:
		return FieldFileSize, func(rng *rand.Rand) any {
			if v.Min > 0 && (v.Max == 0 || rng.IntN(2) == 0) {
				return float64(rng.Int64N(v.Min))
			}
			if v.Max > 0 {
				return float64(v.Max + 1 + rng.Int64N(1<<20))
			}
			return float64(v.Min)
		}
	case core.ProcessIndicator:
		return FieldProcess, func(rng *rand.Rand) any { return noiseProcesses[rng.IntN(len(noiseProcesses))] }
	case core.RegistryIndicator:
		return FieldRegistryKey, func(rng *rand.Rand) any {
			return fmt.Sprintf(`HKCU\Software\Vendor%d`, rng.IntN(1000))
		}
	case core.BehaviorIndicator:
		return FieldBehavior, func(rng *rand.Rand) any { return noiseBehaviors[rng.IntN(len(noiseBehaviors))] }
	}
	return "", nil
}

// regexLiteral returns the text a pattern matches when the pattern is a
// plain literal, so positives can carry it.
func regexLiteral(pattern, flags string) (string, bool) {
	f := syntax.Perl
	if strings.Contains(flags, "i") {
		f |= syntax.FoldCase
	}
	re, err := syntax.Parse(pattern, f)
	if err != nil {
		return "", false
	}
	re = re.Simplify()
	if re.Op != syntax.OpLiteral {
		return "", false
	}
	return string(re.Rune), true
}
