package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Record field names understood by the matchers. File hashes use the
// algorithm name (md5, sha1, sha256) as the field.
const (
	FieldSrcIP         = "src_ip"
	FieldDstIP         = "dst_ip"
	FieldSrcPort       = "src_port"
	FieldDstPort       = "dst_port"
	FieldProtocol      = "protocol"
	FieldDNSQuery      = "dns_query"
	FieldPayload       = "payload"
	FieldHTTPHeaders   = "http_headers"
	FieldFileSize      = "file_size"
	FieldProcess       = "process_name"
	FieldCommandLine   = "command_line"
	FieldRegistryKey   = "registry_key"
	FieldRegistryValue = "registry_value"
	FieldBehavior      = "behavior"
)

// Record is one sample event. ExpectedMatch only scores the simulation; it
// never influences matching.
type Record struct {
	Fields        map[string]any `json:"fields"`
	ExpectedMatch bool           `json:"expectedMatch"`
}

// text renders a field as a string. Absent fields are empty.
func (r Record) text(field string) string {
	switch v := r.Fields[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (r Record) has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

func (r Record) number(field string) (float64, bool) {
	switch v := r.Fields[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// headers returns the http_headers field keyed by lower-case name.
func (r Record) headers() map[string]string {
	out := make(map[string]string)
	switch v := r.Fields[FieldHTTPHeaders].(type) {
	case map[string]any:
		for k, val := range v {
			out[strings.ToLower(k)] = fmt.Sprint(val)
		}
	case map[string]string:
		for k, val := range v {
			out[strings.ToLower(k)] = val
		}
	case string:
		for _, line := range strings.Split(v, "\n") {
			if k, val, ok := strings.Cut(line, ":"); ok {
				out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(val)
			}
		}
	}
	return out
}

// DataSource supplies sample records to data-simulation.
type DataSource interface {
	Records(ctx context.Context, limit int) ([]Record, error)
}

// StaticSource serves a fixed slice of records.
type StaticSource []Record

// Records returns at most limit records.
func (s StaticSource) Records(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(s) > limit {
		return s[:limit], nil
	}
	return s, nil
}

// FileSource reads records from a JSON file on every call, so a file that
// disappears degrades to a data-simulation warning.
type FileSource struct {
	Path string
}

// Records loads the file and returns at most limit records.
func (f FileSource) Records(ctx context.Context, limit int) ([]Record, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample data: %w", err)
	}
	defer file.Close()

	recs, err := ReadRecords(file)
	if err != nil {
		return nil, err
	}
	return StaticSource(recs).Records(ctx, limit)
}

// ReadRecords decodes records from r. It accepts a JSON array of records,
// a stream of record objects (JSON lines) or a mix of both.
func ReadRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var out []Record
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("failed to decode sample data: %w", err)
		}
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "[") {
			var batch []Record
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, fmt.Errorf("failed to decode sample data: %w", err)
			}
			out = append(out, batch...)
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode sample data: %w", err)
		}
		out = append(out, rec)
	}
}
