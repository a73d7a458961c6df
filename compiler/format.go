package compiler

import (
	"fmt"
	"strings"

	"sigforge/core"
)

// Format is a target rule language.
type Format string

const (
	FormatSnort    Format = "snort"
	FormatSuricata Format = "suricata"
	FormatYARA     Format = "yara"
	FormatSigma    Format = "sigma"
	FormatJSON     Format = "json"
	FormatXML      Format = "xml"
	FormatElastic  Format = "elasticsearch"
	FormatSplunk   Format = "splunk"
)

// Formats lists every supported target in a stable order.
var Formats = []Format{
	FormatSnort,
	FormatSuricata,
	FormatYARA,
	FormatSigma,
	FormatJSON,
	FormatXML,
	FormatElastic,
	FormatSplunk,
}

var formatAliases = map[string]Format{
	"elastic": FormatElastic,
	"es":      FormatElastic,
	"spl":     FormatSplunk,
	"yar":     FormatYARA,
}

// Supported reports whether f is one of the eight targets.
func (f Format) Supported() bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFormat resolves a case-insensitive format name or alias.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if f := Format(name); f.Supported() {
		return f, nil
	}
	if f, ok := formatAliases[name]; ok {
		return f, nil
	}
	return "", &core.GraphError{Op: "parse format", ID: s, Err: core.ErrUnsupportedFormat}
}

// Options tune a single compilation. Options are part of the cache key.
type Options struct {
	// DryRun peeks the next SID instead of consuming it.
	DryRun bool `json:"dryRun,omitempty" mapstructure:"dry_run"`

	// Action overrides the Snort/Suricata action (alert, drop, pass, reject).
	Action string `json:"action,omitempty" mapstructure:"action"`

	// SplunkIndex replaces the default index=* clause.
	SplunkIndex string `json:"splunkIndex,omitempty" mapstructure:"splunk_index"`

	// SplunkStats appends a stats aggregation even without a time-window
	// component.
	SplunkStats bool `json:"splunkStats,omitempty" mapstructure:"splunk_stats"`

	// Lookback overrides the one hour search window used by Elasticsearch
	// and Splunk, e.g. "24h".
	Lookback string `json:"lookback,omitempty" mapstructure:"lookback"`
}

func (o Options) key() string {
	return fmt.Sprintf("dry=%t|action=%s|idx=%s|stats=%t|lb=%s",
		o.DryRun, o.Action, o.SplunkIndex, o.SplunkStats, o.Lookback)
}

func (o Options) lookback() string {
	if o.Lookback == "" {
		return "1h"
	}
	return o.Lookback
}
