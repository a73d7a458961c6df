package simulate

import (
	"context"
	"time"

	"sigforge/compiler"
	"sigforge/core"
)

// FormatOutcome is the format-generation record for one target.
type FormatOutcome struct {
	Success    bool     `json:"success"`
	DurationMs float64  `json:"durationMs"`
	Bytes      int      `json:"bytes,omitempty"`
	Error      string   `json:"error,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// formatGeneration compiles the graph to every format as a dry run, so no
// SID is consumed, and checks each output is well-formed.
func (e *Engine) formatGeneration(ctx context.Context, g *core.Graph, r *TestResult) {
	if e.compiler == nil {
		r.errorf("no compiler configured")
		return
	}

	outcomes := make(map[string]FormatOutcome, len(compiler.Formats))
	succeeded := 0
	seen := make(map[string]bool)
	for _, f := range compiler.Formats {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		rule, err := e.compiler.Compile(ctx, g, f, compiler.Options{DryRun: true})
		if err == nil {
			err = compiler.Check(rule)
		}
		out := FormatOutcome{DurationMs: millis(time.Since(started))}
		if err != nil {
			out.Error = err.Error()
			r.errorf("%s: %v", f, err)
		} else {
			out.Success = true
			out.Bytes = len(rule.Text)
			out.Warnings = rule.Warnings
			succeeded++
			for _, w := range rule.Warnings {
				if !seen[w] {
					seen[w] = true
					r.warnf("%s: %s", f, w)
				}
			}
		}
		outcomes[string(f)] = out
	}

	if succeeded == 0 {
		r.errorf("no format could be generated")
	}
	r.Metrics["formats"] = outcomes
	r.Metrics["succeeded"] = succeeded
	r.Metrics["failed"] = len(compiler.Formats) - succeeded
}
