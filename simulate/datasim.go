package simulate

import (
	"context"

	"sigforge/core"
)

// ctxCheckEvery is how many records are evaluated between context checks.
const ctxCheckEvery = 64

// Confusion holds the data-simulation classification counts.
type Confusion struct {
	TruePositives  int `json:"truePositives"`
	FalsePositives int `json:"falsePositives"`
	TrueNegatives  int `json:"trueNegatives"`
	FalseNegatives int `json:"falseNegatives"`
}

func (c *Confusion) add(expected, matched bool) {
	switch {
	case expected && matched:
		c.TruePositives++
	case expected:
		c.FalseNegatives++
	case matched:
		c.FalsePositives++
	default:
		c.TrueNegatives++
	}
}

// Accuracy is the share of correctly classified records.
func (c Confusion) Accuracy() float64 {
	return ratio(c.TruePositives+c.TrueNegatives, c.TruePositives+c.TrueNegatives+c.FalsePositives+c.FalseNegatives)
}

// Precision is TP / (TP + FP).
func (c Confusion) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

// Recall is TP / (TP + FN).
func (c Confusion) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// dataSimulation evaluates the graph's components against sample records
// and scores the classification against each record's expected label.
func (e *Engine) dataSimulation(ctx context.Context, g *core.Graph, r *TestResult) {
	indicators, problems := core.DecodeAll(g)
	for _, p := range problems {
		r.warnf("%s", p)
	}

	m := newMatcher(indicators, e.regex)
	r.Metrics["evaluableComponents"] = len(m.indicators)
	if len(m.indicators) == 0 {
		r.warnf("no component can be evaluated against sample data")
		return
	}

	records, source := e.samples(ctx, g, indicators, r)
	if ctx.Err() != nil {
		return
	}
	if len(records) > e.cfg.SampleCount {
		records = records[:e.cfg.SampleCount]
	}

	var c Confusion
	for i, rec := range records {
		if i%ctxCheckEvery == 0 && ctx.Err() != nil {
			return
		}
		matched, _ := m.evaluate(rec)
		c.add(rec.ExpectedMatch, matched)
	}

	accuracy := c.Accuracy()
	if accuracy < e.cfg.AccuracyThreshold {
		r.warnf("accuracy %.2f is below threshold %.2f", accuracy, e.cfg.AccuracyThreshold)
	}
	if m.regexTimeouts > 0 {
		r.warnf("%d regex evaluations timed out", m.regexTimeouts)
	}
	if m.regexErrors > 0 {
		r.warnf("%d regex evaluations failed", m.regexErrors)
	}

	r.Metrics["samples"] = len(records)
	r.Metrics["source"] = source
	r.Metrics["confusion"] = c
	r.Metrics["accuracy"] = round(accuracy)
	r.Metrics["precision"] = round(c.Precision())
	r.Metrics["recall"] = round(c.Recall())
	r.Metrics["regexTimeouts"] = m.regexTimeouts
}

// samples loads records from the configured source, falling back to
// synthetic records when there is no source or it yields nothing.
func (e *Engine) samples(ctx context.Context, g *core.Graph, indicators []core.Indicator, r *TestResult) ([]Record, string) {
	if e.source != nil {
		recs, err := e.source.Records(ctx, e.cfg.SampleCount)
		switch {
		case err != nil:
			r.warnf("sample data unavailable, using synthetic records: %v", err)
		case len(recs) == 0:
			r.warnf("sample data is empty, using synthetic records")
		default:
			return recs, "dataset"
		}
	}

	for _, ind := range indicators {
		if evaluable(ind) && !Synthesizable(ind) {
			r.warnf("%s cannot be synthesized; synthetic positives will not exercise it", g.Label(ind.NodeRef().NodeID))
		}
	}
	return Synthesize(indicators, e.cfg.SampleCount, e.cfg.Seed), "synthetic"
}
