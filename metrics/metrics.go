package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for signature compilation and testing.
//
// Metrics live on a Metrics value bound to a registerer rather than in
// package globals, so tests and embedded hosts can use their own registry.
// All Record methods are safe on a nil *Metrics.

const namespace = "sigforge"

// Metrics holds every collector exported by sigforge.
type Metrics struct {
	// Compilations counts compile attempts.
	// Labels:
	//   - format: target rule format
	//   - result: "success", "cached" or "error"
	Compilations *prometheus.CounterVec

	// CompileDuration measures uncached compilation time per format.
	CompileDuration *prometheus.HistogramVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CachePurges prometheus.Counter

	// SIDAllocations counts SIDs handed out.
	// Labels:
	//   - category: malware, network, web, custom or fallback
	SIDAllocations *prometheus.CounterVec

	// TestResults counts simulation test outcomes.
	// Labels:
	//   - test: test type
	//   - status: passed, failed, warning or error
	TestResults *prometheus.CounterVec

	TestDuration *prometheus.HistogramVec

	ValidationRuns   prometheus.Counter
	ValidationErrors prometheus.Counter

	// GraphMutations counts events published by sessions, by event type.
	GraphMutations *prometheus.CounterVec
}

// New registers the sigforge collectors with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Compilations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "compiler",
				Name:      "compilations_total",
				Help:      "Total number of rule compilations",
			},
			[]string{"format", "result"},
		),
		CompileDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "compiler",
				Name:      "compile_duration_seconds",
				Help:      "Time spent generating a rule",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8), // 100μs to ~1.6s
			},
			[]string{"format"},
		),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "cache_hits_total",
			Help:      "Total number of compile cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "cache_misses_total",
			Help:      "Total number of compile cache misses",
		}),
		CachePurges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "cache_purges_total",
			Help:      "Total number of compile cache invalidations",
		}),
		SIDAllocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sid",
				Name:      "allocations_total",
				Help:      "Total number of SIDs allocated",
			},
			[]string{"category"},
		),
		TestResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulation",
				Name:      "test_results_total",
				Help:      "Total number of simulation test results",
			},
			[]string{"test", "status"},
		),
		TestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulation",
				Name:      "test_duration_seconds",
				Help:      "Time spent running a simulation test",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"test"},
		),
		ValidationRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "runs_total",
			Help:      "Total number of graph validations",
		}),
		ValidationErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validator",
			Name:      "errors_total",
			Help:      "Total number of validation errors reported",
		}),
		GraphMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "events_total",
				Help:      "Total number of graph events by type",
			},
			[]string{"type"},
		),
	}
}

// RecordCompilation records a compile outcome. Cached results do not
// observe the duration histogram.
func (m *Metrics) RecordCompilation(format string, cached bool, err error, durationSec float64) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.Compilations.WithLabelValues(format, "error").Inc()
	case cached:
		m.Compilations.WithLabelValues(format, "cached").Inc()
		m.CacheHits.Inc()
	default:
		m.Compilations.WithLabelValues(format, "success").Inc()
		m.CacheMisses.Inc()
		m.CompileDuration.WithLabelValues(format).Observe(durationSec)
	}
}

// RecordCachePurge records a wholesale cache invalidation.
func (m *Metrics) RecordCachePurge() {
	if m == nil {
		return
	}
	m.CachePurges.Inc()
}

// RecordSIDAllocation records one allocated SID.
func (m *Metrics) RecordSIDAllocation(category string) {
	if m == nil {
		return
	}
	m.SIDAllocations.WithLabelValues(category).Inc()
}

// RecordTestResult records a finished simulation test.
func (m *Metrics) RecordTestResult(test, status string, durationSec float64) {
	if m == nil {
		return
	}
	m.TestResults.WithLabelValues(test, status).Inc()
	m.TestDuration.WithLabelValues(test).Observe(durationSec)
}

// RecordValidation records a validation run and its error count.
func (m *Metrics) RecordValidation(errorCount int) {
	if m == nil {
		return
	}
	m.ValidationRuns.Inc()
	m.ValidationErrors.Add(float64(errorCount))
}

// RecordGraphEvent records a published graph event.
func (m *Metrics) RecordGraphEvent(eventType string) {
	if m == nil {
		return
	}
	m.GraphMutations.WithLabelValues(eventType).Inc()
}
