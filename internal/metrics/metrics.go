// Package metrics exposes Prometheus instrumentation for scoring.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision paths reported on the outcome counter.
const (
	PathHardDecline = "hard_decline"
	PathRules       = "rules"
	PathML          = "ml"
)

// Metrics groups the scorer's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	DecisionOutcome *prometheus.CounterVec
	Disagreements   *prometheus.CounterVec
	FallbackHits    prometheus.Counter
	OracleLatency   prometheus.Histogram
	ScoreLatency    prometheus.Histogram
}

// New registers the scorer collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grant_decisions_total",
			Help: "Scoring outcomes by decision and deciding path",
		}, []string{"decision", "path"}),

		Disagreements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grant_ml_disagreements_total",
			Help: "Times the oracle verdict overrode the rule verdict",
		}, []string{"direction"}), // direction: "approve", "decline"

		FallbackHits: f.NewCounter(prometheus.CounterOpts{
			Name: "grant_invalid_status_fallback_total",
			Help: "Rule decisions that reached the invalid parents_status arm",
		}),

		OracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "grant_oracle_duration_seconds",
			Help:    "Duration of probability oracle calls",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		ScoreLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "grant_score_duration_seconds",
			Help:    "Duration of a full scoring call including the oracle",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementOutcome records a final decision.
func (m *Metrics) IncrementOutcome(decision, path string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(decision, path).Inc()
	}
}

// IncrementDisagreement records an oracle override of the rule verdict.
func (m *Metrics) IncrementDisagreement(direction string) {
	if m != nil {
		m.Disagreements.WithLabelValues(direction).Inc()
	}
}

// IncrementFallback records a hit on the defensive rule arm.
func (m *Metrics) IncrementFallback() {
	if m != nil {
		m.FallbackHits.Inc()
	}
}

// ObserveOracleLatency records one oracle call.
func (m *Metrics) ObserveOracleLatency(d time.Duration) {
	if m != nil {
		m.OracleLatency.Observe(d.Seconds())
	}
}

// ObserveScoreLatency records one scoring call.
func (m *Metrics) ObserveScoreLatency(d time.Duration) {
	if m != nil {
		m.ScoreLatency.Observe(d.Seconds())
	}
}
