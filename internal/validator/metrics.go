package validator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for validation runs.
type Metrics struct {
	// Rule outcomes by ruleset and status
	RuleOutcome *prometheus.CounterVec

	// Rule execution latency by status
	RuleDuration *prometheus.HistogramVec

	// Rows flagged by table
	FlaggedRows *prometheus.CounterVec

	// Positions discarded during merge by table
	DroppedPositions *prometheus.CounterVec

	// Whole-run latency
	RunDuration prometheus.Histogram
}

// NewMetrics registers the validator metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RuleOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "validator_rule_outcomes_total",
			Help: "Total rule outcomes by ruleset and status",
		}, []string{"ruleset", "status"}),

		RuleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "validator_rule_duration_seconds",
			Help:    "Duration of a single rule evaluation by status",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"status"}),

		FlaggedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "validator_flagged_rows_total",
			Help: "Total rows flagged by table",
		}, []string{"table"}),

		DroppedPositions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "validator_dropped_positions_total",
			Help: "Row positions returned by rules that were out of range or named an unknown table",
		}, []string{"table"}),

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "validator_run_duration_seconds",
			Help:    "Duration of a full validation run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// ObserveRule records one rule outcome.
func (m *Metrics) ObserveRule(ruleset string, status Status, d time.Duration) {
	if m != nil {
		m.RuleOutcome.WithLabelValues(ruleset, status.String()).Inc()
		m.RuleDuration.WithLabelValues(status.String()).Observe(d.Seconds())
	}
}

// AddFlagged records flagged rows for a table.
func (m *Metrics) AddFlagged(table string, n int) {
	if m != nil && n > 0 {
		m.FlaggedRows.WithLabelValues(table).Add(float64(n))
	}
}

// AddDropped records discarded positions for a table.
func (m *Metrics) AddDropped(table string, n int) {
	if m != nil && n > 0 {
		m.DroppedPositions.WithLabelValues(table).Add(float64(n))
	}
}

// ObserveRun records the total run duration.
func (m *Metrics) ObserveRun(d time.Duration) {
	if m != nil {
		m.RunDuration.Observe(d.Seconds())
	}
}
