// Package metrics exposes stress-test telemetry via Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the stress engine.
type Metrics struct {
	TxSubmittedTotal prometheus.Counter
	TxResolvedTotal  *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec

	ExecutionStatus *prometheus.GaugeVec
	Progress        prometheus.Gauge
	InFlightTxs     prometheus.Gauge

	ConfirmLatency prometheus.Histogram

	mu         sync.Mutex
	lastStatus string
}

// New creates and registers all metrics. A nil registerer falls back to
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		TxSubmittedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stressor_transactions_submitted_total",
				Help: "Total contract calls submitted",
			},
		),

		TxResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stressor_transactions_resolved_total",
				Help: "Total transactions resolved, by terminal status",
			},
			[]string{"status"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stressor_errors_total",
				Help: "Total classified errors, by type",
			},
			[]string{"type"},
		),

		ExecutionStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stressor_execution_status",
				Help: "Current execution status (1 for the active status, 0 otherwise)",
			},
			[]string{"status"},
		),

		Progress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stressor_execution_progress_percent",
				Help: "Iteration progress of the active execution",
			},
		),

		InFlightTxs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stressor_inflight_transactions",
				Help: "Transactions awaiting confirmation",
			},
		),

		ConfirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stressor_confirmation_latency_seconds",
				Help:    "Transaction confirmation latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
	}
}

// TxSubmitted counts one submission.
func (m *Metrics) TxSubmitted() {
	m.TxSubmittedTotal.Inc()
}

// TxResolved counts one terminal resolution.
func (m *Metrics) TxResolved(status string) {
	m.TxResolvedTotal.WithLabelValues(status).Inc()
}

// ErrorRecorded counts one classified error.
func (m *Metrics) ErrorRecorded(errType string) {
	m.ErrorsTotal.WithLabelValues(errType).Inc()
}

// SetStatus flips the status gauge so exactly one label reads 1.
func (m *Metrics) SetStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastStatus != "" {
		m.ExecutionStatus.WithLabelValues(m.lastStatus).Set(0)
	}
	m.ExecutionStatus.WithLabelValues(status).Set(1)
	m.lastStatus = status
}

// SetProgress records iteration progress as a percentage.
func (m *Metrics) SetProgress(percent int) {
	m.Progress.Set(float64(percent))
}

// SetInFlight records the number of unresolved transactions.
func (m *Metrics) SetInFlight(n int) {
	m.InFlightTxs.Set(float64(n))
}

// ObserveConfirmation records one confirmation latency.
func (m *Metrics) ObserveConfirmation(d time.Duration) {
	m.ConfirmLatency.Observe(d.Seconds())
}
