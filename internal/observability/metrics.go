// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Write engine metrics
	WriteActions   *prometheus.CounterVec
	WriteFailures  *prometheus.CounterVec
	CursorHeight   *prometheus.GaugeVec

	// Milestone processor metrics
	MilestonesProcessed *prometheus.CounterVec
	MilestoneAttempts   prometheus.Histogram

	// Reconciliation processor metrics
	ReportsProcessed        *prometheus.CounterVec
	NotificationsDispatched prometheus.Counter

	// Lifecycle orchestrator metrics
	TicksStarted  prometheus.Counter
	TicksSkipped  prometheus.Counter
	TickDuration  prometheus.Histogram
	ChainCalls    *prometheus.CounterVec
	ContestErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "contest_engine"
	}

	return &Metrics{
		WriteActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "write_actions_total",
			Help:      "Total write actions by action name and result status",
		}, []string{"action", "status"}),
		WriteFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "write_failures_total",
			Help:      "Total write action failures by error code",
		}, []string{"action", "code"}),
		CursorHeight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cursor_height",
			Help:      "Latest ingested block height per contract",
		}, []string{"chain_id", "contract"}),

		MilestonesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "milestone",
			Name:      "processed_total",
			Help:      "Total milestone jobs by outcome",
		}, []string{"outcome"}),
		MilestoneAttempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "milestone",
			Name:      "attempts",
			Help:      "Attempt count at terminal state",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),

		ReportsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "reports_processed_total",
			Help:      "Total reconciliation report jobs by outcome",
		}, []string{"outcome"}),
		NotificationsDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "notifications_dispatched_total",
			Help:      "Total report notifications dispatched",
		}),

		TicksStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "ticks_started_total",
			Help:      "Total orchestrator ticks started",
		}),
		TicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "ticks_skipped_total",
			Help:      "Total ticks suppressed by the reentrancy guard",
		}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "tick_duration_seconds",
			Help:      "Tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ChainCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "chain_calls_total",
			Help:      "Total state-advancing chain calls by kind",
		}, []string{"kind"}),
		ContestErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "contest_errors_total",
			Help:      "Total per-contest tick errors (isolated, batch continues)",
		}),
	}
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
