package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// Reaction engine metrics
	ReactionsApplied  *prometheus.CounterVec
	ReactionsRejected *prometheus.CounterVec
	PointsMoved       *prometheus.CounterVec
	ApplyDuration     *prometheus.HistogramVec
	ConflictRetries   prometheus.Counter

	// Auditor metrics
	AuditRuns  *prometheus.CounterVec
	AuditDrift *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ReactionsApplied: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pp_reactions_applied_total",
					Help: "Reaction toggles committed, by target type and transition",
				},
				[]string{"target_type", "transition"},
			),
			ReactionsRejected: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pp_reactions_rejected_total",
					Help: "Reaction toggles rejected, by target type and reason",
				},
				[]string{"target_type", "reason"},
			),
			PointsMoved: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pp_points_moved_total",
					Help: "Absolute points moved by reaction toggles, by leg",
				},
				[]string{"leg"},
			),
			ApplyDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "pp_reaction_apply_duration_seconds",
					Help:    "Time to apply one reaction toggle including locking",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
				},
				[]string{"target_type"},
			),
			ConflictRetries: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "pp_reaction_conflict_retries_total",
					Help: "Toggles re-run after a datastore concurrency conflict",
				},
			),
			AuditRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pp_audit_runs_total",
					Help: "Consistency audit runs, by outcome",
				},
				[]string{"status"},
			),
			AuditDrift: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "pp_audit_drift_total",
					Help: "Inconsistencies found by the auditor, by kind",
				},
				[]string{"kind"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "route", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"method", "route"},
			),
		}
	})
	return instance
}

// Get returns the metrics instance, creating it on first use.
func Get() *Metrics {
	return Initialize()
}
