// Package metrics exposes the engine's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bops_stage_transitions_total",
			Help: "Case stage events by case type, event and result",
		},
		[]string{"case_type", "event", "result"},
	)

	RequestEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bops_validation_request_events_total",
			Help: "Validation request lifecycle events by category and event",
		},
		[]string{"category", "event"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bops_notifications_total",
			Help: "Notification delivery attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	NotificationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bops_notification_send_seconds",
			Help:    "Time spent handing a notification to the gateway",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bops_sweep_runs_total",
			Help: "Scheduled auto-close sweeps by result",
		},
		[]string{"result"},
	)

	AutoClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bops_requests_auto_closed_total",
			Help: "Validation requests closed by the deadline sweep",
		},
	)
)

// Result labels a counter with ok or error.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
