// Package metrics exposes Prometheus collectors for the sync engine and a
// Timer helper for recording operation latencies.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PushDuration tracks the wall-clock time of a full Push call, inline
	// or side-batch.
	PushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fireflight_push_duration_seconds",
			Help:    "Time taken to complete a push in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PullDuration tracks the wall-clock time of a full Pull call.
	PullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fireflight_pull_duration_seconds",
			Help:    "Time taken to complete a pull in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PushPathTotal counts pushes by the path the planner chose.
	PushPathTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fireflight_push_path_total",
			Help: "Total number of pushes by path (inline or side_batch)",
		},
		[]string{"path"},
	)

	PushFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fireflight_push_failures_total",
			Help: "Total number of pushes that returned an error",
		},
	)

	PullFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fireflight_pull_failures_total",
			Help: "Total number of pulls that returned an error",
		},
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fireflight_rollbacks_total",
			Help: "Total number of side-batch pushes rolled back after an integrate failure",
		},
	)

	RollbackFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fireflight_rollback_failures_total",
			Help: "Total number of rollbacks that themselves failed, orphaning staged data",
		},
	)

	SideBatchRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fireflight_side_batch_rows_total",
			Help: "Total number of rows staged into side-batches across all pushes",
		},
	)
)

func init() {
	prometheus.MustRegister(PushDuration)
	prometheus.MustRegister(PullDuration)
	prometheus.MustRegister(PushPathTotal)
	prometheus.MustRegister(PushFailuresTotal)
	prometheus.MustRegister(PullFailuresTotal)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(RollbackFailuresTotal)
	prometheus.MustRegister(SideBatchRowsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
