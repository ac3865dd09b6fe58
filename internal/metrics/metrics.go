// Package metrics exposes Prometheus counters for reconcile passes.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poudctl",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconcile passes by result.",
		},
		[]string{"result"},
	)

	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "poudctl",
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of reconcile passes in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~45min
		},
	)

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poudctl",
			Subsystem: "reconcile",
			Name:      "operations_total",
			Help:      "Applied operations by kind and status.",
		},
		[]string{"kind", "status"},
	)

	warningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poudctl",
			Subsystem: "reconcile",
			Name:      "warnings_total",
			Help:      "Planning warnings by code.",
		},
		[]string{"code"},
	)

	managedJails = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poudctl",
			Name:      "managed_jails",
			Help:      "Number of jails in persisted state.",
		},
	)
)

// Register adds the collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(reconcileTotal, reconcileDuration, operationsTotal, warningsTotal, managedJails)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// RecordReconcile records one finished pass. result is "success" or "error".
func RecordReconcile(result string, duration time.Duration) {
	reconcileTotal.WithLabelValues(result).Inc()
	reconcileDuration.Observe(duration.Seconds())
}

// RecordOperation counts one operation outcome.
func RecordOperation(kind, status string) {
	operationsTotal.WithLabelValues(kind, status).Inc()
}

// RecordWarning counts one planning warning.
func RecordWarning(code string) {
	warningsTotal.WithLabelValues(code).Inc()
}

// SetManagedJails sets the managed jail gauge.
func SetManagedJails(n int) {
	managedJails.Set(float64(n))
}
