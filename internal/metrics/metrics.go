// Package metrics collects and exposes Prometheus metrics for the
// registration engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventregistry/internal/domain"
)

// Recorder is the metrics interface consumed by the registration engine.
type Recorder interface {
	RecordOutcome(operation string, kind domain.FailureKind)
	RecordSuccess(operation string)
	RecordDuration(operation string, d time.Duration)
}

// Collector implements Recorder on top of a Prometheus registry.
type Collector struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventregistry_registration_outcomes_total",
			Help: "Registration engine outcomes by operation and result kind.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventregistry_registration_duration_seconds",
			Help:    "Registration engine operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(c.outcomes, c.duration)
	return c
}

// RecordOutcome counts a failed operation under its failure kind.
func (c *Collector) RecordOutcome(operation string, kind domain.FailureKind) {
	c.outcomes.WithLabelValues(operation, string(kind)).Inc()
}

// RecordSuccess counts a successful operation.
func (c *Collector) RecordSuccess(operation string) {
	c.outcomes.WithLabelValues(operation, "success").Inc()
}

// RecordDuration observes the operation latency.
func (c *Collector) RecordDuration(operation string, d time.Duration) {
	c.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetupMetricsRoute returns the HTTP handler serving the registry's metrics.
func SetupMetricsRoute(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
