// Package metrics defines the Prometheus metrics of the benchmark server
// and measurement workers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RecordsLoaded   prometheus.Gauge

	JobsTotal       *prometheus.CounterVec
	MeasureDuration prometheus.Histogram
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fhebench",
			Name:      "requests_total",
			Help:      "Total number of API requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fhebench",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	m.RecordsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fhebench",
			Name:      "records_loaded",
			Help:      "Number of benchmark records in the served registry",
		},
	)

	m.JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fhebench",
			Name:      "jobs_total",
			Help:      "Total number of measurement jobs by final status",
		},
		[]string{"status"},
	)

	m.MeasureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fhebench",
			Name:      "measure_duration_seconds",
			Help:      "Wall time of measurement jobs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RecordsLoaded,
		m.JobsTotal,
		m.MeasureDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(endpoint, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, result).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SetRecords records the size of the served registry.
func (m *Metrics) SetRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsLoaded.Set(float64(n))
}

// ObserveJob records a finished measurement job.
func (m *Metrics) ObserveJob(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
	m.MeasureDuration.Observe(d.Seconds())
}
