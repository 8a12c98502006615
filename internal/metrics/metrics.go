// Package metrics holds the prometheus collectors of the intake pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	attachments  *prometheus.CounterVec
	correlations *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gotrs_intake_requests_total",
			Help: "Intake requests by channel and outcome",
		}, []string{"channel", "outcome"}),
		attachments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gotrs_intake_attachments_total",
			Help: "Ingested attachments by result",
		}, []string{"result"}),
		correlations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gotrs_intake_correlations_total",
			Help: "Email correlation decisions by match kind",
		}, []string{"match"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gotrs_intake_duration_seconds",
			Help:    "Time spent handling one intake request",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(channel, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(channel, outcome).Inc()
	m.duration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// Attachment records one attachment outcome ("stored", "rejected", "decode_error", "dropped").
func (m *Metrics) Attachment(result string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(result).Inc()
}

// Correlation records how an inbound email was resolved.
func (m *Metrics) Correlation(match string) {
	if m == nil {
		return
	}
	m.correlations.WithLabelValues(match).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
