// Package metrics holds the Prometheus collectors for campaign sends. All
// methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "campaign_mailer"

type Metrics struct {
	registry *prometheus.Registry

	recipients       *prometheus.CounterVec
	suppressed       prometheus.Counter
	campaigns        *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	providerDuration *prometheus.HistogramVec
}

// New registers every collector on a private registry so tests and multiple
// instances never collide on the global one.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recipients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recipients_total",
			Help:      "Recipients processed by the dispatcher, by outcome.",
		}, []string{"outcome"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recipients_suppressed_total",
			Help:      "Recipients removed by the suppression filter.",
		}),
		campaigns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_total",
			Help:      "Finished campaign sends, by terminal status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent sending one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_send_duration_seconds",
			Help:      "Mail provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "status"}),
	}
	m.registry.MustRegister(m.recipients, m.suppressed, m.campaigns, m.batchDuration, m.providerDuration)
	return m
}

func (m *Metrics) RecipientSent() {
	if m == nil {
		return
	}
	m.recipients.WithLabelValues("sent").Inc()
}

func (m *Metrics) RecipientFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recipients.WithLabelValues("failed").Add(float64(n))
}

func (m *Metrics) Suppressed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.suppressed.Add(float64(n))
}

func (m *Metrics) CampaignFinished(status string) {
	if m == nil {
		return
	}
	m.campaigns.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveProvider(provider string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.providerDuration.WithLabelValues(provider, status).Observe(d.Seconds())
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
