// Package telemetry provides the billing.Metrics backends: Prometheus for
// scraped deployments and CloudWatch for Lambda.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dirhub/internal/billing"
	"dirhub/internal/core"
)

var (
	_ billing.Metrics       = (*PrometheusMetrics)(nil)
	_ core.MetricsCollector = (*PrometheusMetrics)(nil)
)

// PrometheusMetrics implements billing.Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	webhookEvents   *prometheus.CounterVec
	webhookRejected *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	tierChanges     *prometheus.CounterVec
	checkouts       *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the billing collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Payment provider notifications processed, by event kind and outcome.",
		}, []string{"kind", "outcome"}),

		webhookRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_rejected_total",
			Help:      "Notifications refused before processing, by reason.",
		}, []string{"reason"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_duration_seconds",
			Help:      "End-to-end notification handling time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		tierChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "tier_changes_total",
			Help:      "Committed company tier transitions.",
		}, []string{"from_tier", "to_tier"}),

		checkouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "checkouts_total",
			Help:      "Checkout attempts, by target tier and result.",
		}, []string{"tier", "result"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *PrometheusMetrics) RecordWebhookEvent(kind, outcome string) {
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *PrometheusMetrics) RecordWebhookRejected(reason string) {
	m.webhookRejected.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) RecordWebhookDuration(kind string, d time.Duration) {
	m.webhookDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordTierChange(fromTier, toTier string) {
	m.tierChanges.WithLabelValues(fromTier, toTier).Inc()
}

func (m *PrometheusMetrics) RecordCheckout(tier, result string) {
	m.checkouts.WithLabelValues(tier, result).Inc()
}

// RecordRequest implements core.MetricsCollector.
func (m *PrometheusMetrics) RecordRequest(method, route, status string, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
