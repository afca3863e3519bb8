package handler

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics
type Metrics struct {
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	notificationsAccepted *prometheus.CounterVec
	deliveryAttempts      *prometheus.CounterVec
	channelsFailed        *prometheus.CounterVec
	receiptsApplied       *prometheus.CounterVec
	deliveryLatency       *prometheus.HistogramVec
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_accepted_total",
				Help: "Total number of notifications accepted",
			},
			[]string{"priority"},
		),
		deliveryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_attempts_total",
				Help: "Total number of provider delivery attempts",
			},
			[]string{"channel", "outcome"},
		),
		channelsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channels_failed_total",
				Help: "Total number of channels that reached FAILED",
			},
			[]string{"channel"},
		),
		receiptsApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_receipts_total",
				Help: "Total number of provider receipts applied",
			},
			[]string{"channel", "event"},
		),
		deliveryLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delivery_latency_seconds",
				Help:    "Time from acceptance to successful send per channel",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"channel"},
		),
	}
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAccepted records an accepted notification
func (m *Metrics) RecordAccepted(priority string) {
	m.notificationsAccepted.WithLabelValues(priority).Inc()
}

// RecordAttempt records a provider delivery attempt
func (m *Metrics) RecordAttempt(channel, outcome string) {
	m.deliveryAttempts.WithLabelValues(channel, outcome).Inc()
}

// RecordChannelFailed records a channel reaching terminal FAILED
func (m *Metrics) RecordChannelFailed(channel string) {
	m.channelsFailed.WithLabelValues(channel).Inc()
}

// RecordReceipt records an applied provider receipt
func (m *Metrics) RecordReceipt(channel, event string) {
	m.receiptsApplied.WithLabelValues(channel, event).Inc()
}

// RecordDeliveryLatency records time from acceptance to send
func (m *Metrics) RecordDeliveryLatency(channel string, latency time.Duration) {
	m.deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// MetricsHandler exposes the Prometheus scrape endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handler returns the Prometheus HTTP handler
func (h *MetricsHandler) Handler() http.Handler {
	return promhttp.Handler()
}
