// apps/sync-server/internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for metrics collection
type Collector interface {
	// Session metrics
	SessionRegistered(role string)
	SessionStateChanged(from, to string)
	SessionEvicted(role, reason string)

	// Envelope metrics
	EnvelopePublished(messageType string)
	EnvelopeRejected(messageType, reason string)
	EnvelopeReceived(messageType string, sizeBytes int)
	EnvelopeSent(messageType string, sizeBytes int)

	// Coordinator metrics
	ReconnectAttempt(role string)

	// Negotiation metrics
	NegotiationStateChanged(localRole, state string)

	// Feedback metrics
	FeedbackSubmitted(priority string)
	FeedbackStatusChanged(status string)
	FeedbackStoreError(operation string)

	// HTTP metrics
	HTTPRequest(method, path string, status int, duration time.Duration, sizeBytes int)

	// Handler returns an HTTP handler for metrics endpoint
	Handler() http.Handler
}

// PrometheusCollector implements the Collector interface using Prometheus
type PrometheusCollector struct {
	gatherer prometheus.Gatherer

	// Session metrics
	activeSessions     prometheus.Gauge
	sessionRegistered  *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	sessionEvictions   *prometheus.CounterVec

	// Envelope metrics
	envelopesPublished *prometheus.CounterVec
	envelopesRejected  *prometheus.CounterVec
	envelopesReceived  *prometheus.CounterVec
	envelopesSent      *prometheus.CounterVec
	envelopeSize       *prometheus.HistogramVec

	reconnectAttempts *prometheus.CounterVec
	negotiations      *prometheus.CounterVec

	// Feedback metrics
	feedbackSubmitted *prometheus.CounterVec
	feedbackStatus    *prometheus.CounterVec
	feedbackErrors    *prometheus.CounterVec

	// HTTP metrics
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new PrometheusCollector registering its
// metrics on reg. A nil registry falls back to the default registerer.
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &PrometheusCollector{
		gatherer: gatherer,

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "broadcastsync_active_sessions",
			Help: "Number of live participant sessions",
		}),

		sessionRegistered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_sessions_registered_total",
				Help: "Total number of session registrations",
			},
			[]string{"role"},
		),

		sessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_session_transitions_total",
				Help: "Total number of session connection state transitions",
			},
			[]string{"from", "to"},
		),

		sessionEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_session_evictions_total",
				Help: "Total number of evicted sessions",
			},
			[]string{"role", "reason"},
		),

		envelopesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_envelopes_published_total",
				Help: "Total number of envelopes dispatched by the router",
			},
			[]string{"message_type"},
		),

		envelopesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_envelopes_rejected_total",
				Help: "Total number of envelopes rejected by the router",
			},
			[]string{"message_type", "reason"},
		),

		envelopesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_envelopes_received_total",
				Help: "Total number of envelopes read from a transport",
			},
			[]string{"message_type"},
		),

		envelopesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_envelopes_sent_total",
				Help: "Total number of envelopes written to a transport",
			},
			[]string{"message_type"},
		),

		envelopeSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broadcastsync_envelope_size_bytes",
				Help:    "Size of envelopes in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10), // 64B to 32KB
			},
			[]string{"message_type", "direction"},
		),

		reconnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_reconnect_attempts_total",
				Help: "Total number of coordinator reconnect attempts",
			},
			[]string{"role"},
		),

		negotiations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_negotiation_transitions_total",
				Help: "Total number of peer negotiation state transitions",
			},
			[]string{"local_role", "state"},
		),

		feedbackSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_feedback_submitted_total",
				Help: "Total number of feedback messages submitted",
			},
			[]string{"priority"},
		),

		feedbackStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_feedback_status_changes_total",
				Help: "Total number of feedback status transitions",
			},
			[]string{"status"},
		),

		feedbackErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcastsync_feedback_store_errors_total",
				Help: "Total number of feedback store failures",
			},
			[]string{"operation"},
		),

		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
	}
}

// SessionRegistered records a new session
func (c *PrometheusCollector) SessionRegistered(role string) {
	c.sessionRegistered.WithLabelValues(role).Inc()
	c.activeSessions.Inc()
}

// SessionStateChanged records a connection state transition
func (c *PrometheusCollector) SessionStateChanged(from, to string) {
	c.sessionTransitions.WithLabelValues(from, to).Inc()
}

// SessionEvicted records a session leaving the registry
func (c *PrometheusCollector) SessionEvicted(role, reason string) {
	c.sessionEvictions.WithLabelValues(role, reason).Inc()
	c.activeSessions.Dec()
}

// EnvelopePublished records an envelope dispatched to subscribers
func (c *PrometheusCollector) EnvelopePublished(messageType string) {
	c.envelopesPublished.WithLabelValues(messageType).Inc()
}

// EnvelopeRejected records an envelope refused by the router
func (c *PrometheusCollector) EnvelopeRejected(messageType, reason string) {
	c.envelopesRejected.WithLabelValues(messageType, reason).Inc()
}

// EnvelopeReceived records an envelope read from a transport
func (c *PrometheusCollector) EnvelopeReceived(messageType string, sizeBytes int) {
	c.envelopesReceived.WithLabelValues(messageType).Inc()
	c.envelopeSize.WithLabelValues(messageType, "received").Observe(float64(sizeBytes))
}

// EnvelopeSent records an envelope written to a transport
func (c *PrometheusCollector) EnvelopeSent(messageType string, sizeBytes int) {
	c.envelopesSent.WithLabelValues(messageType).Inc()
	c.envelopeSize.WithLabelValues(messageType, "sent").Observe(float64(sizeBytes))
}

// ReconnectAttempt records a reconnect attempt
func (c *PrometheusCollector) ReconnectAttempt(role string) {
	c.reconnectAttempts.WithLabelValues(role).Inc()
}

// NegotiationStateChanged records a negotiation state transition
func (c *PrometheusCollector) NegotiationStateChanged(localRole, state string) {
	c.negotiations.WithLabelValues(localRole, state).Inc()
}

// FeedbackSubmitted records a persisted feedback message
func (c *PrometheusCollector) FeedbackSubmitted(priority string) {
	c.feedbackSubmitted.WithLabelValues(priority).Inc()
}

// FeedbackStatusChanged records a feedback status transition
func (c *PrometheusCollector) FeedbackStatusChanged(status string) {
	c.feedbackStatus.WithLabelValues(status).Inc()
}

// FeedbackStoreError records a failed store operation
func (c *PrometheusCollector) FeedbackStoreError(operation string) {
	c.feedbackErrors.WithLabelValues(operation).Inc()
}

// HTTPRequest records a served HTTP request
func (c *PrometheusCollector) HTTPRequest(method, path string, status int, duration time.Duration, sizeBytes int) {
	c.httpRequests.WithLabelValues(method, path, itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(sizeBytes))
}

// Handler returns an HTTP handler for metrics endpoint
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
