package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the sync server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	activeSessions       prometheus.Gauge
	messagesReceived     *prometheus.CounterVec
	messagesBroadcast    *prometheus.CounterVec
	sessionsEvicted      prometheus.Counter
	relayPublishErrors   prometheus.Counter
	relayMessagesApplied prometheus.Counter
}

// New creates and registers Prometheus metrics for the sync server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curlsync_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curlsync_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "curlsync_sessions_active",
		Help: "Number of connected websocket sessions",
	})
	messagesReceived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curlsync_messages_received_total",
		Help: "Inbound client messages by event name",
	}, []string{"event"})
	messagesBroadcast := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curlsync_messages_broadcast_total",
		Help: "Outbound messages queued to sessions by event name",
	}, []string{"event"})
	sessionsEvicted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curlsync_sessions_evicted_total",
		Help: "Sessions closed because their send queue was full",
	})
	relayPublishErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curlsync_relay_publish_errors_total",
		Help: "Failed publishes to the cross-instance relay",
	})
	relayMessagesApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curlsync_relay_messages_applied_total",
		Help: "Updates received from other instances and applied locally",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		activeSessions,
		messagesReceived,
		messagesBroadcast,
		sessionsEvicted,
		relayPublishErrors,
		relayMessagesApplied,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		activeSessions:       activeSessions,
		messagesReceived:     messagesReceived,
		messagesBroadcast:    messagesBroadcast,
		sessionsEvicted:      sessionsEvicted,
		relayPublishErrors:   relayPublishErrors,
		relayMessagesApplied: relayMessagesApplied,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// SetActiveSessions sets the connected sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncMessagesReceived counts one inbound message for event.
func (m *Metrics) IncMessagesReceived(event string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(event).Inc()
}

// AddMessagesBroadcast counts n queued outbound copies of event.
func (m *Metrics) AddMessagesBroadcast(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesBroadcast.WithLabelValues(event).Add(float64(n))
}

// IncSessionsEvicted increments the evicted sessions counter.
func (m *Metrics) IncSessionsEvicted() {
	if m == nil {
		return
	}
	m.sessionsEvicted.Inc()
}

// IncRelayPublishErrors increments the relay publish error counter.
func (m *Metrics) IncRelayPublishErrors() {
	if m == nil {
		return
	}
	m.relayPublishErrors.Inc()
}

// IncRelayMessagesApplied increments the applied relay message counter.
func (m *Metrics) IncRelayMessagesApplied() {
	if m == nil {
		return
	}
	m.relayMessagesApplied.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
