package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors. All methods are safe on a nil receiver,
// so components can run without metrics in tests.
type Metrics struct {
	outboxClaimed    prometheus.Counter
	outboxProcessed  *prometheus.CounterVec
	outboxExhausted  *prometheus.CounterVec
	outboxStuck      prometheus.Gauge
	outboxLoopErrors prometheus.Counter

	tokenRefresh  *prometheus.CounterVec
	queueRejected *prometheus.CounterVec
	queueHandled  *prometheus.CounterVec

	httpResponses *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		outboxClaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "account_service_outbox_claimed_total",
			Help: "Outbox messages claimed by the dispatcher.",
		}),
		outboxProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "account_service_outbox_processed_total",
			Help: "Outbox messages processed by outcome.",
		}, []string{"message_type", "outcome"}),
		outboxExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "account_service_outbox_exhausted_total",
			Help: "Outbox messages that failed with no receives remaining.",
		}, []string{"message_type"}),
		outboxStuck: f.NewGauge(prometheus.GaugeOpts{
			Name: "account_service_outbox_stuck_messages",
			Help: "Outbox messages with an exhausted receive budget.",
		}),
		outboxLoopErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "account_service_outbox_loop_errors_total",
			Help: "Dispatcher iterations that failed before processing.",
		}),
		tokenRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Name: "account_service_token_refresh_total",
			Help: "Refresh token requests by outcome.",
		}, []string{"outcome"}),
		queueRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "account_service_queue_rejected_total",
			Help: "Work items rejected because the queue was full.",
		}, []string{"queue"}),
		queueHandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "account_service_queue_handled_total",
			Help: "Work items handled by outcome.",
		}, []string{"queue", "outcome"}),
		httpResponses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "account_service_http_responses_total",
			Help: "HTTP responses by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "account_service_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) OutboxClaimed(n int) {
	if m == nil {
		return
	}
	m.outboxClaimed.Add(float64(n))
}

func (m *Metrics) OutboxProcessed(messageType, outcome string) {
	if m == nil {
		return
	}
	m.outboxProcessed.WithLabelValues(messageType, outcome).Inc()
}

func (m *Metrics) OutboxExhausted(messageType string) {
	if m == nil {
		return
	}
	m.outboxExhausted.WithLabelValues(messageType).Inc()
}

func (m *Metrics) OutboxStuck(n int64) {
	if m == nil {
		return
	}
	m.outboxStuck.Set(float64(n))
}

func (m *Metrics) OutboxLoopError() {
	if m == nil {
		return
	}
	m.outboxLoopErrors.Inc()
}

func (m *Metrics) TokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefresh.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QueueRejected(queue string) {
	if m == nil {
		return
	}
	m.queueRejected.WithLabelValues(queue).Inc()
}

func (m *Metrics) QueueHandled(queue, outcome string) {
	if m == nil {
		return
	}
	m.queueHandled.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) HTTPResponse(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpResponses.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
