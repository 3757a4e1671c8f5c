package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/quimtec/bia-assistant-api/internal/domain"
)

// Metrics holds all Prometheus metrics for the Bia API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	conversations   *prometheus.CounterVec
	messages        *prometheus.CounterVec
	tokensStreamed  prometheus.Counter
	streamErrors    *prometheus.CounterVec
	externalErrors  *prometheus.CounterVec
	activeStreams   prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bia_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		conversations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bia_conversations_total",
				Help: "Conversation lifecycle events.",
			},
			[]string{"event"}, // started | ended
		),
		messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bia_messages_total",
				Help: "Messages persisted by role.",
			},
			[]string{"role"}, // user | assistant
		),
		tokensStreamed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bia_tokens_streamed_total",
				Help: "Token deltas relayed to clients over SSE.",
			},
		),
		streamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bia_stream_errors_total",
				Help: "Streaming turns that ended in error, by stage.",
			},
			[]string{"stage"}, // append_message | run_stream | persist
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bia_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		activeStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bia_active_streams",
				Help: "SSE streams currently open.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrConversation registra um evento de ciclo de vida ("started"/"ended").
func (m *Metrics) IncrConversation(event string) {
	m.conversations.WithLabelValues(event).Inc()
}

// IncrMessage registra uma mensagem persistida ("user"/"assistant").
func (m *Metrics) IncrMessage(role string) {
	m.messages.WithLabelValues(role).Inc()
}

// AddTokensStreamed soma tokens repassados ao cliente.
func (m *Metrics) AddTokensStreamed(n int) {
	m.tokensStreamed.Add(float64(n))
}

// IncrStreamError registra um turno de streaming que terminou em erro.
func (m *Metrics) IncrStreamError(stage string) {
	m.streamErrors.WithLabelValues(stage).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// StreamStarted/StreamFinished controlam o gauge de streams abertos.
func (m *Metrics) StreamStarted()  { m.activeStreams.Inc() }
func (m *Metrics) StreamFinished() { m.activeStreams.Dec() }

// GetChatSnapshot returns a snapshot of chat metrics suitable for the
// GET /v1/metrics/chat endpoint.
func (m *Metrics) GetChatSnapshot() *domain.ChatMetrics {
	// Prometheus counters expose cumulative values since process start.
	started := getCounterValue(m.conversations, "started")
	ended := getCounterValue(m.conversations, "ended")
	userMsgs := getCounterValue(m.messages, "user")
	assistantMsgs := getCounterValue(m.messages, "assistant")
	streamErrs := getCounterValue(m.streamErrors, "append_message") +
		getCounterValue(m.streamErrors, "run_stream") +
		getCounterValue(m.streamErrors, "persist")

	tokens := float64(0)
	md := &dto.Metric{}
	if err := m.tokensStreamed.Write(md); err == nil && md.Counter != nil && md.Counter.Value != nil {
		tokens = *md.Counter.Value
	}

	errorRate := float64(0)
	if turns := assistantMsgs + streamErrs; turns > 0 {
		errorRate = streamErrs / turns
	}

	return &domain.ChatMetrics{
		ConversationsStarted: int64(started),
		ConversationsEnded:   int64(ended),
		UserMessages:         int64(userMsgs),
		AssistantMessages:    int64(assistantMsgs),
		TokensStreamed:       int64(tokens),
		StreamErrors:         int64(streamErrs),
		ErrorRate:            errorRate,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
