package domain

// ChatMetrics é o snapshot agregado servido em GET /v1/metrics/chat.
// São valores cumulativos desde o start do processo, derivados dos
// counters Prometheus (a fonte de verdade continua sendo /metrics).
type ChatMetrics struct {
	ConversationsStarted int64   `json:"conversationsStarted"`
	ConversationsEnded   int64   `json:"conversationsEnded"`
	UserMessages         int64   `json:"userMessages"`
	AssistantMessages    int64   `json:"assistantMessages"`
	TokensStreamed       int64   `json:"tokensStreamed"`
	StreamErrors         int64   `json:"streamErrors"`
	ErrorRate            float64 `json:"errorRate"`
	Period               string  `json:"period"`
}
