// Package domain — conversation.go define as entidades centrais do chat da Bia.
//
// O modelo é pequeno de propósito:
//
//	Visitor       → quem está conversando (lead capturado pelo formulário)
//	Conversation  → uma sessão de chat (aberta → encerrada, nunca reaberta)
//	Message       → um turno da conversa (imutável depois de criado)
//	Feedback      → avaliação 👍/👎 de uma conversa
//
// A Conversation guarda também o ProviderThreadID: o identificador da thread
// no provedor de IA. Esse campo é escrito NO MÁXIMO uma vez (binding tardio,
// no primeiro send) e nunca muda depois — uma conversa ⇢ uma thread.
package domain

import "time"

// ============================================================
// Enums — status da conversa e papel da mensagem
// ============================================================

// ConversationStatus é o estado de uma conversa.
// A máquina de estados só anda numa direção: OPEN → CLOSED.
type ConversationStatus string

const (
	// StatusOpen — a conversa aceita mensagens, heartbeat e encerramento.
	StatusOpen ConversationStatus = "OPEN"

	// StatusClosed — estado terminal. Qualquer send/heartbeat é rejeitado.
	StatusClosed ConversationStatus = "CLOSED"
)

// MessageRole identifica quem produziu a mensagem.
type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
)

// ============================================================
// Entidades persistidas
// ============================================================

// Visitor é um potencial cliente que preencheu o formulário de contato
// ou iniciou uma conversa. O email é a chave natural (única): se o mesmo
// email voltar, reaproveitamos o registro existente sem sobrescrever nada.
type Visitor struct {
	ID            string    `json:"id"`
	Nome          string    `json:"nome"`
	Email         string    `json:"email"`
	Telefone      string    `json:"telefone,omitempty"`
	CNPJ          string    `json:"cnpj,omitempty"`
	Empresa       string    `json:"empresa,omitempty"`
	Cargo         string    `json:"cargo,omitempty"`
	Area          string    `json:"area,omitempty"`
	Interesse     string    `json:"interesse,omitempty"`
	Consentimento bool      `json:"consentimento"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Conversation é uma sessão de chat de um visitante.
//
// Invariantes:
//   - ProviderThreadID vazio = thread ainda não criada no provedor (binding
//     tardio). Depois de preenchido, nunca muda.
//   - Status só transita OPEN → CLOSED.
//   - LastActivity avança monotonicamente (heartbeat/send).
type Conversation struct {
	ID               string             `json:"id"`
	VisitorID        string             `json:"visitorId"`
	ProviderThreadID string             `json:"providerThreadId,omitempty"`
	Status           ConversationStatus `json:"status"`
	StartedAt        time.Time          `json:"startedAt"`
	EndedAt          *time.Time         `json:"endedAt,omitempty"`
	LastActivity     time.Time          `json:"lastActivity"`

	// DurationSeconds é calculado no encerramento (endedAt - startedAt).
	DurationSeconds int64 `json:"durationSeconds,omitempty"`
}

// Open informa se a conversa ainda aceita operações.
func (c *Conversation) Open() bool {
	return c.Status == StatusOpen
}

// Message é um turno da conversa. Imutável depois de criado; a ordenação
// canônica dentro de uma conversa é CreatedAt ascendente.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Feedback é a avaliação 👍/👎 que o widget envia ao final de um turno.
type Feedback struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Positive       bool      `json:"positive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ============================================================
// DTOs — payloads da API HTTP
// ============================================================

// VisitorProfile é o corpo de POST /v1/conversations/start e POST /v1/visitors.
// Nome e email são obrigatórios; o resto vem do formulário e é texto livre.
type VisitorProfile struct {
	Nome          string `json:"nome"`
	Email         string `json:"email"`
	Telefone      string `json:"telefone,omitempty"`
	CNPJ          string `json:"cnpj,omitempty"`
	Empresa       string `json:"empresa,omitempty"`
	Cargo         string `json:"cargo,omitempty"`
	Area          string `json:"area,omitempty"`
	Interesse     string `json:"interesse,omitempty"`
	Consentimento bool   `json:"consentimento"`
}

// StartResult é a resposta de POST /v1/conversations/start.
// O SessionToken deve acompanhar todas as chamadas seguintes — o servidor
// não guarda nenhuma afinidade de sessão implícita.
type StartResult struct {
	ConversationID string `json:"conversationId"`
	VisitorID      string `json:"visitorId"`
	SessionToken   string `json:"sessionToken"`
}

// SendRequest é o corpo de POST /v1/conversations/{id}/messages.
//
// FormatDirectives são instruções de formatação opcionais (ex: "responda em
// tópicos"). Elas são anexadas ao payload enviado ao modelo, mas a mensagem
// persistida guarda somente Content — o histórico fica legível para humanos.
type SendRequest struct {
	Content          string `json:"content"`
	FormatDirectives string `json:"formatDirectives,omitempty"`
}

// History é a resposta de GET /v1/conversations/{id}: a conversa, o visitante
// e as mensagens em ordem de criação.
type History struct {
	Conversation *Conversation `json:"conversation"`
	Visitor      *Visitor      `json:"visitor,omitempty"`
	Messages     []Message     `json:"messages"`
}

// EndResult é a resposta de POST /v1/conversations/{id}/end.
type EndResult struct {
	EndedAt         time.Time `json:"endedAt"`
	DurationSeconds int64     `json:"durationSeconds"`
}
