// Package port define as interfaces (ports) entre o service layer e a
// infraestrutura, seguindo arquitetura hexagonal: o ConversationService
// depende destes contratos e NUNCA das implementações concretas
// (GORM/Postgres, API da OpenAI). Isso mantém o service testável com
// mocks triviais e permite trocar o backend sem tocar na orquestração.
package port

import (
	"context"
	"time"

	"github.com/quimtec/bia-assistant-api/internal/domain"
)

// AssistantGateway é a fachada do provedor de IA (API de assistants).
//
// Ele traduz (threadID, content) em (a) uma mensagem durável na thread do
// provedor e (b) um fluxo vivo de tokens com a resposta do modelo. Nenhuma
// persistência local acontece aqui — isso é responsabilidade do caller.
type AssistantGateway interface {
	// CreateThread aloca uma nova thread no provedor e retorna o id dela.
	// Sem estado local; falha com ErrProviderError/ErrCircuitOpen.
	CreateThread(ctx context.Context) (string, error)

	// SubmitAndStream tem um contrato em duas fases:
	//
	//  1. Anexa content como mensagem de usuário na thread, correndo contra
	//     um timeout interno. Se o timer ganhar, retorna ErrProviderTimeout
	//     e o stream NUNCA começa.
	//  2. Dispara um run de streaming preso ao assistant configurado e
	//     retorna a sequência de eventos (N deltas + 1 terminal).
	//
	// Falhas de rede no meio do stream viram um único StreamError terminal;
	// não há resume automático e o mesmo run nunca é repetido.
	SubmitAndStream(ctx context.Context, threadID, content string) (domain.TokenStream, error)
}

// ConversationStore persiste visitantes, conversas, mensagens e feedback.
// Todas as operações retornam ErrNotFound/ErrStore tipados do domain.
type ConversationStore interface {
	// --- Visitantes ---
	CreateVisitor(ctx context.Context, v *domain.Visitor) error
	FindVisitorByEmail(ctx context.Context, email string) (*domain.Visitor, error)
	FindVisitor(ctx context.Context, id string) (*domain.Visitor, error)

	// --- Conversas ---
	CreateConversation(ctx context.Context, c *domain.Conversation) error
	FindConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// BindProviderThread grava o threadID na conversa SOMENTE se ela ainda
	// não tem thread (compare-and-set). Retorna o threadID vencedor: o que
	// acabou de ser gravado, ou o que outra chamada concorrente gravou
	// primeiro. É o único ponto do sistema que exige exclusão mútua.
	BindProviderThread(ctx context.Context, conversationID, threadID string) (string, error)

	// TouchLastActivity avança lastActivity (heartbeat/send).
	TouchLastActivity(ctx context.Context, conversationID string, at time.Time) error

	// CloseConversation marca CLOSED e grava endedAt + duração.
	CloseConversation(ctx context.Context, conversationID string, endedAt time.Time, durationSeconds int64) error

	// --- Mensagens (append-only, sem update/delete) ---
	AppendMessage(ctx context.Context, m *domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// --- Feedback ---
	SaveFeedback(ctx context.Context, f *domain.Feedback) error

	// Ping verifica a saúde do backend (usado pelo /healthz).
	Ping(ctx context.Context) error
}
