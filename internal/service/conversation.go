// Package service orquestra o ciclo de vida das conversas da Bia:
// intake do visitante, abertura de conversa, envio de mensagem com resposta
// em streaming, heartbeat, histórico e encerramento.
//
// O service fala só com os ports (ConversationStore, AssistantGateway) e
// nunca com HTTP ou SQL diretamente. Toda a política de produto mora aqui:
// binding tardio de thread, persistência USER-antes-de-ASSISTANT, conversa
// encerrada é terminal.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quimtec/bia-assistant-api/internal/domain"
	"github.com/quimtec/bia-assistant-api/internal/infra/observability"
	"github.com/quimtec/bia-assistant-api/internal/port"
)

var convTracer = otel.Tracer("service/conversation")

// ConversationService implementa os casos de uso do chat.
type ConversationService struct {
	store    port.ConversationStore
	gateway  port.AssistantGateway
	sessions *SessionManager
	metrics  *observability.Metrics
	logger   *zap.Logger

	// binding colapsa resoluções de thread concorrentes da MESMA conversa
	// dentro do processo; entre processos, quem decide é o compare-and-set
	// do store.
	binding singleflight.Group
}

// NewConversationService monta o service com suas dependências.
func NewConversationService(
	store port.ConversationStore,
	gateway port.AssistantGateway,
	sessions *SessionManager,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		store:    store,
		gateway:  gateway,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// ============================================================
// Start — POST /v1/conversations/start
// ============================================================

// Start registra (ou reaproveita) o visitante e abre uma conversa.
//
// O visitante é chaveado por email: se já existe, o registro NÃO é
// sobrescrito — o lead original é preservado. A thread no provedor não é
// criada aqui (binding tardio): start precisa ser rápido e barato, e muitas
// conversas morrem sem nenhuma mensagem.
func (s *ConversationService) Start(ctx context.Context, profile *domain.VisitorProfile) (*domain.StartResult, error) {
	ctx, span := convTracer.Start(ctx, "ConversationService.Start")
	defer span.End()

	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	visitor, err := s.resolveVisitor(ctx, profile)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		VisitorID:    visitor.ID,
		Status:       domain.StatusOpen,
		StartedAt:    now,
		LastActivity: now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	token, err := s.sessions.Issue(conv.ID, visitor.ID)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	s.metrics.IncrConversation("started")
	s.logger.Info("conversation started",
		zap.String("conversation_id", conv.ID),
		zap.String("visitor_id", visitor.ID),
	)
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	return &domain.StartResult{
		ConversationID: conv.ID,
		VisitorID:      visitor.ID,
		SessionToken:   token,
	}, nil
}

// resolveVisitor busca o visitante pelo email e cria um novo se não existir.
func (s *ConversationService) resolveVisitor(ctx context.Context, profile *domain.VisitorProfile) (*domain.Visitor, error) {
	existing, err := s.store.FindVisitorByEmail(ctx, profile.Email)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("find visitor: %w", err)
	}

	visitor := &domain.Visitor{
		ID:            uuid.NewString(),
		Nome:          profile.Nome,
		Email:         profile.Email,
		Telefone:      profile.Telefone,
		CNPJ:          profile.CNPJ,
		Empresa:       profile.Empresa,
		Cargo:         profile.Cargo,
		Area:          profile.Area,
		Interesse:     profile.Interesse,
		Consentimento: profile.Consentimento,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateVisitor(ctx, visitor); err != nil {
		return nil, fmt.Errorf("create visitor: %w", err)
	}
	return visitor, nil
}

// ============================================================
// Send — POST /v1/conversations/{id}/messages
// ============================================================

// Send persiste a mensagem do usuário, resolve a thread no provedor e
// retorna o stream de tokens da resposta.
//
// Ordem dos efeitos, fixa:
//
//	1. valida e rejeita conversa inexistente/encerrada (sem efeito nenhum)
//	2. persiste a mensagem USER (só o Content — diretivas ficam de fora)
//	3. resolve/cria a thread do provedor (no máximo uma por conversa)
//	4. submete ao provedor e devolve o stream
//
// Se o provedor falhar depois do passo 2, a mensagem USER FICA no histórico:
// foi o que o usuário disse, independente de a Bia ter conseguido responder.
func (s *ConversationService) Send(ctx context.Context, conversationID string, req *domain.SendRequest) (domain.TokenStream, error) {
	ctx, span := convTracer.Start(ctx, "ConversationService.Send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, &domain.ErrValidation{Field: "content", Message: "mensagem vazia"}
	}

	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Open() {
		return nil, &domain.ErrConversationClosed{ConversationID: conversationID}
	}

	userMsg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	s.metrics.IncrMessage("user")

	threadID, err := s.resolveThread(ctx, conv)
	if err != nil {
		s.metrics.IncrExternalError("openai")
		return nil, err
	}

	upstream, err := s.gateway.SubmitAndStream(ctx, threadID, outboundContent(content, req.FormatDirectives))
	if err != nil {
		s.recordSubmitFailure(err)
		return nil, err
	}

	if err := s.store.TouchLastActivity(ctx, conversationID, time.Now()); err != nil {
		s.logger.Warn("touch last activity failed", zap.Error(err))
	}

	return s.relayStream(conversationID, upstream), nil
}

// resolveThread devolve a thread do provedor para a conversa, criando e
// gravando uma nova se for o primeiro send. Chamadas concorrentes para a
// mesma conversa colapsam via singleflight; se outro processo ganhou a
// corrida, o compare-and-set do store devolve a thread vencedora e a nossa
// vira órfã no provedor (inofensivo).
func (s *ConversationService) resolveThread(ctx context.Context, conv *domain.Conversation) (string, error) {
	if conv.ProviderThreadID != "" {
		return conv.ProviderThreadID, nil
	}

	v, err, _ := s.binding.Do(conv.ID, func() (any, error) {
		// Context próprio: o resultado é compartilhado com outros sends
		// colapsados, então o cancelamento do primeiro caller não pode
		// derrubar a criação da thread para todo mundo.
		bindCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		threadID, err := s.gateway.CreateThread(bindCtx)
		if err != nil {
			return "", err
		}
		winner, err := s.store.BindProviderThread(bindCtx, conv.ID, threadID)
		if err != nil {
			return "", fmt.Errorf("bind provider thread: %w", err)
		}
		if winner != threadID {
			s.logger.Info("lost thread binding race",
				zap.String("conversation_id", conv.ID),
				zap.String("orphan_thread_id", threadID),
			)
		}
		return winner, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// outboundContent monta o payload enviado ao modelo. Diretivas de formatação
// entram só aqui — a mensagem persistida guarda o texto puro do usuário.
func outboundContent(content, directives string) string {
	if directives == "" {
		return content
	}
	return content + "\n\n[Instruções de formatação — não responder a isto]: " + directives
}

// relayStream repassa o stream do provedor acumulando o texto. No End,
// persiste a mensagem ASSISTANT antes de (re)emitir o terminal; assim,
// quando o widget vê o fim do stream, o histórico já está completo.
// Falha de persistência não vira erro de stream: o cliente já recebeu os
// tokens, então logamos, contamos e emitimos o End mesmo assim.
func (s *ConversationService) relayStream(conversationID string, upstream domain.TokenStream) domain.TokenStream {
	out := make(chan domain.StreamEvent)
	s.metrics.StreamStarted()

	go func() {
		defer close(out)
		defer s.metrics.StreamFinished()

		var text strings.Builder
		tokens := 0

		for ev := range upstream {
			switch ev.Type {
			case domain.StreamDelta:
				text.WriteString(ev.Delta)
				tokens++
				out <- ev

			case domain.StreamEnd:
				s.persistAssistantTurn(conversationID, text.String())
				s.metrics.AddTokensStreamed(tokens)
				out <- ev
				return

			case domain.StreamError:
				// Nada é persistido: turno sem resposta no histórico.
				s.metrics.IncrStreamError("run_stream")
				s.metrics.IncrExternalError("openai")
				s.logger.Error("stream failed",
					zap.String("conversation_id", conversationID),
					zap.Error(ev.Err),
				)
				out <- ev
				return
			}
		}
	}()

	return out
}

// persistAssistantTurn grava a resposta completa e avança lastActivity.
// Usa um context próprio: o request HTTP pode já ter sido respondido.
// Um run que terminou sem emitir tokens vira mensagem vazia no histórico;
// isso distingue "o modelo não disse nada" de "o turno falhou".
func (s *ConversationService) persistAssistantTurn(conversationID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        text,
		CreatedAt:      time.Now(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		s.metrics.IncrStreamError("persist")
		s.logger.Error("persist assistant message failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncrMessage("assistant")

	if err := s.store.TouchLastActivity(ctx, conversationID, time.Now()); err != nil {
		s.logger.Warn("touch last activity failed", zap.Error(err))
	}
}

// recordSubmitFailure conta falhas que aconteceram antes do stream começar.
func (s *ConversationService) recordSubmitFailure(err error) {
	s.metrics.IncrExternalError("openai")
	var timeoutErr *domain.ErrProviderTimeout
	if errors.As(err, &timeoutErr) {
		s.metrics.IncrStreamError("append_message")
		return
	}
	s.metrics.IncrStreamError("run_stream")
}

// ============================================================
// End — POST /v1/conversations/{id}/end
// ============================================================

// End encerra a conversa e calcula a duração em segundos.
// Idempotente: encerrar uma conversa já encerrada devolve os valores
// gravados na primeira vez, sem tocar em nada.
func (s *ConversationService) End(ctx context.Context, conversationID string) (*domain.EndResult, error) {
	ctx, span := convTracer.Start(ctx, "ConversationService.End")
	defer span.End()

	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if !conv.Open() {
		return &domain.EndResult{
			EndedAt:         *conv.EndedAt,
			DurationSeconds: conv.DurationSeconds,
		}, nil
	}

	endedAt := time.Now()
	duration := int64(endedAt.Sub(conv.StartedAt).Seconds())
	if err := s.store.CloseConversation(ctx, conversationID, endedAt, duration); err != nil {
		return nil, fmt.Errorf("close conversation: %w", err)
	}

	s.metrics.IncrConversation("ended")
	s.logger.Info("conversation ended",
		zap.String("conversation_id", conversationID),
		zap.Int64("duration_seconds", duration),
	)

	return &domain.EndResult{EndedAt: endedAt, DurationSeconds: duration}, nil
}

// ============================================================
// Heartbeat — POST /v1/conversations/{id}/heartbeat
// ============================================================

// Heartbeat avança lastActivity de uma conversa ABERTA e devolve o novo
// carimbo. Conversa encerrada responde como inexistente: para o widget,
// ela deixou de existir.
func (s *ConversationService) Heartbeat(ctx context.Context, conversationID string) (time.Time, error) {
	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	if !conv.Open() {
		return time.Time{}, &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	at := time.Now()
	if err := s.store.TouchLastActivity(ctx, conversationID, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// ============================================================
// FetchHistory — GET /v1/conversations/{id}
// ============================================================

// FetchHistory devolve a conversa, o visitante e as mensagens em ordem
// de criação. Funciona para conversas abertas e encerradas.
func (s *ConversationService) FetchHistory(ctx context.Context, conversationID string) (*domain.History, error) {
	ctx, span := convTracer.Start(ctx, "ConversationService.FetchHistory")
	defer span.End()

	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	history := &domain.History{Conversation: conv, Messages: messages}

	// O visitante é complementar; histórico sem ele ainda é útil.
	if visitor, err := s.store.FindVisitor(ctx, conv.VisitorID); err == nil {
		history.Visitor = visitor
	}

	return history, nil
}

// ============================================================
// Intake avulso — POST /v1/visitors e POST /v1/feedback
// ============================================================

// RegisterVisitor grava um lead do formulário de contato sem abrir conversa.
// Mesma regra de upsert do Start: email existente não é sobrescrito.
func (s *ConversationService) RegisterVisitor(ctx context.Context, profile *domain.VisitorProfile) (*domain.Visitor, error) {
	if err := validateProfile(profile); err != nil {
		return nil, err
	}
	return s.resolveVisitor(ctx, profile)
}

// SaveFeedback grava a avaliação 👍/👎 de uma conversa existente.
func (s *ConversationService) SaveFeedback(ctx context.Context, conversationID string, positive bool) error {
	if _, err := s.store.FindConversation(ctx, conversationID); err != nil {
		return err
	}
	return s.store.SaveFeedback(ctx, &domain.Feedback{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Positive:       positive,
		CreatedAt:      time.Now(),
	})
}

// ============================================================
// Helpers
// ============================================================

func validateProfile(p *domain.VisitorProfile) error {
	if strings.TrimSpace(p.Nome) == "" {
		return &domain.ErrValidation{Field: "nome", Message: "nome é obrigatório"}
	}
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return &domain.ErrValidation{Field: "email", Message: "email é obrigatório"}
	}
	if !strings.Contains(email, "@") || strings.ContainsAny(email, " \t") {
		return &domain.ErrValidation{Field: "email", Message: "email inválido"}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}
