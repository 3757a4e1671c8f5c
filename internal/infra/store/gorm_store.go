// Package store implementa o ConversationStore em dois backends:
// GORM + Postgres (produção) e memória (dev/teste). Os dois obedecem
// exatamente o mesmo contrato — inclusive o compare-and-set do binding
// de thread, que é o único ponto com disciplina de concorrência.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/quimtec/bia-assistant-api/internal/domain"
)

// GormStore implements port.ConversationStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&VisitorModel{}, &ConversationModel{}, &MessageModel{}, &FeedbackModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// ============================================================
// Visitantes
// ============================================================

// CreateVisitor persiste um novo visitante.
func (s *GormStore) CreateVisitor(ctx context.Context, v *domain.Visitor) error {
	model := visitorToModel(v)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return &domain.ErrStore{Op: "create_visitor", Err: err}
	}
	return nil
}

// FindVisitorByEmail busca pelo email (chave natural).
func (s *GormStore) FindVisitorByEmail(ctx context.Context, email string) (*domain.Visitor, error) {
	var model VisitorModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "visitor", ID: email}
		}
		return nil, &domain.ErrStore{Op: "find_visitor_by_email", Err: err}
	}
	v := visitorFromModel(model)
	return &v, nil
}

// FindVisitor busca pelo id.
func (s *GormStore) FindVisitor(ctx context.Context, id string) (*domain.Visitor, error) {
	var model VisitorModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "visitor", ID: id}
		}
		return nil, &domain.ErrStore{Op: "find_visitor", Err: err}
	}
	v := visitorFromModel(model)
	return &v, nil
}

// ============================================================
// Conversas
// ============================================================

// CreateConversation persiste uma nova conversa (status OPEN, sem thread).
func (s *GormStore) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	model := conversationToModel(c)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return &domain.ErrStore{Op: "create_conversation", Err: err}
	}
	return nil
}

// FindConversation busca uma conversa pelo id.
func (s *GormStore) FindConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ErrNotFound{Resource: "conversation", ID: id}
		}
		return nil, &domain.ErrStore{Op: "find_conversation", Err: err}
	}
	c := conversationFromModel(model)
	return &c, nil
}

// BindProviderThread grava o threadID com UPDATE condicional: só escreve se
// provider_thread_id ainda é NULL. Se outra chamada concorrente venceu a
// corrida, RowsAffected vem 0 e devolvemos o threadID que já está no banco.
// Retorna sempre o threadID vencedor.
func (s *GormStore) BindProviderThread(ctx context.Context, conversationID, threadID string) (string, error) {
	res := s.db.WithContext(ctx).
		Model(&ConversationModel{}).
		Where("id = ? AND provider_thread_id IS NULL", conversationID).
		Update("provider_thread_id", threadID)
	if res.Error != nil {
		return "", &domain.ErrStore{Op: "bind_provider_thread", Err: res.Error}
	}
	if res.RowsAffected == 1 {
		return threadID, nil
	}

	// Perdeu a corrida (ou a conversa não existe): relê para descobrir.
	conv, err := s.FindConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv.ProviderThreadID == "" {
		return "", &domain.ErrStore{Op: "bind_provider_thread",
			Err: fmt.Errorf("conversation %s has no thread after losing bind race", conversationID)}
	}
	return conv.ProviderThreadID, nil
}

// TouchLastActivity avança lastActivity sem regredir (monotônico).
func (s *GormStore) TouchLastActivity(ctx context.Context, conversationID string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&ConversationModel{}).
		Where("id = ? AND last_activity <= ?", conversationID, at).
		Update("last_activity", at)
	if res.Error != nil {
		return &domain.ErrStore{Op: "touch_last_activity", Err: res.Error}
	}
	return nil
}

// CloseConversation marca CLOSED e grava endedAt + duração. A transição só
// acontece se a conversa ainda está OPEN; fechar de novo é no-op.
func (s *GormStore) CloseConversation(ctx context.Context, conversationID string, endedAt time.Time, durationSeconds int64) error {
	res := s.db.WithContext(ctx).
		Model(&ConversationModel{}).
		Where("id = ? AND status = ?", conversationID, string(domain.StatusOpen)).
		Updates(map[string]any{
			"status":           string(domain.StatusClosed),
			"ended_at":         endedAt,
			"duration_seconds": durationSeconds,
		})
	if res.Error != nil {
		return &domain.ErrStore{Op: "close_conversation", Err: res.Error}
	}
	return nil
}

// ============================================================
// Mensagens e feedback
// ============================================================

// AppendMessage records a message. Insert-only; o banco faz o resto.
func (s *GormStore) AppendMessage(ctx context.Context, m *domain.Message) error {
	model := messageToModel(m)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return &domain.ErrStore{Op: "append_message", Err: err}
	}
	return nil
}

// ListMessages devolve as mensagens na ordem canônica (created_at ASC).
func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, &domain.ErrStore{Op: "list_messages", Err: err}
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// SaveFeedback persiste uma avaliação.
func (s *GormStore) SaveFeedback(ctx context.Context, f *domain.Feedback) error {
	model := feedbackToModel(f)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return &domain.ErrStore{Op: "save_feedback", Err: err}
	}
	return nil
}

// Ping verifica a conexão com o banco.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &domain.ErrStore{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &domain.ErrStore{Op: "ping", Err: err}
	}
	return nil
}

// ============================================================
// Conversões model ↔ domain
// ============================================================

func visitorToModel(v *domain.Visitor) VisitorModel {
	return VisitorModel{
		ID:            v.ID,
		Nome:          v.Nome,
		Email:         v.Email,
		Telefone:      v.Telefone,
		CNPJ:          v.CNPJ,
		Empresa:       v.Empresa,
		Cargo:         v.Cargo,
		Area:          v.Area,
		Interesse:     v.Interesse,
		Consentimento: v.Consentimento,
		CreatedAt:     v.CreatedAt,
	}
}

func visitorFromModel(m VisitorModel) domain.Visitor {
	return domain.Visitor{
		ID:            m.ID,
		Nome:          m.Nome,
		Email:         m.Email,
		Telefone:      m.Telefone,
		CNPJ:          m.CNPJ,
		Empresa:       m.Empresa,
		Cargo:         m.Cargo,
		Area:          m.Area,
		Interesse:     m.Interesse,
		Consentimento: m.Consentimento,
		CreatedAt:     m.CreatedAt,
	}
}

func conversationToModel(c *domain.Conversation) ConversationModel {
	var threadID *string
	if c.ProviderThreadID != "" {
		t := c.ProviderThreadID
		threadID = &t
	}
	return ConversationModel{
		ID:               c.ID,
		VisitorID:        c.VisitorID,
		ProviderThreadID: threadID,
		Status:           string(c.Status),
		StartedAt:        c.StartedAt,
		EndedAt:          c.EndedAt,
		LastActivity:     c.LastActivity,
		DurationSeconds:  c.DurationSeconds,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	threadID := ""
	if m.ProviderThreadID != nil {
		threadID = *m.ProviderThreadID
	}
	return domain.Conversation{
		ID:               m.ID,
		VisitorID:        m.VisitorID,
		ProviderThreadID: threadID,
		Status:           domain.ConversationStatus(m.Status),
		StartedAt:        m.StartedAt,
		EndedAt:          m.EndedAt,
		LastActivity:     m.LastActivity,
		DurationSeconds:  m.DurationSeconds,
	}
}

func messageToModel(m *domain.Message) MessageModel {
	return MessageModel{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           string(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func feedbackToModel(f *domain.Feedback) FeedbackModel {
	return FeedbackModel{
		ID:             f.ID,
		ConversationID: f.ConversationID,
		Positive:       f.Positive,
		CreatedAt:      f.CreatedAt,
	}
}
