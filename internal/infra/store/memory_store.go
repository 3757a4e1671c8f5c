package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quimtec/bia-assistant-api/internal/domain"
)

// MemoryStore keeps everything in-process. É o backend quando DATABASE_URL
// não está configurado (dev local) e o store dos testes. Implementa o mesmo
// contrato do GormStore, incluindo o compare-and-set do binding de thread —
// aqui garantido pelo mutex.
type MemoryStore struct {
	mu            sync.RWMutex
	visitors      map[string]domain.Visitor // key: visitor ID
	emails        map[string]string         // email -> visitor ID
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message // key: conversation ID
	feedback      []domain.Feedback
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visitors:      make(map[string]domain.Visitor),
		emails:        make(map[string]string),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

// CreateVisitor stores a visitor and indexes its email.
func (m *MemoryStore) CreateVisitor(_ context.Context, v *domain.Visitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visitors[v.ID] = *v
	m.emails[v.Email] = v.ID
	return nil
}

// FindVisitorByEmail looks a visitor up by its natural key.
func (m *MemoryStore) FindVisitorByEmail(_ context.Context, email string) (*domain.Visitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "visitor", ID: email}
	}
	v := m.visitors[id]
	return &v, nil
}

// FindVisitor returns a visitor by ID.
func (m *MemoryStore) FindVisitor(_ context.Context, id string) (*domain.Visitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visitors[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "visitor", ID: id}
	}
	return &v, nil
}

// CreateConversation stores a new conversation.
func (m *MemoryStore) CreateConversation(_ context.Context, c *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = *c
	return nil
}

// FindConversation retrieves a conversation by ID.
func (m *MemoryStore) FindConversation(_ context.Context, id string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "conversation", ID: id}
	}
	return &c, nil
}

// BindProviderThread faz o compare-and-set sob o mutex: o primeiro binding
// vence, os demais recebem o threadID já gravado.
func (m *MemoryStore) BindProviderThread(_ context.Context, conversationID, threadID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return "", &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	if c.ProviderThreadID != "" {
		return c.ProviderThreadID, nil
	}
	c.ProviderThreadID = threadID
	m.conversations[conversationID] = c
	return threadID, nil
}

// TouchLastActivity advances lastActivity, never backwards.
func (m *MemoryStore) TouchLastActivity(_ context.Context, conversationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	if at.After(c.LastActivity) {
		c.LastActivity = at
		m.conversations[conversationID] = c
	}
	return nil
}

// CloseConversation transitions OPEN → CLOSED; closing twice is a no-op.
func (m *MemoryStore) CloseConversation(_ context.Context, conversationID string, endedAt time.Time, durationSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	if c.Status != domain.StatusOpen {
		return nil
	}
	c.Status = domain.StatusClosed
	c.EndedAt = &endedAt
	c.DurationSeconds = durationSeconds
	m.conversations[conversationID] = c
	return nil
}

// AppendMessage records a message linked to a conversation.
func (m *MemoryStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

// ListMessages returns messages ordered by CreatedAt ascending.
func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := make([]domain.Message, len(m.messages[conversationID]))
	copy(msgs, m.messages[conversationID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// SaveFeedback records a thumbs-up/down for a conversation.
func (m *MemoryStore) SaveFeedback(_ context.Context, f *domain.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, *f)
	return nil
}

// Ping always succeeds for the in-memory backend.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}
