package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quimtec/bia-assistant-api/internal/domain"
	"github.com/quimtec/bia-assistant-api/internal/infra/store"
)

func newOpenConversation(t *testing.T, s *store.MemoryStore) *domain.Conversation {
	t.Helper()
	now := time.Now()
	conv := &domain.Conversation{
		ID:           uuid.New().String(),
		VisitorID:    uuid.New().String(),
		Status:       domain.StatusOpen,
		StartedAt:    now,
		LastActivity: now,
	}
	if err := s.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func TestBindProviderThread_WriteOnce(t *testing.T) {
	s := store.NewMemoryStore()
	conv := newOpenConversation(t, s)

	winner, err := s.BindProviderThread(context.Background(), conv.ID, "thread_A")
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if winner != "thread_A" {
		t.Errorf("expected thread_A, got %s", winner)
	}

	// Segundo binding perde a corrida e recebe o valor já gravado.
	winner, err = s.BindProviderThread(context.Background(), conv.ID, "thread_B")
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if winner != "thread_A" {
		t.Errorf("expected losing bind to return thread_A, got %s", winner)
	}
}

func TestBindProviderThread_ConcurrentSingleWinner(t *testing.T) {
	s := store.NewMemoryStore()
	conv := newOpenConversation(t, s)

	const goroutines = 16
	results := make([]string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			winner, err := s.BindProviderThread(context.Background(), conv.ID, uuid.New().String())
			if err != nil {
				t.Errorf("bind %d: %v", i, err)
				return
			}
			results[i] = winner
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatalf("more than one thread id bound: %s vs %s", results[0], results[i])
		}
	}

	stored, err := s.FindConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	if stored.ProviderThreadID != results[0] {
		t.Errorf("stored thread %s differs from winner %s", stored.ProviderThreadID, results[0])
	}
}

func TestTouchLastActivity_Monotonic(t *testing.T) {
	s := store.NewMemoryStore()
	conv := newOpenConversation(t, s)

	later := conv.LastActivity.Add(time.Minute)
	if err := s.TouchLastActivity(context.Background(), conv.ID, later); err != nil {
		t.Fatalf("touch: %v", err)
	}

	// Um touch no passado não pode regredir lastActivity.
	if err := s.TouchLastActivity(context.Background(), conv.ID, conv.LastActivity); err != nil {
		t.Fatalf("touch backwards: %v", err)
	}

	stored, _ := s.FindConversation(context.Background(), conv.ID)
	if !stored.LastActivity.Equal(later) {
		t.Errorf("lastActivity regressed: got %v, want %v", stored.LastActivity, later)
	}
}

func TestCloseConversation_Idempotent(t *testing.T) {
	s := store.NewMemoryStore()
	conv := newOpenConversation(t, s)

	ended := time.Now()
	if err := s.CloseConversation(context.Background(), conv.ID, ended, 42); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Fechar de novo com outros valores não sobrescreve nada.
	if err := s.CloseConversation(context.Background(), conv.ID, ended.Add(time.Hour), 9999); err != nil {
		t.Fatalf("second close: %v", err)
	}

	stored, _ := s.FindConversation(context.Background(), conv.ID)
	if stored.Status != domain.StatusClosed {
		t.Errorf("expected CLOSED, got %s", stored.Status)
	}
	if stored.DurationSeconds != 42 {
		t.Errorf("expected duration 42, got %d", stored.DurationSeconds)
	}
}

func TestListMessages_OrderedByCreatedAt(t *testing.T) {
	s := store.NewMemoryStore()
	conv := newOpenConversation(t, s)

	base := time.Now()
	// Inserção fora de ordem de propósito.
	for i, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		msg := &domain.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Role:           domain.RoleUser,
			Content:        string(rune('a' + i)),
			CreatedAt:      base.Add(offset),
		}
		if err := s.AppendMessage(context.Background(), msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("messages out of order at index %d", i)
		}
	}
}

func TestFindConversation_NotFound(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.FindConversation(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if _, ok := err.(*domain.ErrNotFound); !ok {
		t.Errorf("expected ErrNotFound, got %T", err)
	}
}
