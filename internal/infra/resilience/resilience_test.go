package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/quimtec/bia-assistant-api/internal/infra/resilience"
)

// ============================================================
// Retry com backoff
// ============================================================

func TestRetryWithBackoff_FirstTrySucceeds(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 3, InitialBackoff: 5 * time.Millisecond}

	calls := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("RetryWithBackoff() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (sucesso imediato não deve repetir)", calls)
	}
}

func TestRetryWithBackoff_RecoversAfterTransientFailures(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 3, InitialBackoff: 5 * time.Millisecond}

	calls := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("rede instável")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("RetryWithBackoff() error = %v, want sucesso na terceira", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_SurfacesLastError(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: 5 * time.Millisecond}

	wantErr := errors.New("provedor fora do ar")
	calls := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("RetryWithBackoff() error = %v, want o último erro de fn", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (tentativa inicial + 2 retries)", calls)
	}
}

func TestRetryWithBackoff_StopsOnCanceledContext(t *testing.T) {
	cfg := resilience.Config{MaxRetries: 5, InitialBackoff: 1 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		return errors.New("nunca deve repetir com ctx cancelado")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RetryWithBackoff() error = %v, want context.Canceled", err)
	}
}

// ============================================================
// Circuit breaker
// ============================================================

// O breaker abre com >= 5 requisições e >= 60% de falha; aberto, ele corta
// as próximas chamadas com ErrOpenState sem tocar o provedor.
func TestCircuitBreaker_OpensAfterRepeatedFailures(t *testing.T) {
	cb := resilience.NewCircuitBreaker("openai-test")

	boom := errors.New("http 500")
	for i := 0; i < 5; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("chamada %d: error = %v, want o erro do provedor", i, err)
		}
	}

	touched := false
	_, err := cb.Execute(func() (interface{}, error) {
		touched = true
		return nil, nil
	})

	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("com breaker aberto: error = %v, want gobreaker.ErrOpenState", err)
	}
	if touched {
		t.Error("breaker aberto não deve executar a chamada")
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := resilience.NewCircuitBreaker("openai-test")

	// 4 falhas: abaixo do mínimo de 5 requisições, o breaker segue fechado.
	boom := errors.New("http 500")
	for i := 0; i < 4; i++ {
		cb.Execute(func() (interface{}, error) { return nil, boom })
	}

	if _, err := cb.Execute(func() (interface{}, error) { return "ok", nil }); err != nil {
		t.Fatalf("quinta chamada: error = %v, want breaker ainda fechado", err)
	}
}

// ============================================================
// Bulkhead (streams simultâneos)
// ============================================================

func TestBulkhead_LimitsConcurrentSlots(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("primeiro Acquire: %v", err)
	}
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("segundo Acquire: %v", err)
	}

	// Com os 2 slots ocupados, o terceiro stream espera até o ctx expirar.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := bh.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("terceiro Acquire: error = %v, want context.DeadlineExceeded", err)
	}

	bh.Release()
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire após Release: %v", err)
	}
}
