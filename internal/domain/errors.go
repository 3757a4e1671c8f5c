package domain

import (
	"fmt"
	"time"
)

// Error types for consistent error handling across the API.
// O handler mapeia cada tipo para um status HTTP em um único lugar.

// ErrValidation indicates a validation error (bad input). Sempre rejeitado
// antes de qualquer efeito colateral; nunca vale a pena repetir a chamada.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrConversationClosed indicates an action on a CLOSED conversation.
// CLOSED é terminal: não há reabertura.
type ErrConversationClosed struct {
	ConversationID string
}

func (e *ErrConversationClosed) Error() string {
	return fmt.Sprintf("conversation is closed: %s", e.ConversationID)
}

// ErrProviderTimeout indicates the append-message race lost to the timer.
// O stream nunca chegou a começar; a mensagem do usuário já está persistida,
// então repetir o send duplica o turno do usuário (send não é idempotente).
type ErrProviderTimeout struct {
	Operation string
	Timeout   time.Duration
}

func (e *ErrProviderTimeout) Error() string {
	return fmt.Sprintf("provider timed out after %s: %s", e.Timeout, e.Operation)
}

// ErrProviderError indicates the provider call or streaming run failed.
// Se o run já tinha começado, tokens parciais podem ter chegado ao cliente,
// mas nenhuma mensagem ASSISTANT é persistida.
type ErrProviderError struct {
	Stage string // "create_thread", "append_message", "run_stream"
	Err   error
}

func (e *ErrProviderError) Error() string {
	return fmt.Sprintf("provider error [%s]: %v", e.Stage, e.Err)
}

func (e *ErrProviderError) Unwrap() error {
	return e.Err
}

// ErrStore indicates a persistence failure.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string {
	return fmt.Sprintf("store error [%s]: %v", e.Op, e.Err)
}

func (e *ErrStore) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates a missing or invalid session token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
