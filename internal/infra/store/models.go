package store

import "time"

// GORM models used for persistence. Mantidos separados das entidades do
// domain: o schema do banco evolui por migração, o domain pelo produto.

// VisitorModel — leads do formulário/widget. Email é a chave natural.
type VisitorModel struct {
	ID            string    `gorm:"primaryKey"`
	Nome          string    `gorm:"not null"`
	Email         string    `gorm:"uniqueIndex;not null"`
	Telefone      string
	CNPJ          string    `gorm:"column:cnpj"`
	Empresa       string
	Cargo         string
	Area          string
	Interesse     string
	Consentimento bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// ConversationModel — uma sessão de chat.
// ProviderThreadID é ponteiro: NULL = thread ainda não criada no provedor.
// O binding usa UPDATE condicional (WHERE provider_thread_id IS NULL) para
// garantir escrita única mesmo com sends concorrentes.
type ConversationModel struct {
	ID               string  `gorm:"primaryKey"`
	VisitorID        string  `gorm:"not null;index"`
	ProviderThreadID *string `gorm:"uniqueIndex"`
	Status           string  `gorm:"not null;index"`
	StartedAt        time.Time `gorm:"not null"`
	EndedAt          *time.Time
	LastActivity     time.Time `gorm:"not null"`
	DurationSeconds  int64
}

// MessageModel — append-only; nunca sofre UPDATE ou DELETE.
type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"not null;type:text"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

// FeedbackModel — avaliação 👍/👎 de uma conversa.
type FeedbackModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Positive       bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}
