package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Provider (API de assistants da OpenAI)
	OpenAIAPIKey      string
	OpenAIAssistantID string
	OpenAIBaseURL     string

	// SendTimeout é o timeout da corrida do append-message (fase 1 do send).
	// Gerações longas pedem timeouts maiores; o default segue o produto.
	SendTimeout time.Duration

	// HTTP client (chamadas de controle, não-streaming)
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries          int
	InitialBackoff      time.Duration
	StreamMaxConcurrent int

	// Store — DATABASE_URL vazio cai no store em memória (dev/teste)
	DatabaseURL string

	// Sessão do widget
	JWTSecret  string
	SessionTTL time.Duration

	// CORS — o widget roda embutido em páginas de terceiros
	AllowedOrigins []string

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIAssistantID: getEnv("OPENAI_ASSISTANT_ID", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		SendTimeout: getEnvDuration("SEND_TIMEOUT", 45*time.Second),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:          getEnvInt("MAX_RETRIES", 3),
		InitialBackoff:      getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		StreamMaxConcurrent: getEnvInt("STREAM_MAX_CONCURRENCY", 50),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:  getEnv("JWT_SECRET", "bia-default-dev-secret-change-me"),
		SessionTTL: getEnvDuration("SESSION_TTL", 2*time.Hour),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// Validate verifica a configuração obrigatória do provedor. A ausência da
// chave ou do assistant id é erro fatal de startup, não erro por request.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if c.OpenAIAssistantID == "" {
		return fmt.Errorf("OPENAI_ASSISTANT_ID environment variable not set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
