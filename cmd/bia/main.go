package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quimtec/bia-assistant-api/internal/config"
	"github.com/quimtec/bia-assistant-api/internal/handler"
	"github.com/quimtec/bia-assistant-api/internal/infra/observability"
	"github.com/quimtec/bia-assistant-api/internal/infra/openai"
	"github.com/quimtec/bia-assistant-api/internal/infra/resilience"
	"github.com/quimtec/bia-assistant-api/internal/infra/store"
	"github.com/quimtec/bia-assistant-api/internal/port"
	"github.com/quimtec/bia-assistant-api/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	// Sem chave/assistant não há produto: falha já no boot.
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("send_timeout", cfg.SendTimeout),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("stream_max_concurrency", cfg.StreamMaxConcurrent),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Bool("database_configured", cfg.DatabaseURL != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "bia-assistant-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Store ---
	var convStore port.ConversationStore
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		convStore = gormStore
		logger.Info("using Postgres as data backend")
	} else {
		convStore = store.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory store (data is lost on restart)")
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.StreamMaxConcurrent,
	}
	cb := resilience.NewCircuitBreaker("openai")

	// --- Assistant gateway ---
	controlClient := &http.Client{Timeout: cfg.HTTPTimeout}
	gateway := openai.NewClient(
		controlClient,
		cfg.OpenAIBaseURL,
		cfg.OpenAIAPIKey,
		cfg.OpenAIAssistantID,
		cfg.SendTimeout,
		cb,
		resilienceCfg,
		cfg.StreamMaxConcurrent,
		logger,
	)

	// --- Services ---
	sessions := service.NewSessionManager([]byte(cfg.JWTSecret), cfg.SessionTTL)
	convSvc := service.NewConversationService(convStore, gateway, sessions, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(convSvc, sessions, convStore, metrics, cfg.AllowedOrigins, logger)

	// --- Server ---
	// WriteTimeout zero: respostas SSE ficam abertas pela duração de um run
	// inteiro e seriam cortadas por qualquer timeout de escrita global.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
