package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/quimtec/bia-assistant-api/internal/infra/observability"
	"github.com/quimtec/bia-assistant-api/internal/port"
	"github.com/quimtec/bia-assistant-api/internal/service"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract of the Bia chat widget.
func NewRouter(
	svc *service.ConversationService,
	sessions *service.SessionManager,
	store port.ConversationStore,
	metrics *observability.Metrics,
	allowedOrigins []string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// O widget roda no site institucional, em origem diferente da API.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. 💬 Início de conversa e intake (públicos)
		// =============================================
		r.Post("/conversations/start", startConversationHandler(svc, metrics, logger))
		r.Post("/visitors", registerVisitorHandler(svc, logger))
		r.Post("/feedback", feedbackHandler(svc, logger))

		// =============================================
		// 2. 📊 Métricas
		// GET /v1/metrics/chat
		// =============================================
		r.Get("/metrics/chat", chatMetricsHandler(metrics))

		// =============================================
		// 3. 🔐 Operações da conversa (exigem sessão)
		// =============================================
		r.Route("/conversations/{conversationId}", func(r chi.Router) {
			r.Use(SessionMiddleware(sessions, logger))

			r.Get("/", getConversationHandler(svc, logger))
			r.Post("/messages", sendMessageHandler(svc, metrics, logger))
			r.Post("/end", endConversationHandler(svc, metrics, logger))
			r.Post("/heartbeat", heartbeatHandler(svc, logger))
		})
	})

	return r
}

// ============================================================
// Health & readiness
// ============================================================

func healthzHandler(store port.ConversationStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := "healthy"
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("store ping failed", zap.Error(err))
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"checked_at": time.Now().Format(time.RFC3339),
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
