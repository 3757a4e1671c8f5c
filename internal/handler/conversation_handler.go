package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/quimtec/bia-assistant-api/internal/domain"
	"github.com/quimtec/bia-assistant-api/internal/infra/observability"
	"github.com/quimtec/bia-assistant-api/internal/service"
)

// ============================================================
// 1. 💬 Conversas — POST /v1/conversations/start
// ============================================================

func startConversationHandler(svc *service.ConversationService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/conversations/start")
		defer span.End()

		var profile domain.VisitorProfile
		if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		start := time.Now()
		result, err := svc.Start(ctx, &profile)
		metrics.RecordRequestDuration("start", time.Since(start))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		span.SetAttributes(attribute.String("conversation.id", result.ConversationID))
		writeJSON(w, http.StatusCreated, result)
	}
}

// ============================================================
// 2. 📨 Envio de mensagem — POST /v1/conversations/{conversationId}/messages
// ============================================================

// sendMessageHandler responde em SSE por padrão; com ?stream=false ou
// Accept: application/json a resposta inteira é bufferizada e devolvida como
// JSON (útil para clientes sem SSE e para testes de fumaça com curl).
func sendMessageHandler(svc *service.ConversationService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/conversations/{conversationId}/messages")
		defer span.End()

		conversationID := chi.URLParam(r, "conversationId")
		span.SetAttributes(attribute.String("conversation.id", conversationID))

		var req domain.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		start := time.Now()
		stream, err := svc.Send(ctx, conversationID, &req)
		if err != nil {
			metrics.RecordRequestDuration("send", time.Since(start))
			handleServiceError(w, err, logger)
			return
		}

		if r.URL.Query().Get("stream") == "false" || strings.Contains(r.Header.Get("Accept"), "application/json") {
			bufferedResponse(w, stream, logger)
		} else {
			relaySSE(w, r, stream, logger)
		}
		metrics.RecordRequestDuration("send", time.Since(start))
	}
}

// bufferedResponse drena o stream e devolve o texto completo em JSON.
func bufferedResponse(w http.ResponseWriter, stream domain.TokenStream, logger *zap.Logger) {
	var text strings.Builder
	for ev := range stream {
		switch ev.Type {
		case domain.StreamDelta:
			text.WriteString(ev.Delta)
		case domain.StreamEnd:
			writeJSON(w, http.StatusOK, map[string]string{"message": text.String()})
			return
		case domain.StreamError:
			handleServiceError(w, ev.Err, logger)
			return
		}
	}
}

// ============================================================
// 3. 📜 Histórico — GET /v1/conversations/{conversationId}
// ============================================================

func getConversationHandler(svc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/conversations/{conversationId}")
		defer span.End()

		conversationID := chi.URLParam(r, "conversationId")
		history, err := svc.FetchHistory(ctx, conversationID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

// ============================================================
// 4. 🔚 Encerramento — POST /v1/conversations/{conversationId}/end
// ============================================================

func endConversationHandler(svc *service.ConversationService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/conversations/{conversationId}/end")
		defer span.End()

		conversationID := chi.URLParam(r, "conversationId")

		start := time.Now()
		result, err := svc.End(ctx, conversationID)
		metrics.RecordRequestDuration("end", time.Since(start))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// ============================================================
// 5. 💓 Heartbeat — POST /v1/conversations/{conversationId}/heartbeat
// ============================================================

func heartbeatHandler(svc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "conversationId")
		at, err := svc.Heartbeat(r.Context(), conversationID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"lastActivity": at.UTC().Format(time.RFC3339)})
	}
}

// ============================================================
// 6. 👤 Intake avulso — POST /v1/visitors
// ============================================================

func registerVisitorHandler(svc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/visitors")
		defer span.End()

		var profile domain.VisitorProfile
		if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		visitor, err := svc.RegisterVisitor(ctx, &profile)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"visitorId": visitor.ID})
	}
}

// ============================================================
// 7. 👍 Feedback — POST /v1/feedback
// ============================================================

func feedbackHandler(svc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/feedback")
		defer span.End()

		var req struct {
			ConversationID string `json:"conversationId"`
			Positive       bool   `json:"positive"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ConversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}

		if err := svc.SaveFeedback(ctx, req.ConversationID, req.Positive); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
	}
}

// ============================================================
// 8. 📊 Métricas de chat — GET /v1/metrics/chat
// ============================================================

func chatMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetChatSnapshot())
	}
}
