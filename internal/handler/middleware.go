package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quimtec/bia-assistant-api/internal/service"
)

// ============================================================
// Session middleware
// ============================================================

type contextKey string

const sessionClaimsKey contextKey = "sessionClaims"

// SessionMiddleware valida o token de sessão emitido no start e exige que o
// sub do token seja a conversa da URL. Um token de sessão só abre a SUA
// conversa — ids de outras conversas respondem 401, não 404, para não vazar
// quais ids existem.
func SessionMiddleware(sessions *service.SessionManager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "missing session token")
				return
			}

			claims, err := sessions.Validate(token)
			if err != nil {
				logger.Debug("invalid session token", zap.Error(err))
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			if conversationID := chi.URLParam(r, "conversationId"); conversationID != "" && claims.Sub != conversationID {
				logger.Warn("session token does not match conversation",
					zap.String("conversation_id", conversationID),
				)
				writeError(w, http.StatusUnauthorized, "session token does not match conversation")
				return
			}

			ctx := context.WithValue(r.Context(), sessionClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext devolve as claims colocadas pelo middleware.
func SessionFromContext(ctx context.Context) *service.SessionClaims {
	claims, _ := ctx.Value(sessionClaimsKey).(*service.SessionClaims)
	return claims
}
