package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quimtec/bia-assistant-api/internal/domain"
)

// ============================================================
// Sessão do widget — JWT assinado no start
// ============================================================
//
// O widget é anônimo: não há login. O token de sessão emitido no start é a
// única prova de que o chamador iniciou aquela conversa — o sub do token é
// o id da conversa, e o middleware exige que ele bata com o id da URL.

// SessionClaims são as claims do token de sessão do widget.
type SessionClaims struct {
	Sub       string `json:"sub"` // id da conversa
	VisitorID string `json:"visitorId"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// SessionManager emite e valida tokens de sessão.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionManager cria o gerenciador de sessões.
func NewSessionManager(secret []byte, ttl time.Duration) *SessionManager {
	return &SessionManager{secret: secret, ttl: ttl}
}

// Issue assina um token de sessão para a conversa recém-criada.
func (m *SessionManager) Issue(conversationID, visitorID string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Sub:       conversationID,
		VisitorID: visitorID,
		Type:      "session",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Issuer:    "bia-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate verifica assinatura, expiração e tipo do token.
func (m *SessionManager) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token de sessão inválido ou expirado"}
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Token de sessão inválido"}
	}

	if claims.Type != "session" {
		return nil, &domain.ErrUnauthorized{Message: "Tipo de token inválido"}
	}

	return claims, nil
}
