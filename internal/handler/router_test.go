package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quimtec/bia-assistant-api/internal/domain"
	"github.com/quimtec/bia-assistant-api/internal/infra/observability"
	"github.com/quimtec/bia-assistant-api/internal/infra/store"
	"github.com/quimtec/bia-assistant-api/internal/service"
)

// ============================================================
// Test fixtures
// ============================================================

// scriptedGateway devolve sempre o mesmo roteiro de eventos.
type scriptedGateway struct {
	events []domain.StreamEvent
}

func (g *scriptedGateway) CreateThread(ctx context.Context) (string, error) {
	return "thread_test", nil
}

func (g *scriptedGateway) SubmitAndStream(ctx context.Context, threadID, content string) (domain.TokenStream, error) {
	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		for _, ev := range g.events {
			out <- ev
		}
	}()
	return out, nil
}

func newTestServer(t *testing.T, gw *scriptedGateway) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	st := store.NewMemoryStore()
	sessions := service.NewSessionManager([]byte("test-secret"), time.Hour)
	metrics := observability.NewMetrics()
	svc := service.NewConversationService(st, gw, sessions, metrics, logger)

	server := httptest.NewServer(NewRouter(svc, sessions, st, metrics, []string{"*"}, logger))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func startConversation(t *testing.T, server *httptest.Server) *domain.StartResult {
	t.Helper()
	resp := postJSON(t, server.URL+"/v1/conversations/start", "", map[string]any{
		"nome":  "Ana",
		"email": "ana@metalfix.com.br",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}
	var result domain.StartResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	return &result
}

// ============================================================
// Start
// ============================================================

func TestStartConversation(t *testing.T) {
	server := newTestServer(t, &scriptedGateway{})

	result := startConversation(t, server)
	if result.ConversationID == "" || result.VisitorID == "" || result.SessionToken == "" {
		t.Errorf("incomplete start result: %+v", result)
	}
}

func TestStartConversation_Validation(t *testing.T) {
	server := newTestServer(t, &scriptedGateway{})

	resp := postJSON(t, server.URL+"/v1/conversations/start", "", map[string]any{"email": "a@b.com"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// ============================================================
// Send — contrato SSE byte a byte
// ============================================================

func TestSendMessage_SSEWireFormat(t *testing.T) {
	gw := &scriptedGateway{events: []domain.StreamEvent{
		{Type: domain.StreamDelta, Delta: "Oi"},
		{Type: domain.StreamDelta, Delta: "! Como posso ajudar?"},
		{Type: domain.StreamEnd},
	}}
	server := newTestServer(t, gw)
	started := startConversation(t, server)

	resp := postJSON(t, server.URL+"/v1/conversations/"+started.ConversationID+"/messages",
		started.SessionToken, map[string]string{"content": "Olá"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	want := "data: {\"content\": \"Oi\"}\n\n" +
		"data: {\"content\": \"! Como posso ajudar?\"}\n\n" +
		"event: end\ndata: \"end\"\n\n"
	if string(body) != want {
		t.Errorf("SSE body mismatch:\ngot:  %q\nwant: %q", string(body), want)
	}
}

func TestSendMessage_ErrorAbortsWithoutEndFrame(t *testing.T) {
	gw := &scriptedGateway{events: []domain.StreamEvent{
		{Type: domain.StreamDelta, Delta: "Oi"},
		{Type: domain.StreamError, Err: errors.New("run failed")},
	}}
	server := newTestServer(t, gw)
	started := startConversation(t, server)

	resp := postJSON(t, server.URL+"/v1/conversations/"+started.ConversationID+"/messages",
		started.SessionToken, map[string]string{"content": "Olá"})
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err == nil && strings.Contains(string(body), "event: end") {
		t.Errorf("aborted stream must not carry the end frame, got %q", string(body))
	}
	// O que chegou antes do aborto ainda é o frame de delta válido.
	if !strings.HasPrefix(string(body), "data: {\"content\": \"Oi\"}\n\n") {
		t.Errorf("partial body = %q, want leading delta frame", string(body))
	}
}

func TestSendMessage_BufferedMode(t *testing.T) {
	gw := &scriptedGateway{events: []domain.StreamEvent{
		{Type: domain.StreamDelta, Delta: "Oi"},
		{Type: domain.StreamDelta, Delta: "!"},
		{Type: domain.StreamEnd},
	}}
	server := newTestServer(t, gw)
	started := startConversation(t, server)

	resp := postJSON(t, server.URL+"/v1/conversations/"+started.ConversationID+"/messages?stream=false",
		started.SessionToken, map[string]string{"content": "Olá"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Message != "Oi!" {
		t.Errorf("message = %q, want %q", body.Message, "Oi!")
	}
}

// ============================================================
// Sessão
// ============================================================

func TestSendMessage_RequiresSession(t *testing.T) {
	server := newTestServer(t, &scriptedGateway{events: []domain.StreamEvent{{Type: domain.StreamEnd}}})
	started := startConversation(t, server)

	// Sem token.
	resp := postJSON(t, server.URL+"/v1/conversations/"+started.ConversationID+"/messages",
		"", map[string]string{"content": "Olá"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	// Token de OUTRA conversa.
	other := startConversation(t, server)
	resp = postJSON(t, server.URL+"/v1/conversations/"+started.ConversationID+"/messages",
		other.SessionToken, map[string]string{"content": "Olá"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("foreign token: status = %d, want 401", resp.StatusCode)
	}
}

// ============================================================
// End / Heartbeat / Histórico
// ============================================================

func TestEndConversation_Idempotent(t *testing.T) {
	server := newTestServer(t, &scriptedGateway{})
	started := startConversation(t, server)
	url := server.URL + "/v1/conversations/" + started.ConversationID + "/end"

	decode := func(resp *http.Response) domain.EndResult {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("end status = %d, want 200", resp.StatusCode)
		}
		var r domain.EndResult
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			t.Fatalf("decode end response: %v", err)
		}
		return r
	}

	first := decode(postJSON(t, url, started.SessionToken, nil))
	second := decode(postJSON(t, url, started.SessionToken, nil))

	if !first.EndedAt.Equal(second.EndedAt) || first.DurationSeconds != second.DurationSeconds {
		t.Errorf("repeat end changed result: %+v vs %+v", first, second)
	}
}

func TestHeartbeat_ClosedConversationIs404(t *testing.T) {
	server := newTestServer(t, &scriptedGateway{})
	started := startConversation(t, server)
	base := server.URL + "/v1/conversations/" + started.ConversationID

	resp := postJSON(t, base+"/heartbeat", started.SessionToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("heartbeat on open: status = %d, want 200", resp.StatusCode)
	}
	var hb struct {
		LastActivity time.Time `json:"lastActivity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hb); err != nil {
		t.Fatalf("decode heartbeat response: %v", err)
	}
	resp.Body.Close()
	if hb.LastActivity.IsZero() {
		t.Error("heartbeat response missing lastActivity")
	}

	postJSON(t, base+"/end", started.SessionToken, nil).Body.Close()

	resp = postJSON(t, base+"/heartbeat", started.SessionToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("heartbeat on closed: status = %d, want 404", resp.StatusCode)
	}
}

func TestGetConversation_History(t *testing.T) {
	gw := &scriptedGateway{events: []domain.StreamEvent{
		{Type: domain.StreamDelta, Delta: "Oi! Como posso ajudar?"},
		{Type: domain.StreamEnd},
	}}
	server := newTestServer(t, gw)
	started := startConversation(t, server)
	base := server.URL + "/v1/conversations/" + started.ConversationID

	resp := postJSON(t, base+"/messages", started.SessionToken, map[string]string{"content": "Olá"})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, base+"/", nil)
	req.Header.Set("Authorization", "Bearer "+started.SessionToken)
	getResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	defer getResp.Body.Close()

	var history domain.History
	if err := json.NewDecoder(getResp.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history.Messages))
	}
	if history.Messages[0].Role != domain.RoleUser || history.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("unexpected ordering: %s then %s", history.Messages[0].Role, history.Messages[1].Role)
	}
}

// ============================================================
// Operacional
// ============================================================

func TestHealthz(t *testing.T) {
	server := newTestServer(t, &scriptedGateway{})

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestChatMetricsSnapshot(t *testing.T) {
	server := newTestServer(t, &scriptedGateway{})
	startConversation(t, server)

	resp, err := http.Get(server.URL + "/v1/metrics/chat")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()

	var snapshot domain.ChatMetrics
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.ConversationsStarted < 1 {
		t.Errorf("conversationsStarted = %d, want >= 1", snapshot.ConversationsStarted)
	}
}
