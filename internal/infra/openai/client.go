// Package openai implementa o AssistantGateway contra a API de assistants
// da OpenAI (v2): criação de thread, anexo de mensagem e run de streaming.
//
// ============================================================
// CONTRATO EM DUAS FASES DO SubmitAndStream
// ============================================================
//
//	Fase 1 — append: POST /threads/{id}/messages correndo contra um timer.
//	         Se o timer ganhar, o request HTTP é cancelado via context e a
//	         chamada falha com ErrProviderTimeout. O stream nunca começa.
//	Fase 2 — run:    POST /threads/{id}/runs com stream=true. O corpo da
//	         resposta é SSE do provedor; o parser converte cada evento em
//	         um domain.StreamEvent e garante exatamente um terminal.
//
// Persistência é responsabilidade do caller — este pacote só fala HTTP.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/quimtec/bia-assistant-api/internal/domain"
	"github.com/quimtec/bia-assistant-api/internal/infra/resilience"
)

// tracer é o tracer OpenTelemetry do gateway.
var tracer = otel.Tracer("infra/openai")

// Client fala com a API de assistants da OpenAI.
//
// Dois http.Clients de propósito: o de controle tem timeout curto (criação
// de thread, append de mensagem); o de streaming NÃO tem timeout — um run
// longo seria morto pelo Client.Timeout, que conta até o fim do body.
type Client struct {
	controlClient *http.Client
	streamClient  *http.Client

	baseURL     string // ex: https://api.openai.com/v1
	apiKey      string
	assistantID string // persona fixa da Bia, configurada no provedor

	sendTimeout time.Duration

	cb       *gobreaker.CircuitBreaker
	cfg      resilience.Config
	bulkhead *resilience.Bulkhead
	logger   *zap.Logger
}

// NewClient cria o gateway. maxStreams limita runs de streaming simultâneos.
func NewClient(
	controlClient *http.Client,
	baseURL, apiKey, assistantID string,
	sendTimeout time.Duration,
	cb *gobreaker.CircuitBreaker,
	cfg resilience.Config,
	maxStreams int,
	logger *zap.Logger,
) *Client {
	return &Client{
		controlClient: controlClient,
		streamClient:  &http.Client{}, // sem timeout; cancelamento vem do context
		baseURL:       baseURL,
		apiKey:        apiKey,
		assistantID:   assistantID,
		sendTimeout:   sendTimeout,
		cb:            cb,
		cfg:           cfg,
		bulkhead:      resilience.NewBulkhead(maxStreams),
		logger:        logger,
	}
}

// ============================================================
// CreateThread — POST /threads
// ============================================================

// CreateThread aloca uma nova thread no provedor.
// Passa pelo circuit breaker + retry: é uma chamada idempotente do nosso
// ponto de vista (uma thread órfã no provedor não custa nada).
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "openai.CreateThread")
	defer span.End()

	var threadID string

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := c.newControlRequest(ctx, http.MethodPost, "/threads", nil)
			if err != nil {
				return err
			}

			resp, err := c.controlClient.Do(req)
			if err != nil {
				return fmt.Errorf("http call: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return apiError("create thread", resp)
			}

			var body struct {
				ID string `json:"id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decode thread response: %w", err)
			}
			threadID = body.ID
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &domain.ErrCircuitOpen{Service: "openai"}
		}
		return "", &domain.ErrProviderError{Stage: "create_thread", Err: err}
	}

	span.SetAttributes(attribute.String("thread.id", threadID))
	return threadID, nil
}

// ============================================================
// SubmitAndStream — append + run de streaming
// ============================================================

// SubmitAndStream anexa content à thread e inicia o run de streaming.
//
// O append corre contra sendTimeout. Perder a corrida CANCELA o request
// HTTP em voo (context), reduzindo a janela em que a mensagem ainda chega
// ao provedor depois do timeout — ela só vira duplicata se o request já
// tinha saído do socket quando o timer disparou.
func (c *Client) SubmitAndStream(ctx context.Context, threadID, content string) (domain.TokenStream, error) {
	ctx, span := tracer.Start(ctx, "openai.SubmitAndStream")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", threadID))

	// --- Fase 1: append da mensagem, com corrida contra o timer ---
	if err := c.appendMessage(ctx, threadID, content); err != nil {
		return nil, err
	}

	// --- Fase 2: run de streaming ---
	// O bulkhead limita quantos streams seguramos abertos contra o provedor.
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrProviderError{Stage: "run_stream", Err: err}
	}

	// O run sobrevive ao request HTTP que o originou: se o navegador fechar
	// no meio do stream, seguimos drenando até o terminal para que o caller
	// ainda persista a resposta inteira. Por isso o request do run NÃO herda
	// o cancelamento do ctx de entrada (valores de trace são preservados).
	runCtx := context.WithoutCancel(ctx)

	payload, _ := json.Marshal(map[string]any{
		"assistant_id": c.assistantID,
		"stream":       true,
	})
	req, err := http.NewRequestWithContext(runCtx, http.MethodPost,
		c.baseURL+"/threads/"+threadID+"/runs", bytes.NewReader(payload))
	if err != nil {
		c.bulkhead.Release()
		return nil, &domain.ErrProviderError{Stage: "run_stream", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		c.bulkhead.Release()
		return nil, &domain.ErrProviderError{Stage: "run_stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		c.bulkhead.Release()
		return nil, &domain.ErrProviderError{Stage: "run_stream", Err: apiError("start run", resp)}
	}

	events := make(chan domain.StreamEvent)
	go func() {
		defer c.bulkhead.Release()
		defer resp.Body.Close()
		defer close(events)
		c.pumpRunStream(resp.Body, events)
	}()

	return events, nil
}

// appendMessage faz o POST /threads/{id}/messages dentro de um context com
// deadline = sendTimeout. DeadlineExceeded aqui vira ErrProviderTimeout.
func (c *Client) appendMessage(ctx context.Context, threadID, content string) error {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"role":    "user",
		"content": content,
	})
	if err != nil {
		return &domain.ErrProviderError{Stage: "append_message", Err: err}
	}

	req, err := c.newControlRequest(ctx, http.MethodPost, "/threads/"+threadID+"/messages", bytes.NewReader(payload))
	if err != nil {
		return &domain.ErrProviderError{Stage: "append_message", Err: err}
	}

	resp, err := c.controlClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("append message timed out",
				zap.String("thread_id", threadID),
				zap.Duration("timeout", c.sendTimeout),
			)
			return &domain.ErrProviderTimeout{Operation: "append message to thread", Timeout: c.sendTimeout}
		}
		return &domain.ErrProviderError{Stage: "append_message", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.ErrProviderError{Stage: "append_message", Err: apiError("append message", resp)}
	}
	return nil
}

// ============================================================
// Helpers HTTP
// ============================================================

func (c *Client) newControlRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	return req, nil
}

// setHeaders aplica os headers exigidos pela API de assistants.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}

// apiError extrai a mensagem de erro do corpo, se houver.
func apiError(op string, resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("%s: %s (status %d)", op, body.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d", op, resp.StatusCode)
}
