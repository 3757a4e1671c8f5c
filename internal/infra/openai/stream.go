package openai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/quimtec/bia-assistant-api/internal/domain"
)

// ============================================================
// Parser do SSE do provedor
// ============================================================
//
// O run de streaming devolve eventos no formato:
//
//	event: thread.message.delta
//	data: {"delta":{"content":[{"type":"text","text":{"value":"Oi"}}]}}
//
//	event: thread.run.completed
//	data: {...}
//
//	event: done
//	data: [DONE]
//
// Só nos interessam os deltas de texto e os eventos terminais; todo o
// resto (run.created, run.step.*, message.created...) é ignorado.

// messageDelta é o payload de um evento thread.message.delta,
// reduzido aos campos que consumimos.
type messageDelta struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

// runFailure é o payload de thread.run.failed.
type runFailure struct {
	LastError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// pumpRunStream lê o SSE do provedor e emite domain.StreamEvents em out.
// Garante no máximo um evento terminal; o caller fecha o canal.
func (c *Client) pumpRunStream(body io.Reader, out chan<- domain.StreamEvent) {
	scanner := bufio.NewScanner(body)
	// Deltas são pequenos, mas eventos de run carregam o objeto inteiro.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	terminated := false

	emitEnd := func() {
		if !terminated {
			terminated = true
			out <- domain.StreamEvent{Type: domain.StreamEnd}
		}
	}
	emitError := func(err error) {
		if !terminated {
			terminated = true
			out <- domain.StreamEvent{Type: domain.StreamError, Err: err}
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		// Linha em branco fecha o evento corrente.
		if line == "" {
			eventName = ""
			continue
		}
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			eventName = name
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		if data == "[DONE]" {
			emitEnd()
			continue
		}

		switch eventName {
		case "thread.message.delta":
			var md messageDelta
			if err := json.Unmarshal([]byte(data), &md); err != nil {
				c.logger.Warn("malformed message delta", zap.Error(err))
				continue
			}
			for _, part := range md.Delta.Content {
				if part.Type != "text" || part.Text.Value == "" {
					continue
				}
				if terminated {
					continue
				}
				out <- domain.StreamEvent{Type: domain.StreamDelta, Delta: part.Text.Value}
			}

		case "thread.run.completed", "done":
			emitEnd()

		case "thread.run.failed", "thread.run.cancelled", "thread.run.expired":
			var rf runFailure
			_ = json.Unmarshal([]byte(data), &rf)
			msg := rf.LastError.Message
			if msg == "" {
				msg = eventName
			}
			emitError(&domain.ErrProviderError{
				Stage: "run_stream",
				Err:   fmt.Errorf("run failed: %s", msg),
			})

		case "error":
			emitError(&domain.ErrProviderError{
				Stage: "run_stream",
				Err:   fmt.Errorf("provider error event: %s", data),
			})
		}
	}

	if err := scanner.Err(); err != nil {
		emitError(&domain.ErrProviderError{
			Stage: "run_stream",
			Err:   fmt.Errorf("read stream: %w", err),
		})
		return
	}

	// EOF sem evento terminal: conexão caiu no meio do run.
	if !terminated {
		emitError(&domain.ErrProviderError{
			Stage: "run_stream",
			Err:   io.ErrUnexpectedEOF,
		})
	}
}
