package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/quimtec/bia-assistant-api/internal/domain"
)

// ============================================================
// Relay SSE — o contrato de fio do widget
// ============================================================
//
// O widget espera exatamente dois tipos de frame:
//
//	data: {"content": "<token>"}        ← um por delta
//
//	event: end
//	data: "end"                         ← terminal, exatamente um
//
// O formato é byte a byte: o parser do widget não é um cliente SSE
// genérico. Em erro no meio do stream a conexão é derrubada sem frame
// terminal — EOF sem "end" é como o cliente distingue aborto de conclusão.

// relaySSE escreve o stream na resposta HTTP, com flush por frame.
func relaySSE(w http.ResponseWriter, r *http.Request, stream domain.TokenStream, logger *zap.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case ev, open := <-stream:
			if !open {
				return
			}
			switch ev.Type {
			case domain.StreamDelta:
				tok, err := json.Marshal(ev.Delta)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: {\"content\": %s}\n\n", tok)
				flusher.Flush()

			case domain.StreamEnd:
				fmt.Fprint(w, "event: end\ndata: \"end\"\n\n")
				flusher.Flush()
				return

			case domain.StreamError:
				// Sem frame de erro no contrato: derruba a conexão para o
				// cliente ver EOF antes do "end" e tratar como aborto.
				logger.Debug("aborting SSE connection after stream error", zap.Error(ev.Err))
				panic(http.ErrAbortHandler)
			}

		case <-r.Context().Done():
			// Cliente desconectou; o service continua drenando o upstream
			// e persiste a resposta quando ela terminar.
			go drainStream(stream)
			return
		}
	}
}

// drainStream consome o resto do stream para o relay interno do service
// não ficar bloqueado escrevendo num canal sem leitor.
func drainStream(stream domain.TokenStream) {
	for range stream {
	}
}
