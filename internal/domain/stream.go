// Package domain — stream.go define o fluxo de tokens do assistente.
//
// O SDK do provedor entrega a resposta por callbacks (textDelta/end/error).
// Aqui isso vira uma sequência pull-based: um canal de StreamEvent que o
// consumidor percorre com range. Isso elimina a fiação ad-hoc de listeners
// e transforma "exatamente um evento terminal" em contrato de tipo:
// o produtor emite N deltas, depois UM End ou UM Error, e fecha o canal.
package domain

// StreamEventType classifica um evento do fluxo de tokens.
type StreamEventType int

const (
	// StreamDelta carrega um fragmento de texto da resposta do modelo.
	StreamDelta StreamEventType = iota

	// StreamEnd sinaliza que a resposta terminou com sucesso. Terminal.
	StreamEnd

	// StreamError sinaliza falha no meio do streaming. Terminal; o turno
	// é tratado como "concluído com erro" e nunca re-executado.
	StreamError
)

// StreamEvent é a união etiquetada {delta, end, error}.
// Delta só é válido quando Type == StreamDelta; Err quando Type == StreamError.
type StreamEvent struct {
	Type  StreamEventType
	Delta string
	Err   error
}

// TokenStream entrega os eventos de um run do assistente.
//
// Contrato: zero ou mais StreamDelta, seguido de exatamente um evento
// terminal (StreamEnd ou StreamError); depois o canal é fechado. Nenhum
// token é emitido após o terminal. O fluxo é consumido exatamente uma vez.
type TokenStream <-chan StreamEvent
