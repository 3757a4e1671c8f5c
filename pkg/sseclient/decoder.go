// Package sseclient consome o stream SSE do endpoint de mensagens da Bia:
// decodifica frames, remonta frames partidos entre chunks de leitura e
// dobra os tokens no texto do turno corrente.
//
// É o mesmo parser que o widget usa; existe como pacote público para os
// testes de integração e para clientes Go (CLIs de diagnóstico, bots).
package sseclient

import (
	"bytes"
	"io"
	"strings"
)

// Event é um frame SSE decodificado. Name é vazio para frames só-data.
type Event struct {
	Name string
	Data string
}

// Decoder lê frames SSE de um io.Reader.
//
// O transporte entrega chunks em fronteiras arbitrárias: um frame pode
// chegar partido no meio. Bytes não consumidos de uma leitura ficam no
// buffer e são prefixados à leitura seguinte antes do re-split.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
}

// NewDecoder cria um Decoder sobre r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// frameDelimiter separa frames: uma linha em branco.
var frameDelimiter = []byte("\n\n")

// Next devolve o próximo frame completo.
//
// Retorna io.EOF quando o stream termina limpo em fronteira de frame, e
// io.ErrUnexpectedEOF quando termina no MEIO de um frame — o caller usa
// essa distinção para separar conclusão de aborto.
func (d *Decoder) Next() (Event, error) {
	for {
		if idx := bytes.Index(d.buf, frameDelimiter); idx >= 0 {
			raw := d.buf[:idx]
			d.buf = d.buf[idx+len(frameDelimiter):]
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			return parseFrame(raw), nil
		}

		if d.err != nil {
			if d.err == io.EOF && len(bytes.TrimSpace(d.buf)) > 0 {
				return Event{}, io.ErrUnexpectedEOF
			}
			return Event{}, d.err
		}

		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
		}
		if err != nil {
			d.err = err
		}
	}
}

// parseFrame classifica as linhas de um frame pelos prefixos event:/data:.
// Linhas data: múltiplas são juntadas com \n, como manda o formato SSE.
func parseFrame(raw []byte) Event {
	var ev Event
	var data []string
	for _, line := range strings.Split(string(raw), "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			ev.Name = name
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			data = append(data, payload)
		}
	}
	ev.Data = strings.Join(data, "\n")
	return ev
}
