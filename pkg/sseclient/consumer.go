package sseclient

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"
)

// ErrStreamAborted indica que o transporte caiu antes do frame "end".
// O texto parcial acumulado até ali continua disponível no Turn devolvido;
// o chamador deve oferecer retry em vez de truncar silenciosamente.
var ErrStreamAborted = errors.New("stream aborted before end frame")

// Turn é a bolha de resposta da assistente em construção. O ID é gerado
// aqui no cliente — o servidor não correlaciona turnos.
type Turn struct {
	ID        string
	Text      string
	Completed bool
}

// tokenFrame é o payload JSON de um frame de token.
type tokenFrame struct {
	Content string `json:"content"`
}

// Consumer dobra os frames do stream num único Turn.
type Consumer struct {
	dec  *Decoder
	turn *Turn
}

// NewConsumer cria um Consumer sobre o corpo da resposta SSE.
func NewConsumer(r io.Reader) *Consumer {
	return &Consumer{dec: NewDecoder(r)}
}

// Consume lê o stream até o fim. onToken, se não-nil, é chamado depois de
// cada token ser acrescentado — é o gancho de renderização incremental.
//
// A bolha é criada preguiçosamente no primeiro token: erro antes de qualquer
// token devolve Turn nil. Fim de stream sem frame "end" devolve o turno
// parcial junto com ErrStreamAborted.
func (c *Consumer) Consume(onToken func(*Turn)) (*Turn, error) {
	for {
		ev, err := c.dec.Next()
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return c.turn, ErrStreamAborted
			}
			return c.turn, err
		}

		if ev.Name == "end" {
			if c.turn != nil {
				c.turn.Completed = true
			}
			return c.turn, nil
		}

		var frame tokenFrame
		if err := json.Unmarshal([]byte(ev.Data), &frame); err != nil {
			// Frame fora do contrato; ignora e segue lendo.
			continue
		}

		if c.turn == nil {
			c.turn = &Turn{ID: uuid.NewString()}
		}
		c.turn.Text += frame.Content
		if onToken != nil {
			onToken(c.turn)
		}
	}
}
