package sseclient

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkedReader entrega o conteúdo em pedaços de tamanho fixo, simulando
// fronteiras de chunk arbitrárias do transporte.
type chunkedReader struct {
	data  string
	pos   int
	chunk int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.chunk
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

const sampleStream = "data: {\"content\": \"Oi\"}\n\n" +
	"data: {\"content\": \"! Como posso ajudar?\"}\n\n" +
	"event: end\ndata: \"end\"\n\n"

func TestDecoder_WholeFrames(t *testing.T) {
	dec := NewDecoder(strings.NewReader(sampleStream))

	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Name != "" || ev.Data != `{"content": "Oi"}` {
		t.Errorf("first frame = %+v", ev)
	}

	if _, err := dec.Next(); err != nil {
		t.Fatalf("second Next() error = %v", err)
	}

	ev, err = dec.Next()
	if err != nil {
		t.Fatalf("third Next() error = %v", err)
	}
	if ev.Name != "end" || ev.Data != `"end"` {
		t.Errorf("terminal frame = %+v", ev)
	}

	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("after terminal: err = %v, want io.EOF", err)
	}
}

// Frames partidos no meio entre chunks têm que ser remontados.
func TestDecoder_FrameSplitAcrossChunks(t *testing.T) {
	for _, chunk := range []int{1, 3, 7, 16} {
		dec := NewDecoder(&chunkedReader{data: sampleStream, chunk: chunk})

		var frames []Event
		for {
			ev, err := dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("chunk=%d: Next() error = %v", chunk, err)
			}
			frames = append(frames, ev)
		}

		if len(frames) != 3 {
			t.Fatalf("chunk=%d: got %d frames, want 3", chunk, len(frames))
		}
		if frames[0].Data != `{"content": "Oi"}` {
			t.Errorf("chunk=%d: first frame data = %q", chunk, frames[0].Data)
		}
		if frames[2].Name != "end" {
			t.Errorf("chunk=%d: terminal frame = %+v", chunk, frames[2])
		}
	}
}

func TestDecoder_TruncatedMidFrame(t *testing.T) {
	truncated := "data: {\"content\": \"Oi\"}\n\ndata: {\"con"
	dec := NewDecoder(strings.NewReader(truncated))

	if _, err := dec.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if _, err := dec.Next(); err != io.ErrUnexpectedEOF {
		t.Errorf("truncated frame: err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestConsumer_FoldsTokensIntoTurn(t *testing.T) {
	consumer := NewConsumer(strings.NewReader(sampleStream))

	var calls int
	turn, err := consumer.Consume(func(turn *Turn) { calls++ })
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if turn == nil || !turn.Completed {
		t.Fatalf("turn = %+v, want completed", turn)
	}
	if turn.Text != "Oi! Como posso ajudar?" {
		t.Errorf("turn text = %q, want %q", turn.Text, "Oi! Como posso ajudar?")
	}
	if turn.ID == "" {
		t.Error("turn ID not generated")
	}
	if calls != 2 {
		t.Errorf("onToken called %d times, want 2", calls)
	}
}

func TestConsumer_AbortBeforeEnd(t *testing.T) {
	aborted := "data: {\"content\": \"Oi\"}\n\n"
	consumer := NewConsumer(strings.NewReader(aborted))

	turn, err := consumer.Consume(nil)
	if !errors.Is(err, ErrStreamAborted) {
		t.Fatalf("err = %v, want ErrStreamAborted", err)
	}
	// Texto parcial preservado para o retry.
	if turn == nil || turn.Text != "Oi" {
		t.Errorf("partial turn = %+v, want text %q kept", turn, "Oi")
	}
	if turn != nil && turn.Completed {
		t.Error("aborted turn marked completed")
	}
}

func TestConsumer_EmptyBody(t *testing.T) {
	consumer := NewConsumer(strings.NewReader(""))

	turn, err := consumer.Consume(nil)
	if !errors.Is(err, ErrStreamAborted) {
		t.Fatalf("err = %v, want ErrStreamAborted", err)
	}
	if turn != nil {
		t.Errorf("turn = %+v, want nil (no tokens arrived)", turn)
	}
}
