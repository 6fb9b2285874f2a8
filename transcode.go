package chatrelay

import (
	"context"
	"io"
	"net/http"

	"github.com/shaharia-lab/chatrelay/observability"
)

// Transcoder converts whatever the relay produced into the canonical
// newline-delimited frame stream consumed by clients. Decoupling the wire
// framing here lets the relay swap backends without changing client code.
type Transcoder struct {
	logger   observability.Logger
	observer chan<- []byte
}

// TranscoderOption configures a Transcoder.
type TranscoderOption func(*Transcoder)

// WithObserver tees every encoded frame into ch. The send is non-blocking: a
// slow or failing observer loses diagnostic data but can never hold up or
// drop anything on the primary path.
func WithObserver(ch chan<- []byte) TranscoderOption {
	return func(t *Transcoder) {
		t.observer = ch
	}
}

// NewTranscoder creates a Transcoder. A nil logger falls back to the null
// logger.
func NewTranscoder(logger observability.Logger, opts ...TranscoderOption) *Transcoder {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	t := &Transcoder{logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Pump drains stream into w as delta frames, flushing after every write when
// w supports it, and always terminates the output with a single done frame
// even when the stream ends early. A stream error is written as an error
// frame before done. The returned error reports a broken writer only; nothing
// is surfaced for upstream errors because they already reached the client as
// frames.
func (t *Transcoder) Pump(ctx context.Context, stream <-chan StreamingResponse, w io.Writer) error {
	defer t.writeFrame(w, DoneFrame())

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-stream:
			if !ok {
				return nil
			}
			if chunk.Error != nil {
				t.logger.WithErr(chunk.Error).Warn("upstream stream failed mid-flight")
				t.writeFrame(w, ErrorFrame(chunk.Error.Error()))
				return nil
			}
			if chunk.Text != "" {
				if err := t.writeFrame(w, DeltaFrame(chunk.Text)); err != nil {
					return err
				}
			}
			if chunk.Done {
				return nil
			}
		}
	}
}

// PumpText writes a complete fallback-mode completion as one delta frame
// followed by done.
func (t *Transcoder) PumpText(w io.Writer, text string) error {
	if text != "" {
		if err := t.writeFrame(w, DeltaFrame(text)); err != nil {
			return err
		}
	}
	return t.writeFrame(w, DoneFrame())
}

func (t *Transcoder) writeFrame(w io.Writer, frame StreamFrame) error {
	encoded, err := EncodeFrame(frame)
	if err != nil {
		return err
	}

	if t.observer != nil {
		select {
		case t.observer <- encoded:
		default:
			t.logger.Debug("observer buffer full, dropping diagnostic frame")
		}
	}

	if _, err := w.Write(encoded); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
