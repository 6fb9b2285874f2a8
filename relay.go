package chatrelay

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"golang.org/x/time/rate"

	"github.com/shaharia-lab/chatrelay/observability"
)

// UpstreamMode tags which shape the backend answered with. Resolved exactly
// once at the relay boundary; downstream code switches on the tag and never
// re-sniffs response shapes.
type UpstreamMode int

const (
	// ModeStreaming means the backend returned an open stream of chunks.
	ModeStreaming UpstreamMode = iota
	// ModeComplete means the backend returned one complete response.
	ModeComplete
)

// UpstreamResult is the tagged outcome of a relay call: either an open
// stream or a complete text, never both.
type UpstreamResult struct {
	Mode   UpstreamMode
	Stream <-chan StreamingResponse
	Text   string
}

// Relay forwards a sanitized conversation to the configured backend,
// prepending the system prompt as the leading instruction turn. It retries a
// transport failure once, but never after partial output has been emitted
// to avoid duplicating partial text, and bounds the total time a stream may
// go without forward progress.
type Relay struct {
	provider  LLMProvider
	config    RequestConfig
	logger    observability.Logger
	pacer     *rate.Limiter
	streaming bool
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayConfig overrides the default generation parameters.
func WithRelayConfig(config RequestConfig) RelayOption {
	return func(r *Relay) {
		r.config = config
	}
}

// WithStreamingDisabled forces fallback mode: every call returns one
// complete response.
func WithStreamingDisabled() RelayOption {
	return func(r *Relay) {
		r.streaming = false
	}
}

// WithPacer bounds the rate of outbound backend calls across all requests.
func WithPacer(limit rate.Limit, burst int) RelayOption {
	return func(r *Relay) {
		r.pacer = rate.NewLimiter(limit, burst)
	}
}

// NewRelay creates a Relay over the given provider. A nil logger falls back
// to the null logger.
func NewRelay(provider LLMProvider, logger observability.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = observability.NewNullLogger()
	}

	r := &Relay{
		provider:  provider,
		config:    NewRequestConfig(),
		logger:    logger,
		pacer:     rate.NewLimiter(rate.Inf, 0),
		streaming: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute forwards the bounded conversation with systemPrompt prepended and
// returns the backend's answer as a tagged UpstreamResult.
func (r *Relay) Execute(ctx context.Context, messages []ChatMessage, systemPrompt string) (UpstreamResult, error) {
	turns := make([]ChatMessage, 0, len(messages)+1)
	turns = append(turns, ChatMessage{Role: SystemRole, Content: systemPrompt})
	turns = append(turns, messages...)

	if err := r.pacer.Wait(ctx); err != nil {
		return UpstreamResult{}, NewUpstreamUnavailableError("canceled while waiting for backend slot")
	}

	if !r.streaming {
		return r.executeComplete(ctx, turns)
	}
	return r.executeStreaming(ctx, turns)
}

func (r *Relay) executeComplete(ctx context.Context, turns []ChatMessage) (UpstreamResult, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		response, err := r.provider.GetResponse(ctx, turns, r.config)
		if err != nil {
			lastErr = err
			if attempt == 0 && isTransportError(err) {
				r.logger.WithErr(err).Warn("backend call failed, retrying once")
				continue
			}
			return UpstreamResult{}, mapUpstreamError(err)
		}

		if response.Text == "" && !r.config.EmptyTurnAllowed() {
			return UpstreamResult{}, NewEmptyResultError()
		}
		return UpstreamResult{Mode: ModeComplete, Text: response.Text}, nil
	}
	return UpstreamResult{}, mapUpstreamError(lastErr)
}

func (r *Relay) executeStreaming(ctx context.Context, turns []ChatMessage) (UpstreamResult, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		stream, err := r.provider.GetStreamingResponse(ctx, turns, r.config)
		if err != nil {
			lastErr = err
			if attempt == 0 && isTransportError(err) {
				r.logger.WithErr(err).Warn("backend stream open failed, retrying once")
				continue
			}
			return UpstreamResult{}, mapUpstreamError(err)
		}

		first, err := r.awaitFirstChunk(ctx, stream)
		if err != nil {
			lastErr = err
			// Nothing has been emitted yet, so one retry is still safe.
			if attempt == 0 && isTransportError(err) {
				r.logger.WithErr(err).Warn("backend stream failed before first chunk, retrying once")
				continue
			}
			return UpstreamResult{}, mapUpstreamError(err)
		}

		return UpstreamResult{Mode: ModeStreaming, Stream: r.guardProgress(ctx, first, stream)}, nil
	}
	return UpstreamResult{}, mapUpstreamError(lastErr)
}

// awaitFirstChunk blocks until the stream produces its first chunk, bounded
// by the stream timeout. Failures here happened before any output reached the
// caller, which is what makes the relay's single retry safe.
func (r *Relay) awaitFirstChunk(ctx context.Context, stream <-chan StreamingResponse) (StreamingResponse, error) {
	timer := time.NewTimer(r.config.StreamTimeout())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return StreamingResponse{}, ctx.Err()
	case <-timer.C:
		return StreamingResponse{}, NewUpstreamUnavailableError("backend produced no output within the stream timeout")
	case chunk, ok := <-stream:
		if !ok {
			// Closed without a terminal chunk: an empty but successful stream.
			if r.config.EmptyTurnAllowed() {
				return StreamingResponse{Done: true}, nil
			}
			return StreamingResponse{}, NewEmptyResultError()
		}
		if chunk.Error != nil {
			return StreamingResponse{}, chunk.Error
		}
		if chunk.Done && chunk.Text == "" && !r.config.EmptyTurnAllowed() {
			return StreamingResponse{}, NewEmptyResultError()
		}
		return chunk, nil
	}
}

// guardProgress replays first and pipes the rest of the stream through,
// aborting when no chunk arrives within the stream timeout. A stalled open
// stream surfaces as a timeout error instead of hanging forever.
func (r *Relay) guardProgress(ctx context.Context, first StreamingResponse, stream <-chan StreamingResponse) <-chan StreamingResponse {
	out := make(chan StreamingResponse, 100)

	go func() {
		defer close(out)

		out <- first
		if first.Done {
			return
		}

		timer := time.NewTimer(r.config.StreamTimeout())
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				out <- StreamingResponse{Error: ctx.Err(), Done: true}
				return
			case <-timer.C:
				r.logger.Warn("backend stream stalled, aborting")
				out <- StreamingResponse{Error: NewUpstreamUnavailableError("backend stream stalled"), Done: true}
				return
			case chunk, ok := <-stream:
				if !ok {
					out <- StreamingResponse{Done: true}
					return
				}
				out <- chunk
				if chunk.Done {
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(r.config.StreamTimeout())
			}
		}
	}()

	return out
}

// upstreamStatus extracts the HTTP status from a backend SDK error, or 0 when
// the failure never reached the HTTP layer.
func upstreamStatus(err error) int {
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	return 0
}

// isTransportError reports whether err is a transport-class failure: the
// request never produced a backend status. Only these are retried.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *RelayError
	if errors.As(err, &re) {
		return false
	}
	return upstreamStatus(err) == 0
}

// mapUpstreamError translates a backend failure into the relay's taxonomy.
// Recognized backend statuses (401, 429, 5xx) keep their class; everything
// else degrades to a generic upstream failure.
func mapUpstreamError(err error) error {
	if err == nil {
		return nil
	}
	var re *RelayError
	if errors.As(err, &re) {
		return re
	}
	if status := upstreamStatus(err); status > 0 {
		return NewUpstreamRejectedError(status, "backend rejected the request")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewUpstreamUnavailableError("backend timed out")
	}
	return NewUpstreamUnavailableError("backend unavailable")
}
