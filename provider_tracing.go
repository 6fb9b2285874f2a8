package chatrelay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaharia-lab/chatrelay/observability"
)

// TracingLLMProvider implements the decorator pattern for tracing
type TracingLLMProvider struct {
	provider LLMProvider
}

// NewTracingLLMProvider creates a new tracing decorator for any LLMProvider
func NewTracingLLMProvider(provider LLMProvider) *TracingLLMProvider {
	return &TracingLLMProvider{
		provider: provider,
	}
}

// GetResponse implements LLMProvider interface with added tracing
func (t *TracingLLMProvider) GetResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (Response, error) {
	ctx, span := observability.StartSpan(ctx, "LLMProvider.GetResponse")
	defer span.End()

	startTime := time.Now()

	response, err := t.provider.GetResponse(ctx, messages, config)
	if err != nil {
		span.RecordError(err)
		return Response{}, err
	}

	span.SetAttributes(
		attribute.Int("total_input_token", response.TotalInputToken),
		attribute.Int("total_output_token", response.TotalOutputToken),
		attribute.Int("message_count", len(messages)),
		attribute.Float64("completion_time", time.Since(startTime).Seconds()),
		attribute.Int64("max_token", config.MaxToken()),
		attribute.Float64("temperature", config.Temperature()),
		attribute.Float64("top_p", config.TopP()),
	)

	return response, nil
}

// GetStreamingResponse implements LLMProvider interface with added tracing.
// The span stays open until the wrapped stream terminates.
func (t *TracingLLMProvider) GetStreamingResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (<-chan StreamingResponse, error) {
	ctx, span := observability.StartSpan(ctx, "LLMProvider.GetStreamingResponse")

	startTime := time.Now()

	originalStream, err := t.provider.GetStreamingResponse(ctx, messages, config)
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, err
	}

	wrappedStream := make(chan StreamingResponse, 100)

	go func() {
		defer close(wrappedStream)
		defer span.End()

		var totalTokens int
		for chunk := range originalStream {
			if chunk.Error != nil {
				span.RecordError(chunk.Error)
			}
			totalTokens += chunk.TokenCount
			wrappedStream <- chunk
		}

		span.SetAttributes(
			attribute.Int("total_output_token", totalTokens),
			attribute.Int("message_count", len(messages)),
			attribute.Float64("stream_time", time.Since(startTime).Seconds()),
		)
	}()

	return wrappedStream, nil
}
