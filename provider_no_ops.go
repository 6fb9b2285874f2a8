package chatrelay

import "context"

// NoOpsLLMProvider implements LLMProvider for testing purposes. It replays
// canned responses without touching any backend.
type NoOpsLLMProvider struct {
	response     Response
	streamChunks []StreamingResponse
	err          error
}

// NoOpsOption defines the function signature for option pattern.
type NoOpsOption func(*NoOpsLLMProvider)

// WithResponse sets the canned complete response.
func WithResponse(response Response) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.response = response
	}
}

// WithStreamChunks sets the canned streaming chunk sequence. A terminal Done
// chunk is appended automatically when the sequence lacks one.
func WithStreamChunks(chunks ...StreamingResponse) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.streamChunks = chunks
	}
}

// WithError makes every call fail with err.
func WithError(err error) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.err = err
	}
}

// NewNoOpsLLMProvider creates a new NoOpsLLMProvider with optional
// configurations.
func NewNoOpsLLMProvider(opts ...NoOpsOption) *NoOpsLLMProvider {
	provider := &NoOpsLLMProvider{
		response: Response{
			Text:             "Default NoOps response",
			TotalInputToken:  10,
			TotalOutputToken: 3,
			CompletionTime:   0.1,
		},
		streamChunks: []StreamingResponse{
			{Text: "Default NoOps streaming response", TokenCount: 4},
		},
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider
}

// GetResponse implements the LLMProvider interface.
func (n *NoOpsLLMProvider) GetResponse(_ context.Context, _ []ChatMessage, _ RequestConfig) (Response, error) {
	if n.err != nil {
		return Response{}, n.err
	}
	return n.response, nil
}

// GetStreamingResponse implements the LLMProvider interface.
func (n *NoOpsLLMProvider) GetStreamingResponse(ctx context.Context, _ []ChatMessage, _ RequestConfig) (<-chan StreamingResponse, error) {
	if n.err != nil {
		return nil, n.err
	}

	responseChan := make(chan StreamingResponse, len(n.streamChunks)+1)

	go func() {
		defer close(responseChan)

		done := false
		for _, chunk := range n.streamChunks {
			select {
			case <-ctx.Done():
				responseChan <- StreamingResponse{Error: ctx.Err(), Done: true}
				return
			default:
				responseChan <- chunk
				done = done || chunk.Done
			}
		}
		if !done {
			responseChan <- StreamingResponse{Done: true}
		}
	}()

	return responseChan, nil
}
