package chatrelay

import "context"

// LLMProvider abstracts a token-generation backend. Implementations exist for
// OpenAI, Anthropic, Gemini and AWS Bedrock, plus a no-op one for tests.
type LLMProvider interface {
	// GetResponse generates a complete response for the given messages.
	GetResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (Response, error)

	// GetStreamingResponse generates a response incrementally. The
	// returned channel is closed after the terminal chunk (Done or Error
	// set) has been delivered.
	GetStreamingResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (<-chan StreamingResponse, error)
}
