// Package chatrelay implements a streaming chat relay: a thin HTTP server
// that forwards bounded conversations to a token-generation backend and
// reframes the backend's incremental output into a canonical newline-delimited
// frame stream, plus the client-side consumer that renders it as it arrives.
package chatrelay

import (
	"time"
)

// Message roles supported by the relay and its backends.
const (
	UserRole      = "user"
	AssistantRole = "assistant"
	SystemRole    = "system"
)

// ChatMessage is a single turn in a conversation. Messages are immutable once
// finalized; the only exception is the client's in-flight assistant message,
// whose content grows until the stream ends.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// ProblemContext is the external input that starts a conversation: the
// moderator-authored instruction and the opening assistant message. Both are
// opaque text and must be bounded before forwarding upstream.
type ProblemContext struct {
	SystemPrompt    string `json:"systemPrompt"`
	InitialQuestion string `json:"initialQuestion"`
}

// Response is a complete (non-streaming) backend completion.
type Response struct {
	Text             string
	TotalInputToken  int
	TotalOutputToken int
	CompletionTime   float64
}

// StreamingResponse is one incremental chunk of a streaming completion.
// A chunk with Done set terminates the stream; Error is only meaningful
// alongside Done.
type StreamingResponse struct {
	Text       string
	Done       bool
	Error      error
	TokenCount int
}
