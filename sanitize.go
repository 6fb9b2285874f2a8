package chatrelay

import "strings"

// Bounds applied to every conversation before it is forwarded upstream.
const (
	// MaxHistoryMessages is the number of most-recent messages retained.
	MaxHistoryMessages = 10

	// MaxMessageChars is the per-message content bound. Truncation is a
	// hard cut, not word-aware.
	MaxMessageChars = 4000

	// MaxSystemPromptChars is the teacher prompt bound.
	MaxSystemPromptChars = 2000

	// DefaultSystemPrompt is substituted when no teacher prompt is given.
	DefaultSystemPrompt = "You are a helpful teaching assistant."
)

// SanitizeConversation bounds a raw conversation and teacher prompt so they
// are always well-formed for the relay. It keeps only the last
// MaxHistoryMessages messages in order, hard-cuts each message's content to
// MaxMessageChars, and substitutes DefaultSystemPrompt for a blank prompt or
// truncates a present one to MaxSystemPromptChars.
//
// The function is pure. The only failure mode is a missing or empty
// conversation, which yields an invalid-input error.
func SanitizeConversation(messages []ChatMessage, systemPrompt string) ([]ChatMessage, string, error) {
	if len(messages) == 0 {
		return nil, "", NewInvalidInputError("messages are required")
	}

	if len(messages) > MaxHistoryMessages {
		messages = messages[len(messages)-MaxHistoryMessages:]
	}

	bounded := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		msg.Content = truncate(msg.Content, MaxMessageChars)
		bounded[i] = msg
	}

	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	} else {
		systemPrompt = truncate(systemPrompt, MaxSystemPromptChars)
	}

	return bounded, systemPrompt, nil
}

// truncate hard-cuts s to at most limit runes. Cutting on runes rather than
// bytes keeps the result valid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
