package chatrelay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAnthropicClient implements AnthropicClientProvider interface for testing
type MockAnthropicClient struct {
	createMessageFunc          func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
	createStreamingMessageFunc func(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEvent]
}

func (m *MockAnthropicClient) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if m.createMessageFunc != nil {
		return m.createMessageFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockAnthropicClient) CreateStreamingMessage(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEvent] {
	if m.createStreamingMessageFunc != nil {
		return m.createStreamingMessageFunc(ctx, params)
	}
	return nil
}

type mockAnthropicDecoder struct {
	events []anthropic.MessageStreamEvent
	index  int
	err    error
}

func (d *mockAnthropicDecoder) Event() ssestream.Event {
	if d.index < 0 || d.index >= len(d.events) {
		return ssestream.Event{}
	}

	event := d.events[d.index]

	payload := make(map[string]interface{})
	payload["type"] = event.Type
	payload["index"] = event.Index

	switch event.Type {
	case anthropic.MessageStreamEventTypeMessageStart:
		payload["message"] = event.Message
	case anthropic.MessageStreamEventTypeContentBlockStart:
		payload["content_block"] = event.ContentBlock
	case anthropic.MessageStreamEventTypeContentBlockDelta:
		payload["delta"] = event.Delta
	case anthropic.MessageStreamEventTypeMessageDelta:
		payload["delta"] = event.Delta
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ssestream.Event{}
	}

	return ssestream.Event{
		Type: string(event.Type),
		Data: data,
	}
}

func (d *mockAnthropicDecoder) Next() bool {
	d.index++
	return d.index < len(d.events)
}

func (d *mockAnthropicDecoder) Err() error {
	return d.err
}

func (d *mockAnthropicDecoder) Close() error {
	return nil
}

func textDeltaEvent(text string) anthropic.MessageStreamEvent {
	return anthropic.MessageStreamEvent{
		Type:  anthropic.MessageStreamEventTypeContentBlockDelta,
		Index: 0,
		Delta: anthropic.ContentBlockDeltaEventDelta{
			Type: anthropic.ContentBlockDeltaEventDeltaTypeTextDelta,
			Text: text,
		},
	}
}

func TestAnthropicLLMProvider_NewAnthropicLLMProvider(t *testing.T) {
	tests := []struct {
		name          string
		config        AnthropicProviderConfig
		expectedModel anthropic.Model
	}{
		{
			name: "with specified model",
			config: AnthropicProviderConfig{
				Client: &MockAnthropicClient{},
				Model:  "claude-3-opus-20240229",
			},
			expectedModel: "claude-3-opus-20240229",
		},
		{
			name: "with default model",
			config: AnthropicProviderConfig{
				Client: &MockAnthropicClient{},
			},
			expectedModel: anthropic.ModelClaude3_5SonnetLatest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewAnthropicLLMProvider(tt.config)

			assert.Equal(t, tt.expectedModel, provider.model, "unexpected model")
			assert.NotNil(t, provider.client, "expected client to be initialized")
		})
	}
}

func TestAnthropicLLMProvider_GetResponse(t *testing.T) {
	mockClient := &MockAnthropicClient{
		createMessageFunc: func(_ context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			// system turns ride on the dedicated system parameter, not
			// the message list
			assert.Len(t, params.System.Value, 1)
			assert.Len(t, params.Messages.Value, 2)

			message := &anthropic.Message{
				Role:  anthropic.MessageRoleAssistant,
				Model: anthropic.ModelClaude3_5SonnetLatest,
				Usage: anthropic.Usage{
					InputTokens:  10,
					OutputTokens: 5,
				},
				Type: anthropic.MessageTypeMessage,
			}

			block := anthropic.ContentBlock{}
			if err := block.UnmarshalJSON([]byte(`{
				"type": "text",
				"text": "Test response"
			}`)); err != nil {
				t.Fatal(err)
			}

			message.Content = []anthropic.ContentBlock{block}
			return message, nil
		},
	}

	provider := NewAnthropicLLMProvider(AnthropicProviderConfig{
		Client: mockClient,
		Model:  anthropic.ModelClaude3_5SonnetLatest,
	})

	messages := []ChatMessage{
		{Role: SystemRole, Content: "You are a patient math teacher"},
		{Role: UserRole, Content: "Hello"},
		{Role: AssistantRole, Content: "Hi there"},
	}

	result, err := provider.GetResponse(context.Background(), messages, NewRequestConfig())

	require.NoError(t, err)
	assert.Equal(t, "Test response", result.Text)
	assert.Equal(t, 10, result.TotalInputToken)
	assert.Equal(t, 5, result.TotalOutputToken)
	assert.Greater(t, result.CompletionTime, float64(0), "completion time should be greater than 0")
}

func TestAnthropicLLMProvider_GetResponse_Error(t *testing.T) {
	mockClient := &MockAnthropicClient{
		createMessageFunc: func(_ context.Context, _ anthropic.MessageNewParams) (*anthropic.Message, error) {
			return nil, errors.New("rate limited")
		},
	}

	provider := NewAnthropicLLMProvider(AnthropicProviderConfig{Client: mockClient})

	_, err := provider.GetResponse(context.Background(), userTurn("Hello"), NewRequestConfig())
	assert.Error(t, err)
}

func TestAnthropicLLMProvider_GetStreamingResponse(t *testing.T) {
	mockClient := &MockAnthropicClient{
		createStreamingMessageFunc: func(_ context.Context, _ anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEvent] {
			events := []anthropic.MessageStreamEvent{
				{
					Type: anthropic.MessageStreamEventTypeMessageStart,
					Message: anthropic.Message{
						Role:  anthropic.MessageRoleAssistant,
						Model: anthropic.ModelClaude3_5SonnetLatest,
					},
				},
				textDeltaEvent("Hello"),
				textDeltaEvent(" world"),
				textDeltaEvent("!"),
				{
					Type:  anthropic.MessageStreamEventTypeContentBlockStop,
					Index: 0,
				},
				{
					Type: anthropic.MessageStreamEventTypeMessageStop,
				},
			}

			decoder := &mockAnthropicDecoder{events: events, index: -1}
			return ssestream.NewStream[anthropic.MessageStreamEvent](decoder, nil)
		},
	}

	provider := NewAnthropicLLMProvider(AnthropicProviderConfig{
		Client: mockClient,
		Model:  anthropic.ModelClaude3_5SonnetLatest,
	})

	stream, err := provider.GetStreamingResponse(context.Background(), userTurn("Hello"), NewRequestConfig())
	require.NoError(t, err)

	var receivedText string
	for chunk := range stream {
		if chunk.Error != nil {
			t.Fatal(chunk.Error)
		}
		receivedText += chunk.Text
	}

	assert.Equal(t, "Hello world!", receivedText)
}

func TestAnthropicLLMProvider_GetStreamingResponse_Error(t *testing.T) {
	mockClient := &MockAnthropicClient{
		createStreamingMessageFunc: func(_ context.Context, _ anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEvent] {
			events := []anthropic.MessageStreamEvent{
				textDeltaEvent("partial"),
			}

			decoder := &mockAnthropicDecoder{events: events, index: -1, err: errors.New("connection reset")}
			return ssestream.NewStream[anthropic.MessageStreamEvent](decoder, nil)
		},
	}

	provider := NewAnthropicLLMProvider(AnthropicProviderConfig{Client: mockClient})

	stream, err := provider.GetStreamingResponse(context.Background(), userTurn("Hello"), NewRequestConfig())
	require.NoError(t, err)

	var receivedText string
	var streamErr error
	for chunk := range stream {
		if chunk.Error != nil {
			streamErr = chunk.Error
			continue
		}
		receivedText += chunk.Text
	}

	assert.Equal(t, "partial", receivedText)
	assert.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "connection reset")
}
