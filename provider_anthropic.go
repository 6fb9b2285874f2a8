package chatrelay

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicLLMProvider implements the LLMProvider interface using Anthropic's
// official SDK. System messages are carried on Anthropic's dedicated system
// parameter rather than in the message list.
type AnthropicLLMProvider struct {
	client AnthropicClientProvider
	model  anthropic.Model
}

// AnthropicProviderConfig holds configuration for Anthropic provider.
type AnthropicProviderConfig struct {
	// Client is the AnthropicClientProvider implementation to use
	Client AnthropicClientProvider
	// Model specifies which Anthropic model to use
	Model anthropic.Model
}

// NewAnthropicLLMProvider creates a new Anthropic provider with the specified
// configuration. If no model is specified, it defaults to Claude 3.5 Sonnet.
func NewAnthropicLLMProvider(config AnthropicProviderConfig) *AnthropicLLMProvider {
	if config.Model == "" {
		config.Model = anthropic.ModelClaude3_5SonnetLatest
	}

	return &AnthropicLLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

func (p *AnthropicLLMProvider) createMessageParams(messages []ChatMessage, config RequestConfig) anthropic.MessageNewParams {
	var anthropicMessages []anthropic.MessageParam
	var systemMessage string

	for _, msg := range messages {
		switch msg.Role {
		case SystemRole:
			systemMessage = msg.Content
		case UserRole:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case AssistantRole:
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(p.model),
		Messages:    anthropic.F(anthropicMessages),
		MaxTokens:   anthropic.F(config.MaxToken()),
		TopP:        anthropic.Float(config.TopP()),
		Temperature: anthropic.Float(config.Temperature()),
	}

	if systemMessage != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(systemMessage),
		})
	}

	return params
}

// GetResponse generates a complete response using Anthropic's API.
func (p *AnthropicLLMProvider) GetResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (Response, error) {
	startTime := time.Now()
	params := p.createMessageParams(messages, config)

	message, err := p.client.CreateMessage(ctx, params)
	if err != nil {
		return Response{}, err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if textBlock, ok := block.AsUnion().(anthropic.TextBlock); ok {
			text.WriteString(textBlock.Text)
		}
	}

	return Response{
		Text:             text.String(),
		TotalInputToken:  int(message.Usage.InputTokens),
		TotalOutputToken: int(message.Usage.OutputTokens),
		CompletionTime:   time.Since(startTime).Seconds(),
	}, nil
}

// GetStreamingResponse generates a streaming response using Anthropic's API,
// forwarding each text delta as it arrives.
func (p *AnthropicLLMProvider) GetStreamingResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (<-chan StreamingResponse, error) {
	params := p.createMessageParams(messages, config)

	stream := p.client.CreateStreamingMessage(ctx, params)
	responseChan := make(chan StreamingResponse, 100)

	go func() {
		defer close(responseChan)

		for stream.Next() {
			select {
			case <-ctx.Done():
				responseChan <- StreamingResponse{Error: ctx.Err(), Done: true}
				return
			default:
			}

			event := stream.Current()
			if evt, ok := event.AsUnion().(anthropic.ContentBlockDeltaEvent); ok {
				if delta, ok := evt.Delta.AsUnion().(anthropic.TextDelta); ok && delta.Text != "" {
					responseChan <- StreamingResponse{Text: delta.Text, TokenCount: 1}
				}
			}
		}

		if err := stream.Err(); err != nil {
			responseChan <- StreamingResponse{Error: err, Done: true}
			return
		}

		responseChan <- StreamingResponse{Done: true}
	}()

	return responseChan, nil
}
