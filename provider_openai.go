package chatrelay

import (
	"context"
	"time"

	"github.com/openai/openai-go"
)

// OpenAILLMProvider implements the LLMProvider interface using OpenAI's
// official SDK.
type OpenAILLMProvider struct {
	client OpenAIClientProvider
	model  string
}

// OpenAIProviderConfig holds configuration for OpenAI provider.
type OpenAIProviderConfig struct {
	// Client is the OpenAIClientProvider implementation to use
	Client OpenAIClientProvider
	// Model specifies which OpenAI model to use (e.g., "gpt-4o", "gpt-4o-mini")
	Model openai.ChatModel
}

// NewOpenAILLMProvider creates a new OpenAI provider with the specified
// configuration. If no model is specified, it defaults to GPT-4o-mini.
func NewOpenAILLMProvider(config OpenAIProviderConfig) *OpenAILLMProvider {
	if config.Model == "" {
		config.Model = openai.ChatModelGPT4oMini
	}

	return &OpenAILLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// convertToOpenAIMessages converts internal message format to OpenAI's format
func (p *OpenAILLMProvider) convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	var openAIMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case UserRole:
			openAIMessages = append(openAIMessages, openai.UserMessage(msg.Content))
		case AssistantRole:
			openAIMessages = append(openAIMessages, openai.AssistantMessage(msg.Content))
		case SystemRole:
			openAIMessages = append(openAIMessages, openai.SystemMessage(msg.Content))
		default:
			openAIMessages = append(openAIMessages, openai.UserMessage(msg.Content))
		}
	}
	return openAIMessages
}

// createCompletionParams creates OpenAI API parameters from request config
func (p *OpenAILLMProvider) createCompletionParams(messages []openai.ChatCompletionMessageParamUnion, config RequestConfig) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages:    openai.F(messages),
		Model:       openai.F(p.model),
		MaxTokens:   openai.Int(config.MaxToken()),
		TopP:        openai.Float(config.TopP()),
		Temperature: openai.Float(config.Temperature()),
	}
}

// GetResponse generates a complete response using OpenAI's API. Used by the
// relay's fallback mode when streaming is unavailable or disabled.
func (p *OpenAILLMProvider) GetResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (Response, error) {
	startTime := time.Now()
	params := p.createCompletionParams(p.convertToOpenAIMessages(messages), config)

	completion, err := p.client.CreateCompletion(ctx, params)
	if err != nil {
		return Response{}, err
	}

	if len(completion.Choices) == 0 {
		return Response{}, NewEmptyResultError()
	}

	return Response{
		Text:             completion.Choices[0].Message.Content,
		TotalInputToken:  int(completion.Usage.PromptTokens),
		TotalOutputToken: int(completion.Usage.CompletionTokens),
		CompletionTime:   time.Since(startTime).Seconds(),
	}, nil
}

// GetStreamingResponse generates a streaming response using OpenAI's API,
// forwarding each content delta as it arrives and honoring context
// cancellation.
func (p *OpenAILLMProvider) GetStreamingResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (<-chan StreamingResponse, error) {
	params := p.createCompletionParams(p.convertToOpenAIMessages(messages), config)

	stream := p.client.CreateStreamingCompletion(ctx, params)
	responseChan := make(chan StreamingResponse, 100)

	go func() {
		defer close(responseChan)

		for stream.Next() {
			select {
			case <-ctx.Done():
				responseChan <- StreamingResponse{
					Error: ctx.Err(),
					Done:  true,
				}
				return
			default:
				chunk := stream.Current()
				if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
					responseChan <- StreamingResponse{
						Text:       chunk.Choices[0].Delta.Content,
						TokenCount: 1,
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			responseChan <- StreamingResponse{
				Error: err,
				Done:  true,
			}
			return
		}

		responseChan <- StreamingResponse{Done: true}
	}()

	return responseChan, nil
}
