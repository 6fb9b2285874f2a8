package chatrelay

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockLLMProvider implements the LLMProvider interface using AWS Bedrock's
// official Go SDK.
type BedrockLLMProvider struct {
	client BedrockClient
	model  string
}

// BedrockProviderConfig holds the configuration options for creating a
// Bedrock provider.
type BedrockProviderConfig struct {
	Client BedrockClient
	Model  string
}

// NewBedrockLLMProvider creates a new Bedrock provider with the specified
// configuration. If no model is specified, it defaults to Claude 3.5 Sonnet.
func NewBedrockLLMProvider(config BedrockProviderConfig) *BedrockLLMProvider {
	if config.Model == "" {
		config.Model = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}

	return &BedrockLLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// convertToBedrockMessages splits the conversation into Bedrock message
// history and system content blocks.
func (p *BedrockLLMProvider) convertToBedrockMessages(messages []ChatMessage) ([]types.Message, []types.SystemContentBlock) {
	var bedrockMessages []types.Message
	var systemPrompts []types.SystemContentBlock

	for _, msg := range messages {
		switch msg.Role {
		case SystemRole:
			systemPrompts = append(systemPrompts, &types.SystemContentBlockMemberText{Value: msg.Content})
		case AssistantRole:
			bedrockMessages = append(bedrockMessages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
			})
		default:
			bedrockMessages = append(bedrockMessages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
			})
		}
	}

	return bedrockMessages, systemPrompts
}

func (p *BedrockLLMProvider) inferenceConfig(config RequestConfig) *types.InferenceConfiguration {
	return &types.InferenceConfiguration{
		Temperature: aws.Float32(float32(config.Temperature())),
		TopP:        aws.Float32(float32(config.TopP())),
		MaxTokens:   aws.Int32(int32(config.MaxToken())),
	}
}

// GetResponse generates a complete response using Bedrock's Converse API.
func (p *BedrockLLMProvider) GetResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (Response, error) {
	startTime := time.Now()
	bedrockMessages, systemPrompts := p.convertToBedrockMessages(messages)

	input := &bedrockruntime.ConverseInput{
		ModelId:         &p.model,
		Messages:        bedrockMessages,
		System:          systemPrompts,
		InferenceConfig: p.inferenceConfig(config),
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		return Response{}, err
	}

	var responseText string
	if msgOutput, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
				responseText += textBlock.Value
			}
		}
	}

	var inputTokens, outputTokens int
	if output.Usage != nil {
		inputTokens = int(*output.Usage.InputTokens)
		outputTokens = int(*output.Usage.OutputTokens)
	}

	return Response{
		Text:             responseText,
		TotalInputToken:  inputTokens,
		TotalOutputToken: outputTokens,
		CompletionTime:   time.Since(startTime).Seconds(),
	}, nil
}

// GetStreamingResponse generates a streaming response using Bedrock's
// ConverseStream API, forwarding each text delta as it arrives.
func (p *BedrockLLMProvider) GetStreamingResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (<-chan StreamingResponse, error) {
	bedrockMessages, systemPrompts := p.convertToBedrockMessages(messages)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         &p.model,
		Messages:        bedrockMessages,
		System:          systemPrompts,
		InferenceConfig: p.inferenceConfig(config),
	}

	output, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ConverseStream API call failed: %w", err)
	}

	responseChan := make(chan StreamingResponse, 100)

	go func() {
		defer close(responseChan)

		stream := output.GetStream()
		defer stream.Close()

		for {
			select {
			case <-ctx.Done():
				responseChan <- StreamingResponse{Error: ctx.Err(), Done: true}
				return

			case event, ok := <-stream.Events():
				if !ok {
					if err := stream.Err(); err != nil && ctx.Err() == nil {
						responseChan <- StreamingResponse{Error: fmt.Errorf("stream closed with error: %w", err), Done: true}
						return
					}
					responseChan <- StreamingResponse{Done: true}
					return
				}

				if v, ok := event.(*types.ConverseStreamOutputMemberContentBlockDelta); ok {
					if delta, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && delta.Value != "" {
						responseChan <- StreamingResponse{Text: delta.Value, TokenCount: 1}
					}
				}
			}
		}
	}()

	return responseChan, nil
}
