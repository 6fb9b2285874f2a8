package chatrelay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"

	"github.com/shaharia-lab/chatrelay/observability"
)

// Gemini conversation roles.
const (
	GeminiRoleUser  = "user"
	GeminiRoleModel = "model"
)

// GeminiLLMProvider implements the LLMProvider interface using Google's
// generative AI SDK behind a GeminiModelService.
type GeminiLLMProvider struct {
	service GeminiModelService
	log     observability.Logger
}

// NewGeminiLLMProvider creates a new Gemini provider over the given service.
func NewGeminiLLMProvider(service GeminiModelService, log observability.Logger) (*GeminiLLMProvider, error) {
	if service == nil {
		return nil, errors.New("GeminiModelService cannot be nil")
	}
	if log == nil {
		log = observability.NewNullLogger()
	}
	return &GeminiLLMProvider{service: service, log: log}, nil
}

// mapToGenaiContent converts conversation messages to genai content. Gemini
// requires strictly alternating user/model turns, so same-role runs are
// merged and a system message is lifted out for the system instruction.
func (p *GeminiLLMProvider) mapToGenaiContent(messages []ChatMessage) ([]*genai.Content, string, error) {
	var systemPrompt string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		var role string
		switch msg.Role {
		case UserRole:
			role = GeminiRoleUser
		case AssistantRole:
			role = GeminiRoleModel
		case SystemRole:
			systemPrompt = msg.Content
			continue
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if len(contents) > 0 && contents[len(contents)-1].Role == role {
			last := contents[len(contents)-1]
			last.Parts = append(last.Parts, genai.Text(msg.Content))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	if len(contents) == 0 {
		return nil, "", errors.New("conversation has no user or assistant messages")
	}
	if contents[0].Role == GeminiRoleModel {
		return nil, "", errors.New("conversation history cannot start with an assistant message")
	}
	return contents, systemPrompt, nil
}

func (p *GeminiLLMProvider) prepareSession(messages []ChatMessage, config RequestConfig) (GeminiChatSession, []genai.Part, error) {
	contents, systemPrompt, err := p.mapToGenaiContent(messages)
	if err != nil {
		return nil, nil, err
	}

	maxTokens := int32(config.MaxToken())
	temperature := float32(config.Temperature())
	topP := float32(config.TopP())
	genaiConfig := &genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temperature,
		TopP:            &topP,
	}
	if err := p.service.ConfigureModel(genaiConfig, systemPrompt); err != nil {
		return nil, nil, fmt.Errorf("failed to configure gemini model: %w", err)
	}

	history := contents[:len(contents)-1]
	sendParts := contents[len(contents)-1].Parts
	return p.service.StartChat(history), sendParts, nil
}

// GetResponse generates a complete response using the Gemini API.
func (p *GeminiLLMProvider) GetResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (Response, error) {
	startTime := time.Now()

	session, sendParts, err := p.prepareSession(messages, config)
	if err != nil {
		return Response{}, err
	}

	resp, err := session.SendMessage(ctx, sendParts...)
	if err != nil {
		return Response{}, err
	}

	var text string
	var inputTokens, outputTokens int
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		text = extractGenaiText(resp.Candidates[0].Content.Parts)
	}
	if resp.UsageMetadata != nil {
		inputTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return Response{
		Text:             text,
		TotalInputToken:  inputTokens,
		TotalOutputToken: outputTokens,
		CompletionTime:   time.Since(startTime).Seconds(),
	}, nil
}

// GetStreamingResponse generates a streaming response using the Gemini API,
// forwarding each text part as it arrives.
func (p *GeminiLLMProvider) GetStreamingResponse(ctx context.Context, messages []ChatMessage, config RequestConfig) (<-chan StreamingResponse, error) {
	session, sendParts, err := p.prepareSession(messages, config)
	if err != nil {
		return nil, err
	}

	iter := session.SendMessageStream(ctx, sendParts...)
	responseChan := make(chan StreamingResponse, 100)

	go func() {
		defer close(responseChan)

		for {
			select {
			case <-ctx.Done():
				responseChan <- StreamingResponse{Error: ctx.Err(), Done: true}
				return
			default:
			}

			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				responseChan <- StreamingResponse{Done: true}
				return
			}
			if err != nil {
				responseChan <- StreamingResponse{Error: err, Done: true}
				return
			}

			if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
				if text := extractGenaiText(resp.Candidates[0].Content.Parts); text != "" {
					responseChan <- StreamingResponse{Text: text, TokenCount: 1}
				}
			}
		}
	}()

	return responseChan, nil
}

func extractGenaiText(parts []genai.Part) string {
	var text string
	for _, part := range parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return text
}
