package chatrelay

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiModelService defines the interface for interacting with the Gemini
// model. The provider talks to this interface only, so tests can substitute a
// fake session without a network.
type GeminiModelService interface {
	ConfigureModel(config *genai.GenerationConfig, systemPrompt string) error
	StartChat(initialHistory []*genai.Content) GeminiChatSession
}

// GeminiChatSession defines the interface for one chat session.
type GeminiChatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	SendMessageStream(ctx context.Context, parts ...genai.Part) GeminiStreamIterator
}

// GeminiStreamIterator defines the interface for streaming content
// generation. Next returns iterator.Done from google.golang.org/api/iterator
// when the stream is exhausted.
type GeminiStreamIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

// GoogleGeminiService implements GeminiModelService using the genai client.
type GoogleGeminiService struct {
	model *genai.GenerativeModel
}

// NewGoogleGeminiService creates a new instance of GoogleGeminiService.
func NewGoogleGeminiService(apiKey, modelName string) (*GoogleGeminiService, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GoogleGeminiService{model: client.GenerativeModel(modelName)}, nil
}

// ConfigureModel applies the generation config and system instruction.
func (g *GoogleGeminiService) ConfigureModel(config *genai.GenerationConfig, systemPrompt string) error {
	g.model.GenerationConfig = *config
	if systemPrompt != "" {
		g.model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	return nil
}

// StartChat initializes a new chat session with the provided initial history.
func (g *GoogleGeminiService) StartChat(initialHistory []*genai.Content) GeminiChatSession {
	cs := g.model.StartChat()
	cs.History = initialHistory
	return &googleGeminiChatSession{cs: cs}
}

type googleGeminiChatSession struct {
	cs *genai.ChatSession
}

func (s *googleGeminiChatSession) SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return s.cs.SendMessage(ctx, parts...)
}

func (s *googleGeminiChatSession) SendMessageStream(ctx context.Context, parts ...genai.Part) GeminiStreamIterator {
	return s.cs.SendMessageStream(ctx, parts...)
}
