package chatrelay

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
)

type MockGeminiModelService struct {
	mock.Mock
}

func (m *MockGeminiModelService) ConfigureModel(config *genai.GenerationConfig, systemPrompt string) error {
	args := m.Called(config, systemPrompt)
	return args.Error(0)
}

func (m *MockGeminiModelService) StartChat(initialHistory []*genai.Content) GeminiChatSession {
	args := m.Called(initialHistory)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(GeminiChatSession)
}

type MockGeminiChatSession struct {
	mock.Mock
}

func (m *MockGeminiChatSession) SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	args := m.Called(ctx, parts)
	var resp *genai.GenerateContentResponse
	if getResp := args.Get(0); getResp != nil {
		resp = getResp.(*genai.GenerateContentResponse)
	}
	return resp, args.Error(1)
}

func (m *MockGeminiChatSession) SendMessageStream(ctx context.Context, parts ...genai.Part) GeminiStreamIterator {
	args := m.Called(ctx, parts)
	return args.Get(0).(GeminiStreamIterator)
}

type MockGeminiStreamIterator struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	idx       int
}

func (m *MockGeminiStreamIterator) Next() (*genai.GenerateContentResponse, error) {
	if m.idx < len(m.responses) || m.idx < len(m.errs) {
		var resp *genai.GenerateContentResponse
		var err error
		if m.idx < len(m.responses) {
			resp = m.responses[m.idx]
		}
		if m.idx < len(m.errs) {
			err = m.errs[m.idx]
		}
		m.idx++
		return resp, err
	}
	return nil, iterator.Done
}

func genaiTextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}}},
		},
	}
}

func TestNewGeminiLLMProvider(t *testing.T) {
	_, err := NewGeminiLLMProvider(nil, nil)
	assert.Error(t, err)

	provider, err := NewGeminiLLMProvider(new(MockGeminiModelService), nil)
	require.NoError(t, err)
	assert.NotNil(t, provider)
}

func TestGeminiLLMProvider_MapToGenaiContent(t *testing.T) {
	provider, err := NewGeminiLLMProvider(new(MockGeminiModelService), nil)
	require.NoError(t, err)

	t.Run("system turn is lifted out", func(t *testing.T) {
		contents, systemPrompt, err := provider.mapToGenaiContent([]ChatMessage{
			{Role: SystemRole, Content: "instructions"},
			{Role: UserRole, Content: "question"},
		})
		require.NoError(t, err)
		assert.Equal(t, "instructions", systemPrompt)
		require.Len(t, contents, 1)
		assert.Equal(t, GeminiRoleUser, contents[0].Role)
	})

	t.Run("same-role runs are merged", func(t *testing.T) {
		contents, _, err := provider.mapToGenaiContent([]ChatMessage{
			{Role: UserRole, Content: "first"},
			{Role: UserRole, Content: "second"},
			{Role: AssistantRole, Content: "reply"},
		})
		require.NoError(t, err)
		require.Len(t, contents, 2)
		assert.Len(t, contents[0].Parts, 2)
	})

	t.Run("history cannot start with an assistant turn", func(t *testing.T) {
		_, _, err := provider.mapToGenaiContent([]ChatMessage{
			{Role: AssistantRole, Content: "reply"},
		})
		assert.Error(t, err)
	})
}

func TestGeminiLLMProvider_GetResponse(t *testing.T) {
	mockService := new(MockGeminiModelService)
	mockSession := new(MockGeminiChatSession)

	mockService.On("ConfigureModel", mock.Anything, "be helpful").Return(nil)
	mockService.On("StartChat", mock.Anything).Return(mockSession)
	mockSession.On("SendMessage", mock.Anything, mock.Anything).
		Return(genaiTextResponse("a full answer"), nil)

	provider, err := NewGeminiLLMProvider(mockService, nil)
	require.NoError(t, err)

	response, err := provider.GetResponse(context.Background(), []ChatMessage{
		{Role: SystemRole, Content: "be helpful"},
		{Role: UserRole, Content: "hi"},
	}, NewRequestConfig())
	require.NoError(t, err)

	assert.Equal(t, "a full answer", response.Text)
	mockService.AssertExpectations(t)
	mockSession.AssertExpectations(t)
}

func TestGeminiLLMProvider_GetStreamingResponse(t *testing.T) {
	mockService := new(MockGeminiModelService)
	mockSession := new(MockGeminiChatSession)

	iter := &MockGeminiStreamIterator{
		responses: []*genai.GenerateContentResponse{
			genaiTextResponse("Hel"),
			genaiTextResponse("lo"),
		},
	}

	mockService.On("ConfigureModel", mock.Anything, mock.Anything).Return(nil)
	mockService.On("StartChat", mock.Anything).Return(mockSession)
	mockSession.On("SendMessageStream", mock.Anything, mock.Anything).Return(iter)

	provider, err := NewGeminiLLMProvider(mockService, nil)
	require.NoError(t, err)

	stream, err := provider.GetStreamingResponse(context.Background(), userTurn("hi"), NewRequestConfig())
	require.NoError(t, err)

	var text string
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		text += chunk.Text
		if chunk.Done {
			break
		}
	}
	assert.Equal(t, "Hello", text)
}

func TestGeminiLLMProvider_StreamErrorSurfaces(t *testing.T) {
	mockService := new(MockGeminiModelService)
	mockSession := new(MockGeminiChatSession)

	iter := &MockGeminiStreamIterator{
		responses: []*genai.GenerateContentResponse{genaiTextResponse("partial")},
		errs:      []error{nil, errors.New("stream broke")},
	}

	mockService.On("ConfigureModel", mock.Anything, mock.Anything).Return(nil)
	mockService.On("StartChat", mock.Anything).Return(mockSession)
	mockSession.On("SendMessageStream", mock.Anything, mock.Anything).Return(iter)

	provider, err := NewGeminiLLMProvider(mockService, nil)
	require.NoError(t, err)

	stream, err := provider.GetStreamingResponse(context.Background(), userTurn("hi"), NewRequestConfig())
	require.NoError(t, err)

	var text string
	var streamErr error
	for chunk := range stream {
		if chunk.Error != nil {
			streamErr = chunk.Error
			break
		}
		text += chunk.Text
	}
	assert.Equal(t, "partial", text)
	assert.Error(t, streamErr)
}

func TestGeminiLLMProvider_ConfigureFailure(t *testing.T) {
	mockService := new(MockGeminiModelService)
	mockService.On("ConfigureModel", mock.Anything, mock.Anything).
		Return(errors.New("bad config"))

	provider, err := NewGeminiLLMProvider(mockService, nil)
	require.NoError(t, err)

	_, err = provider.GetResponse(context.Background(), userTurn("hi"), NewRequestConfig())
	assert.Error(t, err)
}
