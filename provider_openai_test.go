package chatrelay

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockOpenAIClient implements OpenAIClientProvider for testing.
type MockOpenAIClient struct {
	client *openai.Client
}

func NewMockOpenAIClient(transport http.RoundTripper) *MockOpenAIClient {
	return &MockOpenAIClient{
		client: openai.NewClient(
			option.WithHTTPClient(&http.Client{Transport: transport}),
		),
	}
}

func (m *MockOpenAIClient) CreateCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return m.client.Chat.Completions.New(ctx, params)
}

func (m *MockOpenAIClient) CreateStreamingCompletion(ctx context.Context, params openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk] {
	return m.client.Chat.Completions.NewStreaming(ctx, params)
}

// MockRoundTripper implements http.RoundTripper for testing
type MockRoundTripper struct {
	RoundTripFunc func(*http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

type sseTransport struct {
	responses []string
	delay     time.Duration
}

func (m *sseTransport) RoundTrip(_ *http.Request) (*http.Response, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		for _, resp := range m.responses {
			time.Sleep(10 * time.Millisecond) // Simulate streaming delay
			pw.Write([]byte(resp + "\n\n"))
		}
	}()

	return &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type": []string{"text/event-stream"},
		},
		Body: pr,
	}, nil
}

func jsonResponse(body string) *http.Response {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func TestOpenAILLMProvider_NewOpenAILLMProvider(t *testing.T) {
	mockClient := NewMockOpenAIClient(http.DefaultTransport)

	tests := []struct {
		name          string
		config        OpenAIProviderConfig
		expectedModel string
	}{
		{
			name: "with specified model",
			config: OpenAIProviderConfig{
				Client: mockClient,
				Model:  "gpt-4o",
			},
			expectedModel: "gpt-4o",
		},
		{
			name: "with default model",
			config: OpenAIProviderConfig{
				Client: mockClient,
			},
			expectedModel: string(openai.ChatModelGPT4oMini),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewOpenAILLMProvider(tt.config)
			assert.Equal(t, tt.expectedModel, provider.model)
			assert.NotNil(t, provider.client)
		})
	}
}

func TestOpenAILLMProvider_GetResponse(t *testing.T) {
	mockClient := NewMockOpenAIClient(&MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(`{
				"choices": [{"message": {"content": "Hi there!"}}],
				"usage": {"prompt_tokens": 5, "completion_tokens": 10}
			}`), nil
		},
	})

	provider := NewOpenAILLMProvider(OpenAIProviderConfig{Client: mockClient})

	result, err := provider.GetResponse(context.Background(), userTurn("Hello"), NewRequestConfig())
	require.NoError(t, err)

	assert.Equal(t, "Hi there!", result.Text)
	assert.Equal(t, 5, result.TotalInputToken)
	assert.Equal(t, 10, result.TotalOutputToken)
	assert.Greater(t, result.CompletionTime, float64(0))
}

func TestOpenAILLMProvider_GetResponse_NoChoices(t *testing.T) {
	mockClient := NewMockOpenAIClient(&MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(`{"choices": [], "usage": {"prompt_tokens": 5, "completion_tokens": 0}}`), nil
		},
	})

	provider := NewOpenAILLMProvider(OpenAIProviderConfig{Client: mockClient})

	_, err := provider.GetResponse(context.Background(), userTurn("Hello"), NewRequestConfig())
	require.Error(t, err)
	assert.Equal(t, ErrKindEmptyResult, KindOf(err))
}

func TestOpenAILLMProvider_GetStreamingResponse(t *testing.T) {
	responses := []string{
		`data: {"id":"123","choices":[{"delta":{"content":"Hello"}}]}`,
		`data: {"id":"123","choices":[{"delta":{"content":" world"}}]}`,
		`data: [DONE]`,
	}

	mockClient := NewMockOpenAIClient(&sseTransport{responses: responses})
	provider := NewOpenAILLMProvider(OpenAIProviderConfig{Client: mockClient})

	stream, err := provider.GetStreamingResponse(context.Background(), userTurn("test"), NewRequestConfig())
	require.NoError(t, err)

	var text string
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		text += chunk.Text
		if chunk.Done {
			break
		}
	}
	assert.Equal(t, "Hello world", text)
}

func TestOpenAILLMProvider_GetStreamingResponse_ContextCancellation(t *testing.T) {
	responses := []string{
		`data: {"id":"123","choices":[{"delta":{"content":"Hello"}}]}`,
		`data: [DONE]`,
	}

	mockClient := NewMockOpenAIClient(&sseTransport{
		responses: responses,
		delay:     50 * time.Millisecond,
	})
	provider := NewOpenAILLMProvider(OpenAIProviderConfig{Client: mockClient})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	stream, err := provider.GetStreamingResponse(ctx, userTurn("test"), NewRequestConfig())
	require.NoError(t, err)

	var gotErr bool
	for chunk := range stream {
		if chunk.Error != nil {
			gotErr = true
			break
		}
	}
	assert.True(t, gotErr, "expected the stream to surface the cancellation")
}
