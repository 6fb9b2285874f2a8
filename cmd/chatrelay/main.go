// Command chatrelay runs the relay server: it rate limits inbound chat
// requests, sanitizes conversations, forwards them to a configured LLM
// backend and transcodes the upstream stream into newline-delimited frames.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	_ "github.com/lib/pq" // postgres driver for the shared admission store
	"github.com/openai/openai-go"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/shaharia-lab/chatrelay"
	"github.com/shaharia-lab/chatrelay/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := buildLogger()

	if err := run(ctx, logger); err != nil {
		logger.WithErr(err).Error("relay server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger observability.Logger) error {
	provider, err := buildProvider(ctx, logger)
	if err != nil {
		return err
	}
	provider = chatrelay.NewTracingLLMProvider(provider)

	limiter, closeStore, err := buildLimiter(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	relayOpts := []chatrelay.RelayOption{
		chatrelay.WithRelayConfig(buildRequestConfig()),
	}
	if os.Getenv("CHATRELAY_STREAMING") == "false" {
		relayOpts = append(relayOpts, chatrelay.WithStreamingDisabled())
	}
	relay := chatrelay.NewRelay(provider, logger, relayOpts...)

	server, err := chatrelay.NewServer(relay, limiter, logger)
	if err != nil {
		return err
	}

	addr := envOr("CHATRELAY_ADDR", ":8080")
	logger.WithFields(map[string]interface{}{"addr": addr}).Info("starting relay server")
	return server.Run(ctx, addr)
}

// buildProvider selects an upstream backend from CHATRELAY_PROVIDER. A
// missing credential is a configuration error, reported before any request
// is accepted.
func buildProvider(ctx context.Context, logger observability.Logger) (chatrelay.LLMProvider, error) {
	model := os.Getenv("CHATRELAY_MODEL")

	switch backend := envOr("CHATRELAY_PROVIDER", "openai"); backend {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, chatrelay.NewConfigurationError("OPENAI_API_KEY is not set")
		}
		return chatrelay.NewOpenAILLMProvider(chatrelay.OpenAIProviderConfig{
			Client: chatrelay.NewOpenAIClient(apiKey),
			Model:  openai.ChatModel(model),
		}), nil

	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, chatrelay.NewConfigurationError("ANTHROPIC_API_KEY is not set")
		}
		return chatrelay.NewAnthropicLLMProvider(chatrelay.AnthropicProviderConfig{
			Client: chatrelay.NewAnthropicClient(apiKey),
			Model:  anthropic.Model(model),
		}), nil

	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, chatrelay.NewConfigurationError("GEMINI_API_KEY is not set")
		}
		service, err := chatrelay.NewGoogleGeminiService(apiKey, model)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini service: %w", err)
		}
		return chatrelay.NewGeminiLLMProvider(service, logger)

	case "bedrock":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, chatrelay.NewConfigurationError("failed to load AWS configuration")
		}
		return chatrelay.NewBedrockLLMProvider(chatrelay.BedrockProviderConfig{
			Client: chatrelay.NewBedrockClientWrapper(bedrockruntime.NewFromConfig(cfg)),
			Model:  model,
		}), nil

	default:
		return nil, chatrelay.NewConfigurationError(fmt.Sprintf("unknown provider %q", backend))
	}
}

// buildLimiter wires the admission store. With CHATRELAY_POSTGRES_DSN set
// the admission window is shared across relay instances; otherwise it is
// kept in process memory.
func buildLimiter(logger observability.Logger) (*chatrelay.RateLimiter, func(), error) {
	var opts []chatrelay.RateLimiterOption
	if raw := os.Getenv("CHATRELAY_RATE_LIMIT"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, nil, chatrelay.NewConfigurationError("CHATRELAY_RATE_LIMIT must be a positive integer")
		}
		opts = append(opts, chatrelay.WithLimit(limit))
	}
	if raw := os.Getenv("CHATRELAY_RATE_WINDOW"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			return nil, nil, chatrelay.NewConfigurationError("CHATRELAY_RATE_WINDOW must be a positive duration")
		}
		opts = append(opts, chatrelay.WithWindow(window))
	}

	dsn := os.Getenv("CHATRELAY_POSTGRES_DSN")
	if dsn == "" {
		store := chatrelay.NewInMemoryAdmissionStore()
		return chatrelay.NewRateLimiter(store, logger, opts...), func() {}, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	store, err := chatrelay.NewPostgresAdmissionStore(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return chatrelay.NewRateLimiter(store, logger, opts...), func() { db.Close() }, nil
}

func buildRequestConfig() chatrelay.RequestConfig {
	var opts []chatrelay.RequestOption
	if raw := os.Getenv("CHATRELAY_MAX_TOKEN"); raw != "" {
		if maxToken, err := strconv.ParseInt(raw, 10, 64); err == nil && maxToken > 0 {
			opts = append(opts, chatrelay.WithMaxToken(maxToken))
		}
	}
	if os.Getenv("CHATRELAY_ALLOW_EMPTY_TURN") == "true" {
		opts = append(opts, chatrelay.WithEmptyTurnAllowed(true))
	}
	return chatrelay.NewRequestConfig(opts...)
}

func buildLogger() observability.Logger {
	switch os.Getenv("CHATRELAY_LOGGER") {
	case "zap":
		zapLogger, err := zap.NewProduction()
		if err != nil {
			return observability.NewDefaultLogger()
		}
		return observability.NewZapLogger(zapLogger)
	case "logrus":
		logrusLogger := logrus.New()
		logrusLogger.SetFormatter(&logrus.JSONFormatter{})
		return observability.NewLogrusLogger(logrusLogger)
	default:
		return observability.NewDefaultLogger()
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
