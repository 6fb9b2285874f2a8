package chatrelay

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockClient interface for AWS Bedrock operations
type BedrockClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockClientWrapper wraps the bedrockruntime.Client to implement the
// BedrockClient interface.
type BedrockClientWrapper struct {
	client *bedrockruntime.Client
}

// NewBedrockClientWrapper creates a wrapper around an SDK client.
func NewBedrockClientWrapper(client *bedrockruntime.Client) *BedrockClientWrapper {
	return &BedrockClientWrapper{client: client}
}

// Converse implements the BedrockClient interface
func (w *BedrockClientWrapper) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return w.client.Converse(ctx, params, optFns...)
}

// ConverseStream implements the BedrockClient interface
func (w *BedrockClientWrapper) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return w.client.ConverseStream(ctx, params, optFns...)
}
