package chatrelay

import "time"

// Default generation parameters. Conservative on purpose: the relay fronts an
// untrusted audience and a metered backend.
const (
	DefaultMaxToken      int64         = 1000
	DefaultTemperature   float64       = 0.7
	DefaultTopP          float64       = 0.5
	DefaultStreamTimeout time.Duration = 60 * time.Second
)

// RequestConfig holds the generation parameters sent with every backend call.
type RequestConfig struct {
	maxToken       int64
	temperature    float64
	topP           float64
	streamTimeout  time.Duration
	allowEmptyTurn bool
}

// RequestOption configures a RequestConfig.
type RequestOption func(*RequestConfig)

// WithMaxToken sets the output token bound.
func WithMaxToken(maxToken int64) RequestOption {
	return func(c *RequestConfig) {
		c.maxToken = maxToken
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) RequestOption {
	return func(c *RequestConfig) {
		c.temperature = temperature
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float64) RequestOption {
	return func(c *RequestConfig) {
		c.topP = topP
	}
}

// WithStreamTimeout bounds the total time a stream may go without forward
// progress. A stalled-but-open stream is aborted once the bound elapses.
func WithStreamTimeout(timeout time.Duration) RequestOption {
	return func(c *RequestConfig) {
		c.streamTimeout = timeout
	}
}

// WithEmptyTurnAllowed controls whether a successful backend call with
// zero-length content is a legitimate empty turn (true) or an EmptyResult
// error (false, the default).
func WithEmptyTurnAllowed(allowed bool) RequestOption {
	return func(c *RequestConfig) {
		c.allowEmptyTurn = allowed
	}
}

// NewRequestConfig creates a RequestConfig with defaults applied, then the
// given options in order.
//
// Example usage:
//
//	config := chatrelay.NewRequestConfig(
//	    chatrelay.WithMaxToken(1500),
//	    chatrelay.WithTemperature(0.7),
//	)
func NewRequestConfig(opts ...RequestOption) RequestConfig {
	config := RequestConfig{
		maxToken:      DefaultMaxToken,
		temperature:   DefaultTemperature,
		topP:          DefaultTopP,
		streamTimeout: DefaultStreamTimeout,
	}

	for _, opt := range opts {
		opt(&config)
	}

	return config
}

// MaxToken returns the configured output token bound.
func (c RequestConfig) MaxToken() int64 { return c.maxToken }

// Temperature returns the configured sampling temperature.
func (c RequestConfig) Temperature() float64 { return c.temperature }

// TopP returns the configured nucleus sampling parameter.
func (c RequestConfig) TopP() float64 { return c.topP }

// StreamTimeout returns the configured no-progress bound.
func (c RequestConfig) StreamTimeout() time.Duration { return c.streamTimeout }

// EmptyTurnAllowed reports whether zero-length successful turns are valid.
func (c RequestConfig) EmptyTurnAllowed() bool { return c.allowEmptyTurn }
