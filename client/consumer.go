// Package client implements the consumer half of the relay protocol: an
// incremental reader that decodes frames as they arrive and mutates a live
// in-progress assistant message, finalizing it when the stream ends.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaharia-lab/chatrelay"
	"github.com/shaharia-lab/chatrelay/observability"
)

// TurnState is the consumer's position in the current conversation turn.
type TurnState int

const (
	// StateIdle means no turn is in flight.
	StateIdle TurnState = iota
	// StateSending means the request has been submitted but no byte of the
	// response has arrived yet.
	StateSending
	// StateStreaming means the in-progress assistant message exists and is
	// growing.
	StateStreaming
	// StateFinalized means the turn completed and its assistant message is
	// immutable.
	StateFinalized
	// StateErrored is absorbing: the turn failed. Partial content already
	// rendered is preserved and the user's input is restored.
	StateErrored
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrTurnInFlight is returned when a submission arrives while another turn
// is still streaming.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// ErrEmptyInput is returned for blank submissions.
var ErrEmptyInput = errors.New("input is empty")

// Consumer drives one conversation against the relay. Exactly one turn may
// be in flight at a time; submitting while streaming is rejected at this
// boundary. All exported methods are safe for concurrent use.
type Consumer struct {
	endpoint      string
	httpClient    *http.Client
	logger        observability.Logger
	teacherPrompt string

	mu            sync.Mutex
	state         TurnState
	conversation  []chatrelay.ChatMessage
	restoredInput string
	lastErr       error
	turnCancel    context.CancelFunc
	turnAborted   bool
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) ConsumerOption {
	return func(consumer *Consumer) {
		consumer.httpClient = c
	}
}

// WithLogger overrides the default null logger.
func WithLogger(logger observability.Logger) ConsumerOption {
	return func(consumer *Consumer) {
		consumer.logger = logger
	}
}

// NewConsumer creates a Consumer posting to the given relay endpoint.
func NewConsumer(endpoint string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     observability.NewNullLogger(),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin resets the conversation for a new problem: the problem's prompt
// becomes the teacher prompt sent with every turn, and its question becomes
// the opening assistant message. Any in-flight turn is aborted first.
func (c *Consumer) Begin(problem chatrelay.ProblemContext) {
	c.Abort()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.teacherPrompt = problem.SystemPrompt
	c.conversation = nil
	c.restoredInput = ""
	c.lastErr = nil
	c.state = StateIdle

	if problem.InitialQuestion != "" {
		c.conversation = append(c.conversation, chatrelay.ChatMessage{
			ID:        uuid.NewString(),
			Role:      chatrelay.AssistantRole,
			Content:   problem.InitialQuestion,
			CreatedAt: time.Now(),
		})
	}
}

// State returns the current turn state.
func (c *Consumer) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Conversation returns a snapshot of the messages rendered so far.
func (c *Consumer) Conversation() []chatrelay.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]chatrelay.ChatMessage, len(c.conversation))
	copy(snapshot, c.conversation)
	return snapshot
}

// RestoredInput returns the user input to put back in the input field after
// a failed turn, so it can be resubmitted without retyping.
func (c *Consumer) RestoredInput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restoredInput
}

// Err returns the error that moved the consumer to StateErrored, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Abort cancels the in-flight turn, releasing the underlying stream reader.
// Frames arriving on the abandoned stream are never applied. Abort is
// idempotent and safe after natural completion.
func (c *Consumer) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.turnCancel == nil {
		return
	}
	c.turnAborted = true
	c.turnCancel()
	c.turnCancel = nil
	if c.state == StateSending || c.state == StateStreaming {
		c.state = StateIdle
	}
}

// Submit sends input as the next user turn and consumes the response,
// growing the in-progress assistant message as frames arrive. It blocks
// until the turn finalizes, errors or is aborted.
func (c *Consumer) Submit(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.state == StateSending || c.state == StateStreaming {
		c.mu.Unlock()
		return ErrTurnInFlight
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.turnCancel = cancel
	c.turnAborted = false
	c.state = StateSending
	c.restoredInput = ""
	c.lastErr = nil
	c.conversation = append(c.conversation, chatrelay.ChatMessage{
		ID:        uuid.NewString(),
		Role:      chatrelay.UserRole,
		Content:   input,
		CreatedAt: time.Now(),
	})
	payload := chatrelay.ChatRequest{
		Messages:      append([]chatrelay.ChatMessage(nil), c.conversation...),
		TeacherPrompt: c.teacherPrompt,
	}
	c.mu.Unlock()

	err := c.performTurn(turnCtx, payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	cancel()
	if c.turnCancel != nil {
		c.turnCancel = nil
	}

	if c.turnAborted {
		// The abandoned message keeps whatever content it had.
		return nil
	}
	if err != nil {
		c.state = StateErrored
		c.lastErr = err
		c.restoredInput = input
		return err
	}
	c.state = StateFinalized
	return nil
}

func (c *Consumer) performTurn(ctx context.Context, payload chatrelay.ChatRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeErrorResponse(resp)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/x-ndjson"),
		strings.HasPrefix(contentType, "text/event-stream"):
		return c.consumeStream(resp.Body)
	case strings.HasPrefix(contentType, "application/json"):
		return c.consumeJSON(resp.Body)
	default:
		// Legacy fallback: the whole message as a plain-text body.
		return c.consumePlainText(resp.Body)
	}
}

func (c *Consumer) decodeErrorResponse(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("relay returned %d", resp.StatusCode)
}

// consumeStream reads newline-delimited frames, applying each complete frame
// as it is split out of the read buffer. Malformed frames are skipped; they
// never terminate an otherwise healthy stream.
func (c *Consumer) consumeStream(r io.Reader) error {
	var buf []byte
	chunk := make([]byte, 4096)

	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			var frames [][]byte
			frames, buf = chatrelay.SplitFrames(buf, chunk[:n])
			for _, raw := range frames {
				frame, err := chatrelay.DecodeFrame(raw)
				if err != nil {
					c.logger.WithErr(err).Debug("skipping malformed frame")
					continue
				}
				done, err := c.applyFrame(frame)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Early termination without a done frame still finalizes.
				c.finishStreaming()
				return nil
			}
			return fmt.Errorf("stream read failed: %w", readErr)
		}
	}
}

// applyFrame mutates the in-progress message for one frame. It reports
// whether the turn is complete. Frames arriving after an abort are dropped.
func (c *Consumer) applyFrame(frame chatrelay.StreamFrame) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.turnAborted {
		return true, nil
	}

	switch frame.Type {
	case chatrelay.FrameDelta:
		if c.state == StateSending {
			c.state = StateStreaming
			c.conversation = append(c.conversation, chatrelay.ChatMessage{
				ID:        uuid.NewString(),
				Role:      chatrelay.AssistantRole,
				CreatedAt: time.Now(),
			})
		}
		last := len(c.conversation) - 1
		c.conversation[last].Content += frame.Text
		return false, nil
	case chatrelay.FrameDone:
		if c.state == StateSending {
			// Empty turn: a placeholder keeps the transcript consistent.
			c.state = StateStreaming
			c.conversation = append(c.conversation, chatrelay.ChatMessage{
				ID:        uuid.NewString(),
				Role:      chatrelay.AssistantRole,
				CreatedAt: time.Now(),
			})
		}
		return true, nil
	case chatrelay.FrameError:
		return true, fmt.Errorf("relay stream error: %s", frame.Message)
	default:
		return false, nil
	}
}

func (c *Consumer) finishStreaming() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSending && !c.turnAborted {
		c.state = StateStreaming
		c.conversation = append(c.conversation, chatrelay.ChatMessage{
			ID:        uuid.NewString(),
			Role:      chatrelay.AssistantRole,
			CreatedAt: time.Now(),
		})
	}
}

// consumeJSON handles the fallback shape: one complete message as
// {"content": "..."} applied as an instantaneous delta + done.
func (c *Consumer) consumeJSON(r io.Reader) error {
	var payload struct {
		Content string `json:"content"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode fallback response: %w", err)
	}
	if payload.Error != "" {
		return fmt.Errorf("relay error: %s", payload.Error)
	}

	if _, err := c.applyFrame(chatrelay.DeltaFrame(payload.Content)); err != nil {
		return err
	}
	_, err := c.applyFrame(chatrelay.DoneFrame())
	return err
}

// consumePlainText handles the legacy shape: the whole message as a
// plain-text body.
func (c *Consumer) consumePlainText(r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read plain-text response: %w", err)
	}

	if _, err := c.applyFrame(chatrelay.DeltaFrame(string(body))); err != nil {
		return err
	}
	_, err = c.applyFrame(chatrelay.DoneFrame())
	return err
}
