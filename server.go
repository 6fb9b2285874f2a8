package chatrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/shaharia-lab/chatrelay/observability"
)

// ChatRequest is the inbound payload: the client's full bounded history plus
// the optional moderator-authored instruction.
type ChatRequest struct {
	Messages      []ChatMessage `json:"messages"`
	TeacherPrompt string        `json:"teacherPrompt,omitempty"`
}

// chatRequestSchema rejects malformed payloads before they reach decoding.
const chatRequestSchema = `{
	"type": "object",
	"required": ["messages"],
	"properties": {
		"messages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"type": "string", "enum": ["user", "assistant", "system"]},
					"content": {"type": "string"}
				}
			}
		},
		"teacherPrompt": {"type": "string"}
	}
}`

const maxRequestBodyBytes = 1 << 20

// Server is the HTTP surface of the relay: admission control, request
// sanitation, upstream forwarding and stream transcoding behind one POST
// endpoint.
type Server struct {
	relay      *Relay
	limiter    *RateLimiter
	transcoder *Transcoder
	logger     observability.Logger
	schema     *gojsonschema.Schema
	sweep      time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerTranscoder overrides the default transcoder, for example to
// attach a diagnostic observer.
func WithServerTranscoder(t *Transcoder) ServerOption {
	return func(s *Server) {
		s.transcoder = t
	}
}

// WithSweepInterval overrides the admission-store sweep interval.
func WithSweepInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.sweep = interval
	}
}

// NewServer wires the relay pipeline behind an HTTP handler. A nil limiter
// falls back to an in-memory one with defaults; a nil logger to the null
// logger.
func NewServer(relay *Relay, limiter *RateLimiter, logger observability.Logger, opts ...ServerOption) (*Server, error) {
	if relay == nil {
		return nil, errors.New("relay cannot be nil")
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	if limiter == nil {
		limiter = NewRateLimiter(nil, logger)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(chatRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}

	s := &Server{
		relay:      relay,
		limiter:    limiter,
		transcoder: NewTranscoder(logger),
		logger:     logger,
		schema:     schema,
		sweep:      DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the HTTP handler for the relay endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Run serves the handler on addr until ctx is canceled, running the
// admission-store sweeper alongside.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.WithFields(map[string]interface{}{"addr": addr}).Info("chat relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.limiter.StartSweeper(ctx, s.sweep)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
	})

	identity := clientIdentity(r)
	if !s.limiter.Allow(r.Context(), identity) {
		logger.WithFields(map[string]interface{}{"identity": identity}).Info("request rate limited")
		w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.RetryAfter().Seconds())))
		s.writeError(w, NewRateLimitedError("rate limit exceeded, try again later"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		s.writeError(w, NewInvalidInputError("failed to read request body"))
		return
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil || !result.Valid() {
		s.writeError(w, NewInvalidInputError("messages are required and must be a non-empty array"))
		return
	}

	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, NewInvalidInputError("malformed request body"))
		return
	}

	messages, systemPrompt, err := SanitizeConversation(req.Messages, req.TeacherPrompt)
	if err != nil {
		s.writeError(w, err)
		return
	}

	upstream, err := s.relay.Execute(r.Context(), messages, systemPrompt)
	if err != nil {
		logger.WithErr(err).Error("relay call failed")
		s.writeError(w, err)
		return
	}

	switch upstream.Mode {
	case ModeComplete:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_ = json.NewEncoder(w).Encode(map[string]string{"content": upstream.Text})
	case ModeStreaming:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		if err := s.transcoder.Pump(r.Context(), upstream.Stream, w); err != nil {
			// The client went away mid-stream; nothing left to answer.
			logger.WithErr(err).Debug("client disconnected mid-stream")
		}
	}
}

// writeError answers with the {error} JSON shape. Configuration problems are
// logged in full elsewhere but never detailed to the caller.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	message := "request failed"
	var re *RelayError
	if errors.As(err, &re) && re.Kind != ErrKindConfiguration {
		message = re.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// clientIdentity derives the admission key from the caller's network origin.
// When no forwarding header is present every caller shares the "anonymous"
// bucket, an accepted weakness of origin-derived identity.
func clientIdentity(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return v
	}
	if v := r.Header.Get("X-Real-Ip"); v != "" {
		return v
	}
	return "anonymous"
}
