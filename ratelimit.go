package chatrelay

import (
	"context"
	"sync"
	"time"

	"github.com/shaharia-lab/chatrelay/observability"
)

// Rate limiting defaults: 10 admissions per trailing 60 second window, with a
// sweep every 5 minutes that drops identities whose window has gone quiet.
const (
	DefaultRateLimit     = 10
	DefaultRateWindow    = 60 * time.Second
	DefaultSweepInterval = 5 * time.Minute
)

// AdmissionStore records admissions per caller identity. The in-process map
// implementation serves a single instance; a shared SQL-backed store serves
// several instances behind a balancer. Admit must be atomic per identity with
// respect to concurrent calls.
type AdmissionStore interface {
	// Admit prunes timestamps older than now-window for identity, then
	// admits iff fewer than limit remain, recording now on admission.
	Admit(ctx context.Context, identity string, limit int, window time.Duration) (bool, error)

	// Sweep removes identities whose most recent admission is older than
	// grace, bounding memory growth under churn of distinct identities.
	Sweep(ctx context.Context, grace time.Duration) error
}

// InMemoryAdmissionStore is a map-backed AdmissionStore.
type InMemoryAdmissionStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewInMemoryAdmissionStore creates a new InMemoryAdmissionStore.
func NewInMemoryAdmissionStore() *InMemoryAdmissionStore {
	return &InMemoryAdmissionStore{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Admit implements AdmissionStore.
func (s *InMemoryAdmissionStore) Admit(_ context.Context, identity string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	windowStart := now.Add(-window)

	valid := s.windows[identity][:0]
	for _, ts := range s.windows[identity] {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= limit {
		s.windows[identity] = valid
		return false, nil
	}

	s.windows[identity] = append(valid, now)
	return true, nil
}

// Sweep implements AdmissionStore.
func (s *InMemoryAdmissionStore) Sweep(_ context.Context, grace time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-grace)
	for identity, timestamps := range s.windows {
		valid := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				valid = append(valid, ts)
			}
		}
		if len(valid) == 0 {
			delete(s.windows, identity)
			continue
		}
		s.windows[identity] = valid
	}
	return nil
}

// RateLimiter applies sliding-window admission control keyed by caller
// identity.
type RateLimiter struct {
	store  AdmissionStore
	limit  int
	window time.Duration
	logger observability.Logger
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithLimit overrides the default admissions-per-window limit.
func WithLimit(limit int) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.limit = limit
	}
}

// WithWindow overrides the default trailing window length.
func WithWindow(window time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.window = window
	}
}

// NewRateLimiter creates a RateLimiter over the given store. A nil store
// falls back to a fresh in-memory one; a nil logger falls back to the null
// logger.
func NewRateLimiter(store AdmissionStore, logger observability.Logger, opts ...RateLimiterOption) *RateLimiter {
	if store == nil {
		store = NewInMemoryAdmissionStore()
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}

	rl := &RateLimiter{
		store:  store,
		limit:  DefaultRateLimit,
		window: DefaultRateWindow,
		logger: logger,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether identity may make another request right now. It never
// fails: a store error admits the request (fail open) and is logged, so a
// degraded shared store cannot take the chat offline.
func (rl *RateLimiter) Allow(ctx context.Context, identity string) bool {
	allowed, err := rl.store.Admit(ctx, identity, rl.limit, rl.window)
	if err != nil {
		rl.logger.WithErr(err).WithFields(map[string]interface{}{
			"identity": identity,
		}).Warn("admission store failed, admitting request")
		return true
	}
	return allowed
}

// RetryAfter returns the back-off hint handed to rejected callers.
func (rl *RateLimiter) RetryAfter() time.Duration {
	return rl.window
}

// StartSweeper runs the store sweep on the given interval until ctx is
// canceled. It runs independently of admission checks and never blocks them.
func (rl *RateLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rl.store.Sweep(ctx, interval); err != nil {
				rl.logger.WithErr(err).Warn("admission store sweep failed")
			}
		}
	}
}
