package chatrelay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAdmissionStore_WindowExcessAndRecovery(t *testing.T) {
	store := NewInMemoryAdmissionStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	ctx := context.Background()

	for i := 0; i < DefaultRateLimit; i++ {
		allowed, err := store.Admit(ctx, "alice", DefaultRateLimit, DefaultRateWindow)
		require.NoError(t, err)
		assert.True(t, allowed, "admission %d should pass", i)
	}

	allowed, err := store.Admit(ctx, "alice", DefaultRateLimit, DefaultRateWindow)
	require.NoError(t, err)
	assert.False(t, allowed, "admission past the limit should be rejected")

	// Once the earliest admissions age out of the window, capacity returns.
	now = now.Add(DefaultRateWindow + time.Second)
	allowed, err = store.Admit(ctx, "alice", DefaultRateLimit, DefaultRateWindow)
	require.NoError(t, err)
	assert.True(t, allowed, "admission after the window should pass")
}

func TestInMemoryAdmissionStore_IdentitiesAreIndependent(t *testing.T) {
	store := NewInMemoryAdmissionStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := store.Admit(ctx, "alice", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := store.Admit(ctx, "alice", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = store.Admit(ctx, "bob", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "a saturated identity must not affect others")
}

func TestInMemoryAdmissionStore_ConcurrentAdmissions(t *testing.T) {
	store := NewInMemoryAdmissionStore()
	ctx := context.Background()

	const workers = 50
	const limit = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := store.Admit(ctx, "shared", limit, time.Minute)
			assert.NoError(t, err)
			if allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted, "exactly the limit may be admitted under contention")
}

func TestInMemoryAdmissionStore_SweepDropsIdleIdentities(t *testing.T) {
	store := NewInMemoryAdmissionStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	ctx := context.Background()

	_, err := store.Admit(ctx, "idle", 10, time.Minute)
	require.NoError(t, err)
	_, err = store.Admit(ctx, "active", 10, time.Minute)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	_, err = store.Admit(ctx, "active", 10, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Sweep(ctx, 5*time.Minute))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.windows, "idle")
	assert.Contains(t, store.windows, "active")
}

type failingAdmissionStore struct{}

func (failingAdmissionStore) Admit(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("store unreachable")
}

func (failingAdmissionStore) Sweep(context.Context, time.Duration) error {
	return errors.New("store unreachable")
}

func TestRateLimiter_FailsOpenOnStoreError(t *testing.T) {
	limiter := NewRateLimiter(failingAdmissionStore{}, nil)
	assert.True(t, limiter.Allow(context.Background(), "anyone"),
		"a degraded store must admit rather than take the chat offline")
}

func TestRateLimiter_Options(t *testing.T) {
	limiter := NewRateLimiter(nil, nil, WithLimit(2), WithWindow(30*time.Second))

	ctx := context.Background()
	assert.True(t, limiter.Allow(ctx, "carol"))
	assert.True(t, limiter.Allow(ctx, "carol"))
	assert.False(t, limiter.Allow(ctx, "carol"))

	assert.Equal(t, 30*time.Second, limiter.RetryAfter())
}

func TestRateLimiter_StartSweeperStopsOnCancel(t *testing.T) {
	limiter := NewRateLimiter(NewInMemoryAdmissionStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.StartSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
