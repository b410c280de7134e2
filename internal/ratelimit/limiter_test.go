package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	l := New(Options{Limit: limit, Window: window})
	current := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }
	return l, &current
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(100, 10*time.Minute)

	for i := 0; i < 100; i++ {
		res := l.Check("1.2.3.4")
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
	}

	res := l.Check("1.2.3.4")
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)
}

func TestLimiter_GapResetsWindow(t *testing.T) {
	t.Parallel()

	l, current := newTestLimiter(3, 10*time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, l.Check("client").Allowed)
	}
	assert.False(t, l.Check("client").Allowed)

	*current = current.Add(10*time.Minute + time.Second)
	res := l.Check("client")
	assert.True(t, res.Allowed)

	// The reset record starts counting from 1 again.
	require.True(t, l.Check("client").Allowed)
	require.True(t, l.Check("client").Allowed)
	assert.False(t, l.Check("client").Allowed)
}

func TestLimiter_DenialKeepsWindowSliding(t *testing.T) {
	t.Parallel()

	l, current := newTestLimiter(1, time.Minute)

	require.True(t, l.Check("client").Allowed)
	require.False(t, l.Check("client").Allowed)

	// A denied request still refreshes the window, so a gap shorter than the
	// full window does not reset the counter.
	*current = current.Add(30 * time.Second)
	assert.False(t, l.Check("client").Allowed)

	*current = current.Add(61 * time.Second)
	assert.True(t, l.Check("client").Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(2, time.Minute)

	require.True(t, l.Check("a").Allowed)
	require.True(t, l.Check("a").Allowed)
	require.False(t, l.Check("a").Allowed)

	assert.True(t, l.Check("b").Allowed)
	assert.True(t, l.Check("b").Allowed)
}

func TestLimiter_EmptyKeyUsesPlaceholder(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(1, time.Minute)

	require.True(t, l.Check("").Allowed)
	assert.False(t, l.Check(UnknownClient).Allowed)
}

func TestLimiter_SweepEvictsExpiredRecords(t *testing.T) {
	t.Parallel()

	l, current := newTestLimiter(5, time.Minute)

	l.Check("old")
	*current = current.Add(30 * time.Second)
	l.Check("fresh")

	*current = current.Add(45 * time.Second)
	l.sweep()

	assert.Equal(t, 1, l.size())
	res := l.Check("fresh")
	assert.True(t, res.Allowed)
}

func TestLimiter_ConcurrentChecksRespectLimit(t *testing.T) {
	t.Parallel()

	const limit = 50
	l := New(Options{Limit: limit, Window: time.Minute})

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("same").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
}

func TestComposeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "send-otp:1.2.3.4", ComposeKey("send-otp", "1.2.3.4"))
	assert.Equal(t, "send-otp:unknown", ComposeKey("send-otp", ""))
}
