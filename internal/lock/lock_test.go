package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/scriptorium/internal/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func noSleep(calls *int) func(context.Context, time.Duration) error {
	return func(ctx context.Context, _ time.Duration) error {
		*calls++
		return ctx.Err()
	}
}

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "registry.lock")
}

func TestAcquireRelease(t *testing.T) {
	path := lockPath(t)
	l := New(path, WithHolderID("producer-a"))

	require.NoError(t, l.Acquire(context.Background(), 0))
	assert.True(t, l.Held())

	s, err := l.Current()
	require.NoError(t, err)
	assert.Equal(t, "producer-a", s.HolderID)
	assert.Equal(t, DefaultTimeout, s.ExpiresAt.Sub(s.AcquiredAt))

	require.NoError(t, l.Release())
	assert.False(t, l.Held())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "sentinel should be gone after release")
}

func TestReleaseTwiceIsNoop(t *testing.T) {
	l := New(lockPath(t))
	require.NoError(t, l.Acquire(context.Background(), 0))
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}

func TestAcquire_HeldLockExhaustsRetries(t *testing.T) {
	path := lockPath(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	holder := New(path, WithHolderID("a"), WithClock(clock.Now))
	require.NoError(t, holder.Acquire(context.Background(), 0))

	sleeps := 0
	contender := New(path, WithHolderID("b"), WithClock(clock.Now), WithSleep(noSleep(&sleeps)))
	err := contender.Acquire(context.Background(), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrLockUnavailable)
	assert.Contains(t, err.Error(), "held by a")
	assert.Equal(t, 3, sleeps)
	assert.False(t, contender.Held())
}

func TestAcquire_ReclaimsExpiredSentinel(t *testing.T) {
	path := lockPath(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	crashed := New(path, WithHolderID("crashed"), WithClock(clock.Now), WithTimeout(time.Minute))
	require.NoError(t, crashed.Acquire(context.Background(), 0))

	clock.Advance(2 * time.Minute)

	sleeps := 0
	next := New(path, WithHolderID("next"), WithClock(clock.Now), WithSleep(noSleep(&sleeps)))
	require.NoError(t, next.Acquire(context.Background(), 0))
	assert.Zero(t, sleeps, "reclaim must not wait")

	s, err := next.Current()
	require.NoError(t, err)
	assert.Equal(t, "next", s.HolderID)
}

func TestAcquire_ReclaimsSentinelWrittenByHand(t *testing.T) {
	path := lockPath(t)
	stale := Sentinel{
		HolderID:   "old-process",
		AcquiredAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Hour),
	}
	data, _ := json.Marshal(stale)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l := New(path)
	require.NoError(t, l.Acquire(context.Background(), 0))
	s, err := l.Current()
	require.NoError(t, err)
	assert.Equal(t, l.HolderID(), s.HolderID)
}

func TestAcquire_CorruptSentinel(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	sleeps := 0
	l := New(path, WithSleep(noSleep(&sleeps)), WithTimeout(time.Minute))
	err := l.Acquire(context.Background(), 1)
	require.ErrorIs(t, err, apperr.ErrLockUnavailable, "fresh corrupt sentinel counts as held")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	require.NoError(t, l.Acquire(context.Background(), 0), "old corrupt sentinel is reclaimed")
}

func TestAcquire_ContextCancelled(t *testing.T) {
	path := lockPath(t)
	holder := New(path)
	require.NoError(t, holder.Acquire(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(path).Acquire(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMutualExclusionAcrossLocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.lock")
	counter := filepath.Join(dir, "counter")
	require.NoError(t, os.WriteFile(counter, []byte("0"), 0o644))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := New(path, WithHolderID("w"+strconv.Itoa(i)), WithBackoff(time.Millisecond))
			if err := l.Acquire(context.Background(), 5000); err != nil {
				errs <- err
				return
			}
			defer l.Release()
			data, err := os.ReadFile(counter)
			if err != nil {
				errs <- err
				return
			}
			n, _ := strconv.Atoi(string(data))
			time.Sleep(time.Millisecond)
			errs <- os.WriteFile(counter, []byte(strconv.Itoa(n+1)), 0o644)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers), string(data))
}

func TestAcquire_LeftoverReclaimGuard(t *testing.T) {
	path := lockPath(t)
	stale := Sentinel{
		HolderID:   "old-process",
		AcquiredAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Hour),
	}
	data, _ := json.Marshal(stale)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	require.NoError(t, os.WriteFile(path+".reclaim", []byte("crashed"), 0o644))

	sleeps := 0
	l := New(path, WithSleep(noSleep(&sleeps)), WithTimeout(time.Minute))
	require.ErrorIs(t, l.Acquire(context.Background(), 0), apperr.ErrLockUnavailable,
		"a fresh guard means someone else is reclaiming")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path+".reclaim", old, old))
	require.NoError(t, l.Acquire(context.Background(), 1))
	assert.Equal(t, 1, sleeps)
	_, err := os.Stat(path + ".reclaim")
	assert.True(t, os.IsNotExist(err))
}
