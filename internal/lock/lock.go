// Package lock implements an advisory, time-boxed mutual-exclusion primitive
// backed by a sentinel file. The sentinel carries the holder identity and an
// expiry; a sentinel whose expiry has passed is reclaimed by the next caller.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/scriptorium/internal/apperr"
)

// Defaults used when no option overrides them.
const (
	DefaultTimeout = 30 * time.Second
	DefaultBackoff = 100 * time.Millisecond
)

// Sentinel is the content of the lock file.
type Sentinel struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the sentinel's expiry is before now.
func (s *Sentinel) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Lock is a file-based advisory lock. Processes coordinate through the file;
// goroutines sharing one Lock must serialize their Acquire/Release spans.
type Lock struct {
	path     string
	holderID string
	timeout  time.Duration
	backoff  time.Duration
	fsys     FS
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
	held     atomic.Bool
}

// Option configures a Lock.
type Option func(*Lock)

// WithTimeout sets how long an acquired lock stays valid before it may be reclaimed.
func WithTimeout(d time.Duration) Option {
	return func(l *Lock) { l.timeout = d }
}

// WithBackoff sets the wait between acquisition attempts.
func WithBackoff(d time.Duration) Option {
	return func(l *Lock) { l.backoff = d }
}

// WithHolderID overrides the generated holder identity.
func WithHolderID(id string) Option {
	return func(l *Lock) { l.holderID = id }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lock) { l.now = now }
}

// WithSleep injects the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Lock) { l.sleep = sleep }
}

// WithFS injects the filesystem.
func WithFS(fsys FS) Option {
	return func(l *Lock) { l.fsys = fsys }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lock) { l.logger = logger }
}

// New creates a Lock guarding the sentinel file at path.
func New(path string, opts ...Option) *Lock {
	l := &Lock{
		path:    path,
		timeout: DefaultTimeout,
		backoff: DefaultBackoff,
		fsys:    OSFS{},
		now:     time.Now,
		sleep:   sleepContext,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.holderID == "" {
		l.holderID = defaultHolderID()
	}
	return l
}

// Path returns the sentinel file path.
func (l *Lock) Path() string { return l.path }

// HolderID returns the identity written into the sentinel.
func (l *Lock) HolderID() string { return l.holderID }

// Acquire tries to create the sentinel, retrying up to maxRetries times with
// a fixed backoff. An expired sentinel is removed and acquisition is retried
// immediately without consuming a retry. Exhaustion returns an error wrapping
// apperr.ErrLockUnavailable.
func (l *Lock) Acquire(ctx context.Context, maxRetries int) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var last *Sentinel
	reclaims := 0
	for attempt := 0; attempt <= maxRetries; {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := l.now()
		s := Sentinel{
			HolderID:   l.holderID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(l.timeout),
		}
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("lock: encode sentinel: %w", err)
		}

		err = l.fsys.CreateExclusive(l.path, data)
		if err == nil {
			l.held.Store(true)
			l.logger.Debug("lock: acquired", slog.String("path", l.path), slog.String("holder", l.holderID))
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("lock: create sentinel: %w", err)
		}

		current, stale := l.inspect(now)
		last = current
		if stale && reclaims <= maxRetries && l.reclaim(now) {
			reclaims++
			l.logger.Info("lock: reclaimed stale sentinel",
				slog.String("path", l.path),
				slog.String("previous_holder", holderOf(current)))
			continue
		}

		attempt++
		if attempt > maxRetries {
			break
		}
		if err := l.sleep(ctx, l.backoff); err != nil {
			return err
		}
	}

	if last != nil {
		return fmt.Errorf("lock: %s held by %s until %s: %w",
			l.path, last.HolderID, last.ExpiresAt.Format(time.RFC3339), apperr.ErrLockUnavailable)
	}
	return fmt.Errorf("lock: %s: %w", l.path, apperr.ErrLockUnavailable)
}

// Release removes the sentinel file. Removing an absent sentinel is a no-op.
func (l *Lock) Release() error {
	l.held.Store(false)
	if err := l.fsys.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("lock: release: %w", err)
	}
	l.logger.Debug("lock: released", slog.String("path", l.path), slog.String("holder", l.holderID))
	return nil
}

// Held reports whether this Lock acquired the sentinel and has not released it.
func (l *Lock) Held() bool { return l.held.Load() }

// Current returns the sentinel currently on disk, or apperr.ErrNotFound.
func (l *Lock) Current() (*Sentinel, error) {
	data, err := l.fsys.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock: read sentinel: %w", err)
	}
	var s Sentinel
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("lock: decode sentinel: %w", err)
	}
	return &s, nil
}

// inspect reads the existing sentinel and decides whether it is stale.
// An unreadable sentinel falls back to its modification time plus the timeout.
func (l *Lock) inspect(now time.Time) (*Sentinel, bool) {
	s, err := l.Current()
	if err == nil {
		return s, s.Expired(now)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		// Released between our create and read; retry right away.
		return nil, true
	}
	info, statErr := l.fsys.Stat(l.path)
	if statErr != nil {
		return nil, errors.Is(statErr, fs.ErrNotExist)
	}
	return nil, now.After(info.ModTime().Add(l.timeout))
}

// reclaim removes a stale sentinel while holding a guard file, so two callers
// that both observed the same stale sentinel cannot remove each other's fresh one.
// It returns false when another caller is already reclaiming or the sentinel
// turned out to be live.
func (l *Lock) reclaim(now time.Time) bool {
	guard := l.path + ".reclaim"
	if err := l.fsys.CreateExclusive(guard, []byte(l.holderID)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			if info, statErr := l.fsys.Stat(guard); statErr == nil && now.After(info.ModTime().Add(l.timeout)) {
				_ = l.fsys.Remove(guard)
			}
		} else {
			l.logger.Warn("lock: reclaim guard failed", slog.String("path", guard), slog.String("error", err.Error()))
		}
		return false
	}
	defer func() { _ = l.fsys.Remove(guard) }()

	if _, stale := l.inspect(now); !stale {
		return false
	}
	if err := l.fsys.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("lock: reclaim failed", slog.String("path", l.path), slog.String("error", err.Error()))
		return false
	}
	return true
}

func holderOf(s *Sentinel) string {
	if s == nil {
		return "unknown"
	}
	return s.HolderID
}

func defaultHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
