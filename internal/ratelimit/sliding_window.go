package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// defaultLockStripes is the number of per-identifier lock stripes.
const defaultLockStripes = 256

// Clock returns the current time. It is swapped out in tests.
type Clock func() time.Time

// SweepFunc is called after every sweep with the number of removed
// identifiers and the number still tracked.
type SweepFunc func(removed, tracked int)

// Option configures a SlidingWindowLimiter.
type Option func(*SlidingWindowLimiter)

// WithClock sets the time source used for every check.
func WithClock(clock Clock) Option {
	return func(l *SlidingWindowLimiter) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithSweepInterval sets how often idle identifiers are reclaimed.
// Zero means once per window; a negative value disables sweeping.
func WithSweepInterval(d time.Duration) Option {
	return func(l *SlidingWindowLimiter) { l.sweepInterval = d }
}

// WithSweepFunc registers a callback invoked after every sweep.
func WithSweepFunc(fn SweepFunc) Option {
	return func(l *SlidingWindowLimiter) { l.onSweep = fn }
}

// WithLockStripes sets the number of lock stripes guarding identifiers.
func WithLockStripes(n int) Option {
	return func(l *SlidingWindowLimiter) {
		if n > 0 {
			l.stripes = make([]sync.Mutex, n)
		}
	}
}

// SlidingWindowLimiter implements the sliding window log algorithm over a
// HistoryStore. Checks for the same identifier are serialized; checks for
// different identifiers only contend when they hash to the same stripe.
type SlidingWindowLimiter struct {
	config  Config
	store   HistoryStore
	now     Clock
	stripes []sync.Mutex

	sweepInterval time.Duration
	onSweep       SweepFunc

	// For cleanup
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Limiter = (*SlidingWindowLimiter)(nil)

// NewSlidingWindowLimiter creates a limiter over store. The configuration is
// validated before anything else so a bad limit never reaches traffic.
func NewSlidingWindowLimiter(cfg Config, store HistoryStore, opts ...Option) (*SlidingWindowLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: history store is required", ErrInvalidConfig)
	}

	l := &SlidingWindowLimiter{
		config:  cfg,
		store:   store,
		now:     time.Now,
		stripes: make([]sync.Mutex, defaultLockStripes),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sweepInterval == 0 {
		l.sweepInterval = cfg.Window
	}

	if sw, ok := store.(Sweeper); ok && l.sweepInterval > 0 {
		l.wg.Add(1)
		go l.sweepLoop(sw)
	}

	return l, nil
}

// NewMemoryLimiter creates a limiter backed by a fresh MemoryStore.
func NewMemoryLimiter(cfg Config, opts ...Option) (*SlidingWindowLimiter, error) {
	return NewSlidingWindowLimiter(cfg, NewMemoryStore(), opts...)
}

// Config returns the limiter configuration.
func (l *SlidingWindowLimiter) Config() Config {
	return l.config
}

// Allow checks if a request from the given identifier is admitted.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, identifier string) (*Decision, error) {
	return l.Check(ctx, identifier)
}

// Check prunes the identifier's expired timestamps, then either rejects the
// request or records it. The pruned log is written back in both cases.
func (l *SlidingWindowLimiter) Check(ctx context.Context, identifier string) (*Decision, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	mu := l.lockFor(identifier)
	mu.Lock()
	defer mu.Unlock()

	if u, ok := l.store.(Updater); ok {
		var decision *Decision
		err := u.Update(ctx, identifier, func(log []time.Time) []time.Time {
			var next []time.Time
			decision, next = l.decide(l.now(), log)
			return next
		})
		if err != nil {
			return nil, fmt.Errorf("rate limit update: %w", err)
		}
		return decision, nil
	}

	log, err := l.store.Get(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("rate limit read: %w", err)
	}

	decision, next := l.decide(l.now(), log)

	if err := l.store.Replace(ctx, identifier, next); err != nil {
		return nil, fmt.Errorf("rate limit write: %w", err)
	}
	return decision, nil
}

// decide applies the sliding window to log at now and returns the decision
// together with the log to store back.
func (l *SlidingWindowLimiter) decide(now time.Time, log []time.Time) (*Decision, []time.Time) {
	window := l.config.Window
	kept := prune(log, now.Add(-window))
	count := len(kept)

	decision := &Decision{
		Limit:      l.config.Requests,
		ResetAfter: window,
	}
	if count > 0 {
		decision.ResetAfter = nonNegative(kept[0].Add(window).Sub(now))
	}
	decision.ResetAt = now.Add(decision.ResetAfter)

	if count >= l.config.Requests {
		// Requests >= 1, so kept is non-empty here.
		decision.RetryAfter = nonNegative(window - now.Sub(kept[0]))
		return decision, kept
	}

	decision.Allowed = true
	decision.Remaining = l.config.Requests - count - 1
	return decision, append(kept, now)
}

// Reset clears the rate limit state for an identifier.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, identifier string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	mu := l.lockFor(identifier)
	mu.Lock()
	defer mu.Unlock()

	return l.store.Delete(ctx, identifier)
}

// Close stops the sweeper. It is safe to call more than once.
func (l *SlidingWindowLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
	return nil
}

// Sweep reclaims identifiers whose logs have fully expired. It is a no-op
// for stores that expire keys on their own.
func (l *SlidingWindowLimiter) Sweep() int {
	sw, ok := l.store.(Sweeper)
	if !ok {
		return 0
	}
	return l.sweep(sw)
}

func (l *SlidingWindowLimiter) sweep(sw Sweeper) int {
	removed := sw.Sweep(l.now().Add(-l.config.Window))
	if l.onSweep != nil {
		l.onSweep(removed, sw.Len())
	}
	return removed
}

// sweepLoop periodically removes idle identifiers.
func (l *SlidingWindowLimiter) sweepLoop(sw Sweeper) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(sw)
		}
	}
}

func (l *SlidingWindowLimiter) lockFor(identifier string) *sync.Mutex {
	return &l.stripes[xxhash.Sum64String(identifier)%uint64(len(l.stripes))]
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
