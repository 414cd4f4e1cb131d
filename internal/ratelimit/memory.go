package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// window holds the accepted event times of one key, oldest first.
type window struct {
	attempts []time.Time
	span     time.Duration
	lastSeen time.Time
}

// prune drops attempts outside the window ending at now.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.attempts) && !w.attempts[i].After(cutoff) {
		i++
	}
	w.attempts = w.attempts[i:]
}

// MemoryLimiter keeps sliding windows in process memory. It is exact for a
// single instance; use RedisLimiter when several instances share budgets.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[Key]*window
	now     func() time.Time
	logger  *slog.Logger
}

// NewMemoryLimiter creates an empty limiter.
func NewMemoryLimiter(logger *slog.Logger) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[Key]*window),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "ratelimit")),
	}
}

// WithClock replaces the time source, for tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Allow records an event for key if the policy budget permits it.
func (l *MemoryLimiter) Allow(_ context.Context, key Key, policy Policy) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{span: policy.Window}
		l.windows[key] = w
	}
	w.span = policy.Window
	w.lastSeen = now
	w.prune(now)

	if len(w.attempts) >= policy.Limit {
		retry := w.attempts[0].Add(policy.Window).Sub(now)
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}

	w.attempts = append(w.attempts, now)
	return Decision{Allowed: true, Remaining: policy.Limit - len(w.attempts)}, nil
}

// Cleanup removes windows with no attempts left.
func (l *MemoryLimiter) Cleanup() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.prune(now)
		if len(w.attempts) == 0 {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run periodically cleans up until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				l.logger.DebugContext(ctx, "rate limit windows cleaned", slog.Int("removed", n))
			}
		}
	}
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
