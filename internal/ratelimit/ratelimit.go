package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// window is the fixed budget window. The limiter uses a fixed window, not a
// sliding log: a boundary-straddling burst of up to ~2x the budget can pass.
const window = time.Minute

// ErrRateLimited is the signal a fetch function returns when the remote API
// answered HTTP 429. Execute retries on it with backoff.
var ErrRateLimited = errors.New("rate limited")

// RateLimitExceededError is returned by Execute once all retries are spent.
type RateLimitExceededError struct {
	Attempts int
	Err      error
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitExceededError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err looks like a rate-limit rejection,
// either the sentinel or a foreign error carrying an HTTP 429 signature.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

type Config struct {
	RequestsPerWindow int
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// Limiter enforces a requests-per-minute budget with minimum inter-call
// spacing and wraps calls with retry-with-backoff on rate-limit signals.
//
// A Limiter is not safe for concurrent use; the importer drives it from a
// single sequential loop. Sharing one instance across several logical queries
// of the same platform is how a process-wide budget is achieved.
type Limiter struct {
	cfg    Config
	logger *slog.Logger

	windowStart   time.Time
	callsInWindow int
	lastCall      time.Time
}

func New(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Limiter{cfg: cfg, logger: logger}
}

// WaitForSlot blocks until a call may start: fewer than RequestsPerWindow
// calls started in the current window, and at least window/RequestsPerWindow
// has elapsed since the previous call start.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	now := time.Now()

	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= window {
		l.windowStart = now
		l.callsInWindow = 0
	}

	if l.callsInWindow >= l.cfg.RequestsPerWindow {
		wait := window - now.Sub(l.windowStart)
		l.logger.Debug("rate limit window exhausted, waiting",
			"wait", wait,
			"budget", l.cfg.RequestsPerWindow,
		)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		l.windowStart = time.Now()
		l.callsInWindow = 0
	}

	spacing := window / time.Duration(l.cfg.RequestsPerWindow)
	if !l.lastCall.IsZero() {
		if elapsed := time.Since(l.lastCall); elapsed < spacing {
			if err := sleep(ctx, spacing-elapsed); err != nil {
				return err
			}
		}
	}

	l.callsInWindow++
	l.lastCall = time.Now()
	return nil
}

// Execute runs fn behind WaitForSlot and retries it with exponential backoff
// on rate-limit signals. Any other error propagates immediately.
func (l *Limiter) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.backoffDelay(attempt - 1)
			l.logger.Warn("rate limited, backing off",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		if err := l.WaitForSlot(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRateLimited(err) {
			return err
		}
		lastErr = err
	}

	return &RateLimitExceededError{Attempts: l.cfg.MaxRetries, Err: lastErr}
}

// backoffDelay returns the delay before retry n (zero-based): doubling from
// BaseDelay, capped at MaxDelay, plus up to 25% jitter on top.
func (l *Limiter) backoffDelay(retry int) time.Duration {
	delay := l.cfg.BaseDelay
	for i := 0; i < retry; i++ {
		delay *= 2
	}
	if delay > l.cfg.MaxDelay {
		delay = l.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
