package router

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"bridgex/internal/domain"
)

// Supervisor wraps every adapter call with per-call timeout, per-platform
// rate limiting and bounded exponential-backoff retry. Only transient
// failures are retried; a failure here is reported as a per-target outcome,
// never raised further.
type Supervisor struct {
	maxAttempts int
	baseBackoff time.Duration
	callTimeout time.Duration
	limiters    map[domain.Platform]*RateLimiter
	logger      *slog.Logger
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	CallTimeout   time.Duration
	RatePerMinute int
	Logger        *slog.Logger
}

// NewSupervisor creates a dispatch supervisor.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Supervisor{
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		callTimeout: opts.CallTimeout,
		limiters:    make(map[domain.Platform]*RateLimiter),
		logger:      opts.Logger,
	}
	for _, p := range []domain.Platform{domain.PlatformTelegram, domain.PlatformIRC, domain.PlatformDiscord} {
		s.limiters[p] = NewRateLimiter(10, float64(opts.RatePerMinute))
	}
	return s
}

// Do runs fn with retry. It returns the number of attempts made and the
// final error, nil on success.
func (s *Supervisor) Do(ctx context.Context, p domain.Platform, op string, fn func(context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			// Exponential backoff with jitter to avoid thundering herd on
			// a recovering platform.
			base := s.baseBackoff << (attempt - 2)
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			s.logger.Warn("retrying dispatch",
				"platform", p, "op", op, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if lim := s.limiters[p]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return attempt - 1, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !retryable(ctx, err) {
			return attempt, err
		}
		s.logger.Warn("dispatch failed, will retry",
			"platform", p, "op", op, "attempt", attempt, "err", err)
	}
	return s.maxAttempts, lastErr
}

// retryable treats per-call timeouts as transient; a cancelled parent
// context means shutdown and stops the loop.
func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return domain.IsRetryable(err)
}
