// Package retry runs provider calls under a bounded backoff schedule and
// recovers from authentication failures with a single token refresh.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"relay/internal/fyers"
)

// Policy describes the backoff schedule for transient failures.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
}

// DefaultPolicy spaces three attempts 1s then 2s apart.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		BackoffFactor: 2,
	}
}

// Delay returns the pause after the given failed attempt. Attempts are
// numbered from 1, so the pause after the first failure is BaseDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1)))
}

// TokenRefresher renews the provider session after an auth failure.
// *token.Manager satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Recorder observes retry and refresh activity for metrics.
type Recorder interface {
	RecordRetry(operation string)
	RecordAuthRecovery(operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRetry(string)        {}
func (nopRecorder) RecordAuthRecovery(string) {}

// SleepFunc pauses between attempts. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor applies a retry Policy to provider operations. Transient
// failures back off and repeat; auth failures trigger one token refresh
// and an immediate repeat that does not count against the attempt budget.
type Executor struct {
	policy    Policy
	refresher TokenRefresher
	recorder  Recorder
	logger    zerolog.Logger
	sleep     SleepFunc
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSleep replaces the inter-attempt pause, mainly for tests.
func WithSleep(sleep SleepFunc) ExecutorOption {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) ExecutorOption {
	return func(e *Executor) {
		e.recorder = recorder
	}
}

// NewExecutor creates an Executor. A nil refresher disables auth recovery.
func NewExecutor(policy Policy, refresher TokenRefresher, logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffFactor <= 0 {
		policy.BackoffFactor = 1
	}

	executor := &Executor{
		policy:    policy,
		refresher: refresher,
		recorder:  nopRecorder{},
		logger:    logger.With().Str("component", "retry").Logger(),
		sleep:     sleepContext,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs fn until it succeeds, a terminal error appears, or the
// attempt budget runs out. fn must resolve its provider client on every
// invocation so a repeat after a token refresh carries the new token.
// If the refresh itself fails, the original auth error is returned.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	authRecovered := false

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if fyers.IsAuthError(err) {
			if authRecovered || e.refresher == nil {
				return err
			}

			e.logger.Warn().
				Str("operation", operation).
				Err(err).
				Msg("Auth failure, refreshing token")

			if _, refreshErr := e.refresher.Refresh(ctx); refreshErr != nil {
				e.logger.Error().
					Str("operation", operation).
					Err(refreshErr).
					Msg("Token refresh failed")
				return err
			}

			e.recorder.RecordAuthRecovery(operation)
			authRecovered = true
			attempt--
			continue
		}

		if !fyers.IsRetryableError(err) {
			return err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Delay(attempt)
		e.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Transient failure, backing off")

		e.recorder.RecordRetry(operation)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
