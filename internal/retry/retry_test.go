package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/fyers"
)

func transientErr() error {
	return &fyers.APIError{S: "error", Code: 500, Message: "server busy", HTTPStatus: 503}
}

func authErr() error {
	return &fyers.APIError{S: "error", Code: -17, Message: "token expired", HTTPStatus: 401}
}

func terminalErr() error {
	return &fyers.APIError{S: "error", Code: -50, Message: "invalid symbol", HTTPStatus: 400}
}

// fakeRefresher counts refresh calls and optionally fails
type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "fresh-token", nil
}

// recordingSleep captures delays instead of waiting
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.delays = append(r.delays, d)
	return nil
}

func newTestExecutor(refresher TokenRefresher, sleep *recordingSleep) *Executor {
	return NewExecutor(DefaultPolicy(), refresher, zerolog.Nop(), WithSleep(sleep.sleep))
}

func TestPolicyDelay(t *testing.T) {
	t.Run("doubles from the base delay", func(t *testing.T) {
		policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, BackoffFactor: 2}

		assert.Equal(t, time.Second, policy.Delay(1))
		assert.Equal(t, 2*time.Second, policy.Delay(2))
		assert.Equal(t, 4*time.Second, policy.Delay(3))
	})

	t.Run("honors a custom factor", func(t *testing.T) {
		policy := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, BackoffFactor: 3}

		assert.Equal(t, 100*time.Millisecond, policy.Delay(1))
		assert.Equal(t, 300*time.Millisecond, policy.Delay(2))
		assert.Equal(t, 900*time.Millisecond, policy.Delay(3))
	})

	t.Run("clamps attempts below one", func(t *testing.T) {
		policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, BackoffFactor: 2}

		assert.Equal(t, time.Second, policy.Delay(0))
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("first success needs no retry", func(t *testing.T) {
		sleep := &recordingSleep{}
		executor := newTestExecutor(nil, sleep)

		calls := 0
		err := executor.Execute(ctx, "quotes", func(_ context.Context) error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, sleep.delays)
	})

	t.Run("transient failures back off and recover", func(t *testing.T) {
		sleep := &recordingSleep{}
		executor := newTestExecutor(nil, sleep)

		calls := 0
		err := executor.Execute(ctx, "quotes", func(_ context.Context) error {
			calls++
			if calls < 3 {
				return transientErr()
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleep.delays)
	})

	t.Run("budget exhaustion returns the last error", func(t *testing.T) {
		sleep := &recordingSleep{}
		executor := newTestExecutor(nil, sleep)

		calls := 0
		err := executor.Execute(ctx, "orders", func(_ context.Context) error {
			calls++
			return transientErr()
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Len(t, sleep.delays, 2, "no sleep after the final attempt")

		var apiErr *fyers.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 503, apiErr.HTTPStatus)
	})

	t.Run("terminal errors stop immediately", func(t *testing.T) {
		sleep := &recordingSleep{}
		executor := newTestExecutor(nil, sleep)

		calls := 0
		err := executor.Execute(ctx, "orders", func(_ context.Context) error {
			calls++
			return terminalErr()
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, sleep.delays)
	})

	t.Run("network errors are retried", func(t *testing.T) {
		sleep := &recordingSleep{}
		executor := newTestExecutor(nil, sleep)

		calls := 0
		err := executor.Execute(ctx, "quotes", func(_ context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("dial tcp: connection refused")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestExecuteAuthRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh grants one free repeat", func(t *testing.T) {
		refresher := &fakeRefresher{}
		sleep := &recordingSleep{}
		executor := newTestExecutor(refresher, sleep)

		calls := 0
		err := executor.Execute(ctx, "orders", func(_ context.Context) error {
			calls++
			if calls == 1 {
				return authErr()
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, refresher.calls)
		assert.Empty(t, sleep.delays, "the post-refresh repeat is immediate")
	})

	t.Run("the free repeat keeps the full transient budget", func(t *testing.T) {
		refresher := &fakeRefresher{}
		sleep := &recordingSleep{}
		executor := newTestExecutor(refresher, sleep)

		calls := 0
		err := executor.Execute(ctx, "orders", func(_ context.Context) error {
			calls++
			switch calls {
			case 1:
				return authErr()
			case 2, 3:
				return transientErr()
			default:
				return nil
			}
		})

		require.NoError(t, err)
		assert.Equal(t, 4, calls, "one auth repeat on top of three attempts")
		assert.Equal(t, 1, refresher.calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleep.delays)
	})

	t.Run("failed refresh surfaces the original auth error", func(t *testing.T) {
		refresher := &fakeRefresher{err: errors.New("refresh token expired")}
		sleep := &recordingSleep{}
		executor := newTestExecutor(refresher, sleep)

		calls := 0
		err := executor.Execute(ctx, "orders", func(_ context.Context) error {
			calls++
			return authErr()
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, refresher.calls)
		assert.True(t, fyers.IsAuthError(err))
	})

	t.Run("a second auth failure is terminal", func(t *testing.T) {
		refresher := &fakeRefresher{}
		sleep := &recordingSleep{}
		executor := newTestExecutor(refresher, sleep)

		calls := 0
		err := executor.Execute(ctx, "orders", func(_ context.Context) error {
			calls++
			return authErr()
		})

		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, refresher.calls)
		assert.True(t, fyers.IsAuthError(err))
	})

	t.Run("no refresher means auth errors are terminal", func(t *testing.T) {
		sleep := &recordingSleep{}
		executor := newTestExecutor(nil, sleep)

		calls := 0
		err := executor.Execute(ctx, "orders", func(_ context.Context) error {
			calls++
			return authErr()
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestExecuteContext(t *testing.T) {
	t.Run("cancellation stops the schedule", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		executor := NewExecutor(DefaultPolicy(), nil, zerolog.Nop())

		calls := 0
		err := executor.Execute(ctx, "quotes", func(_ context.Context) error {
			calls++
			cancel()
			return transientErr()
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func BenchmarkExecuteSuccess(b *testing.B) {
	executor := NewExecutor(DefaultPolicy(), nil, zerolog.Nop())
	fn := func(_ context.Context) error { return nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		executor.Execute(context.Background(), "bench", fn)
	}
}
