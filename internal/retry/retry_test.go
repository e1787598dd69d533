package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ballardtrucks/roundup/internal/errclass"
)

var errBoom = errors.New("boom")

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BackoffBase: 2, BackoffUnit: time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errBoom
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	require.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, errBoom)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		return 0, &errclass.ExtractError{Reason: "structure missing"}
	})
	require.Equal(t, 1, calls, "non-retryable failures must not burn further attempts")

	var extract *errclass.ExtractError
	require.ErrorAs(t, err, &extract)
}

func TestDoStopsOnFatal(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		return 0, &errclass.ConfigError{Reason: "bad source"}
	})
	require.Equal(t, 1, calls)

	var cfgErr *errclass.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestDoBackoffCurve(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BackoffBase: 2, BackoffUnit: 20 * time.Millisecond}
	start := time.Now()
	_, err := Do(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, errBoom
	})
	elapsed := time.Since(start)
	require.Error(t, err)
	// Sleeps are base^0 + base^1 units = 60ms; the final failure skips its
	// sleep entirely.
	require.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	require.Less(t, elapsed, 500*time.Millisecond, "last attempt should not sleep")
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Config{MaxAttempts: 5, BackoffBase: 2, BackoffUnit: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errBoom
	})
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoAttemptTimeoutIsRetryable(t *testing.T) {
	cfg := fastConfig(2)
	cfg.AttemptTimeout = 10 * time.Millisecond
	calls := 0
	_, err := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Equal(t, 2, calls, "a timed-out attempt is retryable and consumes one attempt")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
}

func TestDoZeroConfigUsesDefaults(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Config{BackoffUnit: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBoom
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, got)
	require.Equal(t, Default.MaxAttempts, calls)
}
