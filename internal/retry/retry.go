// Package retry implements the shared attempt loop with exponential
// backoff used for source extraction and other flaky external calls.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ballardtrucks/roundup/internal/errclass"
)

// Config controls the attempt budget and backoff curve.
type Config struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// BackoffBase is the exponent base: the sleep before attempt n+1 is
	// BackoffBase^n backoff units (1, 2, 4, ... for base 2).
	BackoffBase float64
	// BackoffUnit scales the backoff; it defaults to one second and is
	// shrunk to milliseconds in tests.
	BackoffUnit time.Duration
	// AttemptTimeout bounds each individual attempt. A timeout consumes
	// one attempt and counts as a retryable failure. Zero disables it.
	AttemptTimeout time.Duration
}

// Default mirrors the production policy: three attempts with one- and
// two-second pauses between them.
var Default = Config{
	MaxAttempts: 3,
	BackoffBase: 2,
	BackoffUnit: time.Second,
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = Default.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = Default.BackoffBase
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = Default.BackoffUnit
	}
	return c
}

// ExhaustedError wraps the final failure after the attempt budget is spent.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do invokes op until it succeeds, fails non-retryably, or the attempt
// budget runs out. Between retryable failures it sleeps with exponential
// backoff, honoring ctx cancellation. The last sleep is skipped: a final
// failed attempt returns immediately.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := runAttempt(ctx, cfg, op)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// The overall run was cancelled; do not burn further attempts.
			return zero, fmt.Errorf("attempt %d interrupted: %w", attempt+1, ctx.Err())
		}
		if errclass.Classify(err) != errclass.Retryable {
			return zero, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		if err := sleep(ctx, backoff(cfg, attempt)); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Attempts: cfg.MaxAttempts, Last: lastErr}
}

func runAttempt[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	if cfg.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	defer cancel()
	result, err := op(attemptCtx)
	if err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
		// Surface the deadline rather than whatever the transport reported
		// mid-cancel, so classification sees a retryable timeout.
		return result, fmt.Errorf("attempt timed out after %s: %w", cfg.AttemptTimeout, context.DeadlineExceeded)
	}
	return result, err
}

func backoff(cfg Config, attempt int) time.Duration {
	return time.Duration(math.Pow(cfg.BackoffBase, float64(attempt)) * float64(cfg.BackoffUnit))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
