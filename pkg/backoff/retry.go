package backoff

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"streamscraper/pkg/clock"
	"streamscraper/pkg/errors"
	"streamscraper/pkg/logger"
)

// SleepUntil blocks until clk reaches until or ctx is done. It returns
// ctx.Err() on cancellation.
func SleepUntil(ctx context.Context, clk clock.Clock, until time.Time) error {
	return Wait(ctx, clk, until.Sub(clk.Now()))
}

// Wait waits for delay on clk or until ctx is cancelled
func Wait(ctx context.Context, clk clock.Clock, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}

	select {
	case <-clk.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Operation is a call that may need retrying
type Operation func(ctx context.Context) error

// RetryConfig holds retry configuration for one-shot upstream calls
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	Backoff     Strategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry wait
	OnRetry func(attempt int, err error, delay time.Duration)
	Clock   clock.Clock
	Logger  logger.Logger
}

// DefaultRetryConfig returns three attempts with a short exponential backoff
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff: &ExponentialBackoff{
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
		RetryIf: DefaultRetryIf,
		Clock:   clock.Real(),
		Logger:  logger.NewNopLogger(),
	}
}

// DefaultRetryIf retries transient upstream failures. Rate limits are left
// to the caller, which owns the cooldown policy.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Classify(err) == errors.KindTransient
}

// Retry executes op until it succeeds, fails with a non-retryable error,
// runs out of attempts or ctx is cancelled
func Retry(ctx context.Context, cfg RetryConfig, op Operation) error {
	defaults := DefaultRetryConfig()
	if cfg.Backoff == nil {
		cfg.Backoff = defaults.Backoff
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = defaults.RetryIf
	}
	if cfg.Clock == nil {
		cfg.Clock = defaults.Clock
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		if !cfg.RetryIf(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			cfg.Logger.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": err.Error(),
			})
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
		}

		delay := cfg.Backoff.NextDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		if err := Wait(ctx, cfg.Clock, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}
