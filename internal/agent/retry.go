package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultRetryAttempts   = 3
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 10 * time.Second
	DefaultMultiplier      = 2
)

// ErrRetriesExhausted wraps the last failure once every attempt has been used.
var ErrRetriesExhausted = errors.New("retries exhausted")

type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts            int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// Retrier runs an operation a bounded number of times, sleeping between attempts for the
// durations produced by an exponential backoff. Errors wrapped with backoff.Permanent end
// the loop immediately.
type Retrier struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRetryAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	return &Retrier{
		cfg:   cfg,
		sleep: sleepContext,
	}
}

// WithSleep replaces the wait between attempts. Used by tests.
func (r *Retrier) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

func (r *Retrier) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval
	bo.Multiplier = r.cfg.Multiplier
	bo.RandomizationFactor = r.cfg.RandomizationFactor
	bo.Reset()
	return bo
}

// Do calls op until it succeeds, fails permanently, the attempts run out or ctx is done.
// It returns the number of attempts made.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	bo := r.newBackOff()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := op(ctx)
		if err == nil {
			return attempt, nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return attempt, permanent.Err
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt >= r.cfg.Attempts {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		slog.Warn("Attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", r.cfg.Attempts,
			"retry_in", wait,
			"error", err)

		if err := r.sleep(ctx, wait); err != nil {
			return attempt, err
		}
	}
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
