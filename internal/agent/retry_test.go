package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	waits []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newTestRetrier(attempts int) (*Retrier, *recordedSleeps) {
	rec := &recordedSleeps{}
	r := NewRetrier(RetryConfig{
		Attempts:        attempts,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     300 * time.Millisecond,
		Multiplier:      2,
	}).WithSleep(rec.sleep)
	return r, rec
}

func TestRetrier_SucceedsFirstTry(t *testing.T) {
	r, rec := newTestRetrier(3)

	attempts, err := r.Do(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.waits)
}

func TestRetrier_RecoversAfterTransientFailures(t *testing.T) {
	r, rec := newTestRetrier(4)

	calls := 0
	attempts, err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.waits)
}

func TestRetrier_ExhaustsBoundedAttempts(t *testing.T) {
	r, rec := newTestRetrier(4)
	boom := errors.New("collector down")

	calls := 0
	attempts, err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, calls)
	// Capped at MaxInterval.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, rec.waits)
}

func TestRetrier_PermanentErrorStopsImmediately(t *testing.T) {
	r, rec := newTestRetrier(5)

	calls := 0
	attempts, err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return backoff.Permanent(ErrUnauthorized)
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.waits)
}

func TestRetrier_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(RetryConfig{Attempts: 5, InitialInterval: time.Hour}).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		})

	calls := 0
	attempts, err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetrier_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := newTestRetrier(3)

	attempts, err := r.Do(ctx, func(ctx context.Context) error {
		t.Fatal("operation must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
