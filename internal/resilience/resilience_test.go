package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 3, Timeout: time.Minute, HalfOpenMax: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errors.New("fail") })
	}

	require.Equal(t, StateOpen, cb.State())
	err := cb.Execute(ctx, func() error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerRecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	err := cb.Execute(ctx, func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, cb.State())
}

func TestRetrySucceedsWithinAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
	}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	err := Retry(context.Background(), RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}, func() error { return errors.New("always fails") })
	require.Error(t, err)
}

func TestPollReturnsTrueOnceConditionMet(t *testing.T) {
	calls := 0
	ok := Poll(context.Background(), time.Millisecond, 100*time.Millisecond, func() bool {
		calls++
		return calls >= 3
	})
	require.True(t, ok)
}

func TestPollReturnsFalseOnDeadline(t *testing.T) {
	ok := Poll(context.Background(), time.Millisecond, 10*time.Millisecond, func() bool { return false })
	require.False(t, ok)
}
