package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	err := Do(context.Background(), fast(), func() error {
		attempts++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryable(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(), func() error {
		attempts++
		return NonRetryable(errors.New("bad input"))
	})
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, attempts)
	assert.Nil(t, NonRetryable(nil))
}

func TestDo_ShouldRetry(t *testing.T) {
	retryable := errors.New("busy")
	final := errors.New("unsupported")

	cfg := fast()
	cfg.MaxAttempts = 5
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, retryable) }

	var seen []int
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) }

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return retryable
		}
		return final
	})
	assert.ErrorIs(t, err, final)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error { return errors.New("fail") })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_InvalidConfig(t *testing.T) {
	tests := []Config{
		{InitialDelay: -1},
		{MaxDelay: -1},
		{Multiplier: -1},
		{InitialDelay: time.Second, MaxDelay: time.Millisecond},
	}
	for _, cfg := range tests {
		err := Do(context.Background(), cfg, func() error { return nil })
		assert.Error(t, err)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), Config{}, func() error {
		attempts++
		return errors.New("x")
	})
	assert.Equal(t, 1, attempts)
}

func TestDoWithResult(t *testing.T) {
	n := 0
	v, err := DoWithResult(context.Background(), fast(), func() (string, error) {
		n++
		if n == 1 {
			return "", errors.New("again")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.AddJitter)
}
