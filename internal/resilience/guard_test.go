package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}
}

func TestGuardVal_RetriesTransient(t *testing.T) {
	t.Parallel()
	g := NewGuard(fastRetry(), DefaultCircuitBreakerConfig())

	calls := 0
	val, err := GuardVal(context.Background(), g, ServiceOCR, "extract", func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("ocr unavailable"), 503)
		}
		return "WO-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "WO-1", val)
	assert.Equal(t, 3, calls)
	assert.Equal(t, CircuitClosed, g.States()[ServiceOCR])
}

func TestGuardVal_PermanentNotRetriedAndDoesNotTrip(t *testing.T) {
	t.Parallel()
	g := NewGuard(fastRetry(), CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	calls := 0
	for i := 0; i < 3; i++ {
		_, err := GuardVal(context.Background(), g, ServiceOCR, "extract", func(_ context.Context) (int, error) {
			calls++
			return 0, errors.New("unreadable pdf")
		})
		require.Error(t, err)
	}

	assert.Equal(t, 3, calls)
	assert.Equal(t, CircuitClosed, g.States()[ServiceOCR])
}

func TestGuardDo_OpensPerService(t *testing.T) {
	t.Parallel()
	g := NewGuard(RetryConfig{MaxAttempts: 1}, CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	fail := func(_ context.Context) error {
		return NewTransientError(errors.New("ftp 421"), 0)
	}
	_ = GuardDo(context.Background(), g, ServiceStorage, "upload", fail)
	_ = GuardDo(context.Background(), g, ServiceStorage, "upload", fail)

	called := false
	err := GuardDo(context.Background(), g, ServiceStorage, "upload", func(_ context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	// Other collaborators are unaffected.
	require.NoError(t, GuardDo(context.Background(), g, ServiceOCR, "extract", func(_ context.Context) error { return nil }))

	states := g.States()
	assert.Equal(t, CircuitOpen, states[ServiceStorage])
	assert.Equal(t, CircuitClosed, states[ServiceOCR])
}

func TestGuardVal_NilGuardCallsThrough(t *testing.T) {
	t.Parallel()
	var g *Guard
	val, err := GuardVal(context.Background(), g, ServiceOCR, "extract", func(_ context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Empty(t, g.States())
}
