package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := newBreaker("ocr", CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: time.Minute})
	b.now = clock.now
	return b, clock
}

var errUnavailable = NewTransientError(errors.New("service unavailable"), 503)

func fail(b *breaker, n int) {
	for i := 0; i < n; i++ {
		_, _ = callThrough(context.Background(), b, func(context.Context) (int, error) {
			return 0, errUnavailable
		})
	}
}

func TestBreaker_OpensAfterConsecutiveTransientFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3)

	fail(b, 2)
	assert.Equal(t, CircuitClosed, b.snapshot())

	fail(b, 1)
	assert.Equal(t, CircuitOpen, b.snapshot())

	called := false
	_, err := callThrough(context.Background(), b, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3)

	fail(b, 2)
	_, err := callThrough(context.Background(), b, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	fail(b, 2)

	assert.Equal(t, CircuitClosed, b.snapshot())
}

func TestBreaker_PermanentErrorsDoNotCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1)

	for i := 0; i < 5; i++ {
		_, err := callThrough(context.Background(), b, func(context.Context) (int, error) {
			return 0, errors.New("invalid pdf")
		})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitClosed, b.snapshot())
}

func TestBreaker_ProbeAfterResetTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe error
		want  CircuitState
	}{
		{name: "success closes", probe: nil, want: CircuitClosed},
		{name: "permanent error closes", probe: errors.New("bad request"), want: CircuitClosed},
		{name: "transient error reopens", probe: errUnavailable, want: CircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clock := newTestBreaker(1)
			fail(b, 1)

			clock.advance(59 * time.Second)
			assert.Equal(t, CircuitOpen, b.snapshot())
			clock.advance(time.Second)
			assert.Equal(t, CircuitHalfOpen, b.snapshot())

			_, _ = callThrough(context.Background(), b, func(context.Context) (int, error) { return 0, tt.probe })
			assert.Equal(t, tt.want, b.snapshot())
		})
	}
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(1)
	fail(b, 1)
	clock.advance(time.Minute)

	require.NoError(t, b.admit())
	assert.ErrorIs(t, b.admit(), ErrCircuitOpen)

	b.record(nil)
	assert.NoError(t, b.admit())
}

func TestBreaker_CancelledProbeLeavesStateAlone(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(1)
	fail(b, 1)
	clock.advance(time.Minute)

	require.NoError(t, b.admit())
	b.record(context.Canceled)

	assert.Equal(t, CircuitHalfOpen, b.snapshot())
	assert.NoError(t, b.admit(), "a new probe is admitted after the cancelled one")
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = callThrough(context.Background(), b, func(context.Context) (int, error) {
				if i%2 == 0 {
					return 0, errUnavailable
				}
				return i, nil
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, CircuitClosed, b.snapshot())
}

func TestCircuitBreakerConfig_Normalized(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultCircuitBreakerConfig(), CircuitBreakerConfig{}.normalized())
	assert.Equal(t, 2, CircuitBreakerConfig{FailureThreshold: 2}.normalized().FailureThreshold)
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
