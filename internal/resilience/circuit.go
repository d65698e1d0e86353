// Package resilience guards calls to external collaborators (OCR, storage,
// mailbox) with circuit breakers and retries, and defines dead-letter records
// for documents that still fail.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the state of one collaborator's breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen admits a single probe call.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the collaborator while its
// breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when a breaker opens and how long it stays open.
type CircuitBreakerConfig struct {
	// FailureThreshold is the run of consecutive transient failures that
	// opens the breaker.
	FailureThreshold int
	// ResetTimeout is how long an open breaker rejects calls before it
	// lets a probe through.
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig opens after 5 transient failures for 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

func (c CircuitBreakerConfig) normalized() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	return c
}

// breaker tracks the health of one collaborator. Only transient errors count
// as failures; a permanent error proves the collaborator answered.
type breaker struct {
	service string
	cfg     CircuitBreakerConfig
	now     func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(service string, cfg CircuitBreakerConfig) *breaker {
	return &breaker{service: service, cfg: cfg.normalized(), now: time.Now}
}

// admit returns ErrCircuitOpen when the call must not reach the collaborator.
func (b *breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.set(CircuitHalfOpen)
		b.probing = true
	case CircuitHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == CircuitHalfOpen
	if wasProbe {
		b.probing = false
	}
	// A cancelled caller says nothing about the collaborator.
	if errors.Is(err, context.Canceled) {
		return
	}

	if !IsTransient(err) {
		b.failures = 0
		if wasProbe {
			b.set(CircuitClosed)
		}
		return
	}

	b.failures++
	if wasProbe || (b.state == CircuitClosed && b.failures >= b.cfg.FailureThreshold) {
		b.openedAt = b.now()
		b.set(CircuitOpen)
	}
}

// snapshot reports an open breaker past its reset timeout as half-open.
func (b *breaker) snapshot() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// set must be called with mu held.
func (b *breaker) set(to CircuitState) {
	if b.state == to {
		return
	}
	zap.L().Warn("resilience: circuit state change",
		zap.String("service", b.service),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
		zap.Int("consecutive_failures", b.failures),
	)
	b.state = to
}

func callThrough[T any](ctx context.Context, b *breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := b.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}
