package resilience

import (
	"context"
	"sync"
)

// Collaborator names used as breaker keys.
const (
	ServiceOCR     = "ocr"
	ServiceStorage = "storage"
)

// Guard wraps calls to external collaborators with a per-service circuit
// breaker and transient-error retries. Every attempt passes through the
// breaker, so an opening breaker cuts the remaining retries short.
type Guard struct {
	retry   RetryConfig
	circuit CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewGuard creates a Guard from retry and breaker settings.
func NewGuard(retry RetryConfig, circuit CircuitBreakerConfig) *Guard {
	return &Guard{
		retry:    retry,
		circuit:  circuit.normalized(),
		breakers: make(map[string]*breaker),
	}
}

func (g *Guard) breaker(service string) *breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[service]
	if !ok {
		b = newBreaker(service, g.circuit)
		g.breakers[service] = b
	}
	return b
}

// States returns a snapshot of breaker states by service. Safe on a nil Guard.
func (g *Guard) States() map[string]CircuitState {
	states := make(map[string]CircuitState)
	if g == nil {
		return states
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, b := range g.breakers {
		states[name] = b.snapshot()
	}
	return states
}

// GuardDo is GuardVal for calls without a result.
func GuardDo(ctx context.Context, g *Guard, service, operation string, fn func(ctx context.Context) error) error {
	_, err := GuardVal(ctx, g, service, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// GuardVal runs fn through the service's breaker, retrying transient errors.
// A nil Guard calls fn directly.
func GuardVal[T any](ctx context.Context, g *Guard, service, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	b := g.breaker(service)
	return retry(ctx, g.retry, logRetry(service, operation), func(ctx context.Context) (T, error) {
		return callThrough(ctx, b, fn)
	})
}
