package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [FallbackGroup.Execute] when every backend in the
// group either failed or was skipped because its breaker is open.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures a [FallbackGroup]. The circuit breaker settings are
// applied per backend, so a flapping primary actor cannot poison the budget of
// the fallbacks behind it.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup runs a call against an ordered list of interchangeable
// backends, each guarded by its own [CircuitBreaker]. The bridge uses it to
// front persona responders: if the configured actor backend is down, the call
// fails over to the next one instead of stalling a live session.
type FallbackGroup[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first backend tried.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = primaryName
	return &FallbackGroup[T]{
		backends: []backend[T]{{
			name:    primaryName,
			value:   primary,
			breaker: NewCircuitBreaker(cbCfg),
		}},
		cfg: cfg,
	}
}

// AddFallback appends a backend tried after all earlier entries have failed.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := g.cfg.CircuitBreaker
	cbCfg.Name = name
	g.backends = append(g.backends, backend[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against each backend in order until one succeeds. Backends
// with an open breaker are skipped without being called. If no backend
// succeeds the returned error wraps [ErrAllFailed] together with the last
// failure seen.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for _, b := range g.backends {
		err := b.breaker.Execute(func() error {
			return fn(b.value)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend, circuit open", "backend", b.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", b.name, "error", err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value,
// such as asking a persona responder for the next combat line. It is a
// package-level function because methods cannot introduce type parameters.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var result R
	err := g.Execute(func(v T) error {
		r, err := fn(v)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
