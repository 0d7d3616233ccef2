package resilience

import (
	"errors"
	"testing"
	"time"
)

func newGroup(t *testing.T, cfg CircuitBreakerConfig) *FallbackGroup[string] {
	t.Helper()
	g := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: cfg})
	g.AddFallback("standby", "standby")
	return g
}

func TestFallbackGroup_PrimaryHandlesCall(t *testing.T) {
	g := newGroup(t, CircuitBreakerConfig{MaxFailures: 3})

	var served string
	if err := g.Execute(func(b string) error {
		served = b
		return nil
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "primary" {
		t.Fatalf("served by %q, want primary", served)
	}
}

func TestFallbackGroup_FailsOverToStandby(t *testing.T) {
	g := newGroup(t, CircuitBreakerConfig{MaxFailures: 3})

	var served string
	err := g.Execute(func(b string) error {
		if b == "primary" {
			return errBackendDown
		}
		served = b
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "standby" {
		t.Fatalf("served by %q, want standby", served)
	}
}

func TestFallbackGroup_AllBackendsDown(t *testing.T) {
	g := newGroup(t, CircuitBreakerConfig{MaxFailures: 3})

	err := g.Execute(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerIsSkipped(t *testing.T) {
	g := newGroup(t, CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	// Trip the primary's breaker.
	for range 2 {
		_ = g.Execute(func(b string) error {
			if b == "primary" {
				return errBackendDown
			}
			return nil
		})
	}

	// Calls now go straight to the standby without touching the primary.
	var touchedPrimary bool
	var served string
	err := g.Execute(func(b string) error {
		if b == "primary" {
			touchedPrimary = true
		}
		served = b
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if touchedPrimary {
		t.Error("primary was called while its circuit was open")
	}
	if served != "standby" {
		t.Fatalf("served by %q, want standby", served)
	}
}

func TestExecuteWithResult(t *testing.T) {
	newIntGroup := func() *FallbackGroup[int] {
		g := NewFallbackGroup(1, "first", FallbackConfig{
			CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
		})
		g.AddFallback("second", 2)
		return g
	}

	t.Run("primary result", func(t *testing.T) {
		got, err := ExecuteWithResult(newIntGroup(), func(v int) (string, error) {
			if v == 1 {
				return "line from first", nil
			}
			return "line from second", nil
		})
		if err != nil {
			t.Fatalf("ExecuteWithResult: %v", err)
		}
		if got != "line from first" {
			t.Fatalf("result = %q, want the primary's", got)
		}
	})

	t.Run("failover result", func(t *testing.T) {
		got, err := ExecuteWithResult(newIntGroup(), func(v int) (string, error) {
			if v == 1 {
				return "", errBackendDown
			}
			return "line from second", nil
		})
		if err != nil {
			t.Fatalf("ExecuteWithResult: %v", err)
		}
		if got != "line from second" {
			t.Fatalf("result = %q, want the fallback's", got)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		_, err := ExecuteWithResult(newIntGroup(), func(int) (string, error) {
			return "", errBackendDown
		})
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	})
}
