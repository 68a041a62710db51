package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func partnerDown() error {
	return NewTransientError(errors.New("partner: 503 service unavailable"), 503)
}

func tripBreaker(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return partnerDown() })
	}
}

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("partner", DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("partner", CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	tripBreaker(cb, 3)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("open circuit rejection should be retryable")
	}
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("partner", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("partner: 400 unknown job")
		})
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after permanent errors, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker("partner", CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	tripBreaker(cb, 2)
	failures, state := cb.Counters()
	if failures != 2 || state != CircuitClosed {
		t.Fatalf("expected 2 failures while closed, got %d %s", failures, state)
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	if failures, _ = cb.Counters(); failures != 0 {
		t.Errorf("expected 0 consecutive failures after success, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("partner", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }

	tripBreaker(cb, 2)
	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("partner", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }

	tripBreaker(cb, 2)
	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	tripBreaker(cb, 1)

	failures, state := cb.Counters()
	if state != CircuitOpen {
		t.Errorf("expected open after half-open failure, got %s", state)
	}
	if failures != 3 {
		t.Errorf("expected 3 total failures, got %d", failures)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type change struct {
		name     string
		from, to CircuitState
	}
	var changes []change
	cb := NewCircuitBreaker("partner", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(name string, from, to CircuitState) {
			changes = append(changes, change{name, from, to})
		},
	})

	tripBreaker(cb, 2)
	cb.Reset()

	if len(changes) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(changes))
	}
	if changes[0] != (change{"partner", CircuitClosed, CircuitOpen}) {
		t.Errorf("unexpected first transition %+v", changes[0])
	}
	if changes[1] != (change{"partner", CircuitOpen, CircuitClosed}) {
		t.Errorf("unexpected second transition %+v", changes[1])
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker("partner", CircuitBreakerConfig{FailureThreshold: 100, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return partnerDown()
				}
				return nil
			})
		}()
	}
	wg.Wait()
}

func TestBreakers_GetOrCreate(t *testing.T) {
	b := NewBreakers(DefaultCircuitBreakerConfig())

	cb1 := b.Get("partner")
	cb2 := b.Get("partner")
	cb3 := b.Get("mesh")

	if cb1 != cb2 {
		t.Error("expected same breaker for same dependency")
	}
	if cb1 == cb3 {
		t.Error("expected different breakers for different dependencies")
	}
	if cb3.Name() != "mesh" {
		t.Errorf("expected name mesh, got %s", cb3.Name())
	}
}

func TestBreakers_States(t *testing.T) {
	b := NewBreakers(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	tripBreaker(b.Get("partner"), 1)
	_ = b.Get("mesh")

	states := b.States()
	if states["partner"] != CircuitOpen {
		t.Errorf("expected partner=open, got %s", states["partner"])
	}
	if states["mesh"] != CircuitClosed {
		t.Errorf("expected mesh=closed, got %s", states["mesh"])
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
