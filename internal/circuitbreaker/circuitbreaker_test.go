package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream failed")

func failing() error { return errUpstream }
func succeeding() error { return nil }

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Call(ctx, failing); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d error = %v, want upstream error", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after threshold", cb.State())
	}
	if err := cb.Call(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Errorf("call while open error = %v, want ErrOpen", err)
	}
}

func TestCircuitBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	cb.Call(ctx, failing)
	cb.Call(ctx, failing)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed below threshold", cb.State())
	}
	// A success resets the failure count
	cb.Call(ctx, succeeding)
	cb.Call(ctx, failing)
	cb.Call(ctx, failing)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after counter reset", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	ctx := context.Background()

	cb.Call(ctx, failing)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	// First probe runs and succeeds; breaker stays half-open until the
	// success threshold is met
	if err := cb.Call(ctx, succeeding); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open after one probe success", cb.State())
	}
	if err := cb.Call(ctx, succeeding); err != nil {
		t.Fatalf("second probe error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after success threshold", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	ctx := context.Background()

	cb.Call(ctx, failing)
	time.Sleep(20 * time.Millisecond)

	if err := cb.Call(ctx, failing); !errors.Is(err, errUpstream) {
		t.Fatalf("probe error = %v, want upstream error", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type transition struct{ from, to State }
	var transitions []transition
	cb := New(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		Component:        "llm_api",
		OnStateChange: func(from, to State) {
			transitions = append(transitions, transition{from, to})
		},
	})
	ctx := context.Background()

	cb.Call(ctx, failing)
	time.Sleep(20 * time.Millisecond)
	cb.Call(ctx, succeeding)

	want := []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := New(Config{})
	if cb.failureThreshold != 5 || cb.successThreshold != 2 || cb.timeout != 30*time.Second {
		t.Errorf("defaults = %d/%d/%v, want 5/2/30s", cb.failureThreshold, cb.successThreshold, cb.timeout)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
