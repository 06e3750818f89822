package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestStateTransitions_ClosedToOpen verifies circuit opens after failure threshold
func TestStateTransitions_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-closed-to-open",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          1 * time.Second,
	})

	if cb.State() != StateClosed {
		t.Fatalf("Expected initial state Closed, got %s", cb.State())
	}

	failErr := errors.New("test failure")
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return failErr
		})

		if cb.State() != StateClosed {
			t.Errorf("Expected Closed after %d failures, got %s", i+1, cb.State())
		}
	}

	// Third failure should trigger open
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return failErr
	})

	if cb.State() != StateOpen {
		t.Errorf("Expected Open after 3 failures, got %s", cb.State())
	}

	// Requests are rejected when open
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}

	t.Log("✓ State transition Closed → Open works correctly")
}

// TestStateTransitions_OpenToHalfOpenToClosed verifies recovery through a probe
func TestStateTransitions_OpenToHalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-recovery",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          100 * time.Millisecond,
	})

	cb.ForceOpen()
	if cb.State() != StateOpen {
		t.Fatalf("Expected Open after ForceOpen, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen before timeout, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	executed := false
	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	})
	if err != nil {
		t.Errorf("Expected probe to succeed after timeout, got %v", err)
	}
	if !executed {
		t.Error("Expected probe function to be executed")
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after successful probe, got %s", cb.State())
	}

	t.Log("✓ State transition Open → HalfOpen → Closed works correctly")
}

// TestHalfOpenFailureReopens verifies one failed probe reopens the circuit
func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-probe-failure",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	cb.ForceOpen()
	time.Sleep(80 * time.Millisecond)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("probe failed")
	})

	if cb.State() != StateOpen {
		t.Errorf("Expected Open after failed probe, got %s", cb.State())
	}

	t.Log("✓ Failed half-open probe reopens the circuit")
}

// TestShouldTrip_FiltersErrors verifies filtered errors don't count toward opening
func TestShouldTrip_FiltersErrors(t *testing.T) {
	permanent := errors.New("bad request")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-should-trip",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		ShouldTrip: func(err error) bool {
			return !errors.Is(err, permanent)
		},
	})

	// Filtered failures never open the circuit
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return permanent
		})
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after filtered failures, got %s", cb.State())
	}

	// Counted failures still do
	transient := errors.New("connection reset")
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return transient
		})
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected Open after counted failures, got %s", cb.State())
	}

	t.Log("✓ ShouldTrip filters which failures count")
}

// TestCancellationDoesNotTrip verifies caller cancellations don't open the circuit
func TestCancellationDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cancellation",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return context.Canceled
		})
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after cancellations, got %s", cb.State())
	}

	t.Log("✓ Cancellations do not count as upstream failures")
}

// TestExecuteWithResult verifies the generic variant passes results through
func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-with-result",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
	})

	got, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}

	cb.ForceOpen()
	_, err = ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}

	t.Log("✓ ExecuteWithResult respects circuit state")
}

// TestReset verifies manual reset closes the circuit
func TestReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-reset",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	})

	cb.ForceOpen()
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after Reset, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("Expected request to pass after Reset, got %v", err)
	}

	t.Log("✓ Manual reset closes the circuit")
}
