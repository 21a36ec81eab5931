package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

func fastBackoff() Backoff {
	return Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3, Backoff: fastBackoff()})

	attempts := 0
	err := exec.Execute(context.Background(), "infer:llava", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.WrapError(domain.ErrTemporary, "infer", errors.New("502 bad gateway"))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3, Backoff: fastBackoff()})

	attempts := 0
	errNotFound := domain.WrapError(domain.ErrModelUnavailable, "infer", errors.New("model not found"))
	err := exec.Execute(context.Background(), "infer:llava", func(context.Context) error {
		attempts++
		return errNotFound
	}, nil)
	if !errors.Is(err, errNotFound) {
		t.Fatalf("expected model error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitPerOperation(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		Backoff:                 fastBackoff(),
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errDown := domain.WrapError(domain.ErrModelUnavailable, "infer", errors.New("connection refused"))
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "infer:a", func(context.Context) error {
			return errDown
		}, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("expected model error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "infer:a", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) || exec.Stats("infer:a").Requests != 0 {
		t.Fatalf("expected open state error, got %v", err)
	}
	if got := exec.Stats("infer:a").State; got != gobreaker.StateOpen.String() {
		t.Fatalf("expected open breaker, got %s", got)
	}

	called := false
	if err := exec.Execute(context.Background(), "infer:b", func(context.Context) error {
		called = true
		return nil
	}, nil); err != nil || !called {
		t.Fatalf("expected independent breaker for another model, err=%v called=%v", err, called)
	}
}

func TestExecuteIgnoresCancellationForBreaker(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:   1,
		Backoff:            fastBackoff(),
		BreakerEnabled:     true,
		BreakerMinRequests: 1,
	})
	for i := 0; i < 3; i++ {
		_ = exec.Execute(context.Background(), "infer:a", func(context.Context) error {
			return context.Canceled
		}, nil)
	}
	if got := exec.Stats("infer:a").State; got != gobreaker.StateClosed.String() {
		t.Fatalf("expected cancellation not to trip the breaker, got %s", got)
	}
}

func TestExecuteSkipsRetryPastDeadline(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts: 3,
		Backoff:          Backoff{Initial: time.Second, Max: time.Second, Multiplier: 1},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	attempts := 0
	started := time.Now()
	err := exec.Execute(ctx, "infer:slow", func(context.Context) error {
		attempts++
		return domain.WrapError(domain.ErrTemporary, "infer", errors.New("503"))
	}, nil)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected the temporary error back, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if elapsed := time.Since(started); elapsed > 50*time.Millisecond {
		t.Fatalf("expected no backoff wait, took %s", elapsed)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 3}
	cases := map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 100 * time.Millisecond,
		2: 300 * time.Millisecond,
		3: 900 * time.Millisecond,
		4: time.Second,
	}
	for attempt, want := range cases {
		if got := b.Delay(attempt); got != want {
			t.Fatalf("Delay(%d) = %s, want %s", attempt, got, want)
		}
	}
}
