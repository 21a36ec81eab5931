package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// CircuitOpenError is returned without calling the operation while its
// breaker rejects traffic.
type CircuitOpenError struct {
	Operation string
	err       error
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s: %v", e.Operation, e.err)
}

func (e *CircuitOpenError) Unwrap() error { return e.err }

// BreakerStats is a point-in-time view of one operation's breaker.
type BreakerStats struct {
	State               string
	Requests            uint32
	TotalFailures       uint32
	ConsecutiveFailures uint32
}

// Executor runs oracle calls with bounded retries inside a circuit breaker
// per operation key. Callers key breakers by model so one failing model does
// not open the circuit for the others.
type Executor struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		now:      time.Now,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return errors.New("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = ClassifyDomainError
	}

	if !e.cfg.BreakerEnabled {
		return e.executeWithRetry(ctx, op, fn, classifier)
	}

	breaker := e.circuitBreaker(op, classifier)
	_, err := breaker.Execute(func() (struct{}, error) {
		return struct{}{}, e.executeWithRetry(ctx, op, fn, classifier)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CircuitOpenError{Operation: op, err: err}
	}
	return err
}

// Stats reports the breaker for operation. Operations never executed report
// a closed breaker with zero counts.
func (e *Executor) Stats(operation string) BreakerStats {
	e.mu.Lock()
	breaker, ok := e.breakers[operation]
	e.mu.Unlock()
	if !ok {
		return BreakerStats{State: gobreaker.StateClosed.String()}
	}
	counts := breaker.Counts()
	return BreakerStats{
		State:               breaker.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	maxAttempts := e.cfg.RetryMaxAttempts

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		if !classifier(err).Retryable || attempt == maxAttempts {
			return err
		}

		wait := e.cfg.Backoff.Delay(attempt)
		// No retry that would start after the caller's deadline.
		if deadline, ok := ctx.Deadline(); ok && !e.now().Add(wait).Before(deadline) {
			slog.Warn("retry_skipped_deadline",
				"operation", operation,
				"attempt", attempt,
				"backoff_ms", wait.Milliseconds(),
				"error", err,
			)
			return err
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](settings)
	e.breakers[operation] = breaker
	return breaker
}

func IsCircuitOpen(err error) bool {
	var open *CircuitOpenError
	return errors.As(err, &open)
}

// ClassifyDomainError retries ErrTemporary and counts unavailable or slow
// oracles against the breaker. Cancellation and input errors are neither
// retried nor recorded.
func ClassifyDomainError(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled):
		return ErrorClassification{}
	case domain.IsKind(err, domain.ErrTemporary):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case domain.IsKind(err, domain.ErrModelUnavailable), domain.IsKind(err, domain.ErrTimeout):
		return ErrorClassification{RecordFailure: true}
	default:
		return ErrorClassification{}
	}
}
