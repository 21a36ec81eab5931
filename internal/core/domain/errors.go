package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedInput  = errors.New("unsupported input")
	ErrParse             = errors.New("parse failure")
	ErrOCR               = errors.New("ocr failure")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrTimeout           = errors.New("attempt timed out")
	ErrTemporary         = errors.New("temporary failure")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidInput      = errors.New("invalid input")
	ErrSchedulerStopped  = errors.New("scheduler stopped")
	ErrConversionFailure = errors.New("conversion exhausted")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ConversionExhaustedError is returned when every attempt for one document
// raised a hard error or produced nothing usable.
type ConversionExhaustedError struct {
	Attempts []AttemptResult
}

func (e *ConversionExhaustedError) Error() string {
	if e == nil || len(e.Attempts) == 0 {
		return "conversion exhausted: no attempts"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reason := "empty text"
		if a.Err != nil {
			reason = a.Err.Error()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", a.StrategyID, reason))
	}
	return "conversion exhausted: " + strings.Join(parts, "; ")
}

func (e *ConversionExhaustedError) Unwrap() error { return ErrConversionFailure }

// Temporary reports whether every attempt failed for a reason that may clear
// on its own, such as an unreachable oracle.
func (e *ConversionExhaustedError) Temporary() bool {
	if e == nil || len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if a.Err == nil {
			return false
		}
		if !IsKind(a.Err, ErrTemporary) && !IsKind(a.Err, ErrModelUnavailable) {
			return false
		}
	}
	return true
}

// CapacityExceededError is returned by the scheduler when a submission would
// exceed its queue or memory budget.
type CapacityExceededError struct {
	Reason string
	Limit  int64
	Needed int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: %s (limit %d, requested %d)", e.Reason, e.Limit, e.Needed)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// IsTemporary reports whether err should be retried with backoff.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var exhausted *ConversionExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Temporary()
	}
	return IsKind(err, ErrTemporary) || IsKind(err, ErrModelUnavailable)
}
