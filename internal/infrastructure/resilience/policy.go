package resilience

import (
	"math"
	"time"
)

// Backoff is an exponential delay schedule: Initial*Multiplier^(attempt-1),
// capped at Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

type Config struct {
	RetryMaxAttempts int
	Backoff          Backoff

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts: 2,
		Backoff: Backoff{
			Initial:    250 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2.0,
		},

		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.Backoff.Initial <= 0 {
		out.Backoff.Initial = def.Backoff.Initial
	}
	if out.Backoff.Max <= 0 {
		out.Backoff.Max = def.Backoff.Max
	}
	if out.Backoff.Max < out.Backoff.Initial {
		out.Backoff.Max = out.Backoff.Initial
	}
	if out.Backoff.Multiplier < 1.0 {
		out.Backoff.Multiplier = def.Backoff.Multiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}
