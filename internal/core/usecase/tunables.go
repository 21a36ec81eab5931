package usecase

import (
	"time"

	"github.com/kirillkom/doc-converter/internal/config"
	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// TunablesSource hands out read-only configuration snapshots. Components load
// a snapshot once per operation so a concurrent reload never splits a decision.
type TunablesSource interface {
	Snapshot() *config.Tunables
}

type noopMetrics struct{}

func (noopMetrics) ObserveAttempt(domain.Method, string, time.Duration, float64) {}
func (noopMetrics) ItemStarted() {}
func (noopMetrics) ItemFinished(string, time.Duration) {}
func (noopMetrics) QueueDepth(int) {}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
