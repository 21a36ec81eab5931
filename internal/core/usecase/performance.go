package usecase

import (
	"sort"
	"sync"
	"time"
)

const (
	untriedModelScore = 0.5
	maxSpeedBonus     = 2.0
)

type modelStats struct {
	successes    int
	failures     int
	totalLatency time.Duration
}

// ModelPerformance tracks per-model outcomes across conversions so the
// selector can prefer vision models that have been fast and reliable.
type ModelPerformance struct {
	mu    sync.Mutex
	stats map[string]*modelStats
}

func NewModelPerformance() *ModelPerformance {
	return &ModelPerformance{stats: make(map[string]*modelStats)}
}

func (p *ModelPerformance) Record(model string, ok bool, elapsed time.Duration) {
	if p == nil || model == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	st, found := p.stats[model]
	if !found {
		st = &modelStats{}
		p.stats[model] = st
	}
	if ok {
		st.successes++
		st.totalLatency += elapsed
		return
	}
	st.failures++
}

// Score is success_rate * min(2, expected/avg_latency). Models with no history
// score 0.5.
func (p *ModelPerformance) Score(model string, expected time.Duration) float64 {
	if p == nil {
		return untriedModelScore
	}
	p.mu.Lock()
	st, found := p.stats[model]
	var snapshot modelStats
	if found {
		snapshot = *st
	}
	p.mu.Unlock()

	total := snapshot.successes + snapshot.failures
	if total == 0 {
		return untriedModelScore
	}
	rate := float64(snapshot.successes) / float64(total)
	if snapshot.successes == 0 || expected <= 0 {
		return rate
	}
	avg := snapshot.totalLatency / time.Duration(snapshot.successes)
	speed := maxSpeedBonus
	if avg > 0 {
		speed = min(maxSpeedBonus, float64(expected)/float64(avg))
	}
	return rate * speed
}

// Rank orders models by descending score. Ties keep the input order.
func (p *ModelPerformance) Rank(models []string, expected func(string) time.Duration) []string {
	ranked := append([]string(nil), models...)
	scores := make(map[string]float64, len(ranked))
	for _, m := range ranked {
		scores[m] = p.Score(m, expected(m))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	return ranked
}
