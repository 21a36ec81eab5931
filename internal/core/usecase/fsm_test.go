package usecase

import (
	"testing"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

func runScript(total int, script []domain.Recommendation) []string {
	state := startChain(total)
	trace := []string{state.String()}
	for _, rec := range script {
		if state.Terminal() {
			break
		}
		state = nextChainState(state, rec, total)
		trace = append(trace, state.String())
	}
	return trace
}

func TestChainTransitions(t *testing.T) {
	const (
		accept   = domain.RecommendAccept
		retry    = domain.RecommendRetryNext
		escalate = domain.RecommendEscalate
	)
	cases := []struct {
		name   string
		total  int
		script []domain.Recommendation
		want   []string
	}{
		{"accept first", 3, []domain.Recommendation{accept, retry}, []string{"TRYING(0)", "ACCEPTED"}},
		{"fallback then accept", 3, []domain.Recommendation{retry, accept}, []string{"TRYING(0)", "TRYING(1)", "ACCEPTED"}},
		{"escalate then accept", 2, []domain.Recommendation{escalate, accept}, []string{"TRYING(0)", "ESCALATED(0)", "ACCEPTED"}},
		{"escalate once only", 2, []domain.Recommendation{escalate, escalate, retry}, []string{"TRYING(0)", "ESCALATED(0)", "TRYING(1)", "EXHAUSTED"}},
		{"exhausted", 2, []domain.Recommendation{retry, retry}, []string{"TRYING(0)", "TRYING(1)", "EXHAUSTED"}},
		{"escalate on last strategy", 1, []domain.Recommendation{escalate, retry}, []string{"TRYING(0)", "ESCALATED(0)", "EXHAUSTED"}},
		{"empty chain", 0, []domain.Recommendation{accept}, []string{"EXHAUSTED"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := runScript(tc.total, tc.script)
			if len(got) != len(tc.want) {
				t.Fatalf("expected trace %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected trace %v, got %v", tc.want, got)
				}
			}
		})
	}
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	for _, s := range []chainState{{Phase: phaseAccepted}, {Phase: phaseExhausted}} {
		for _, rec := range []domain.Recommendation{domain.RecommendAccept, domain.RecommendRetryNext, domain.RecommendEscalate} {
			if got := nextChainState(s, rec, 3); got != s {
				t.Fatalf("expected %s to stay terminal on %s, got %s", s, rec, got)
			}
		}
	}
}
