package usecase

import (
	"fmt"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

type chainPhase int

const (
	phaseTrying chainPhase = iota
	phaseEscalated
	phaseAccepted
	phaseExhausted
)

func (p chainPhase) String() string {
	switch p {
	case phaseTrying:
		return "TRYING"
	case phaseEscalated:
		return "ESCALATED"
	case phaseAccepted:
		return "ACCEPTED"
	case phaseExhausted:
		return "EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// chainState is a state of the fallback chain. Index is meaningful only for
// TRYING and ESCALATED.
type chainState struct {
	Phase chainPhase
	Index int
}

func (s chainState) Terminal() bool {
	return s.Phase == phaseAccepted || s.Phase == phaseExhausted
}

func (s chainState) String() string {
	if s.Terminal() {
		return s.Phase.String()
	}
	return fmt.Sprintf("%s(%d)", s.Phase, s.Index)
}

func startChain(total int) chainState {
	if total <= 0 {
		return chainState{Phase: phaseExhausted}
	}
	return chainState{Phase: phaseTrying}
}

// nextChainState is the transition function of the fallback chain.
// ESCALATE is honoured only from TRYING(i); an escalated attempt that asks to
// escalate again advances like RETRY_NEXT.
func nextChainState(s chainState, rec domain.Recommendation, total int) chainState {
	if s.Terminal() {
		return s
	}
	switch {
	case rec == domain.RecommendAccept:
		return chainState{Phase: phaseAccepted}
	case rec == domain.RecommendEscalate && s.Phase == phaseTrying:
		return chainState{Phase: phaseEscalated, Index: s.Index}
	}
	if s.Index+1 < total {
		return chainState{Phase: phaseTrying, Index: s.Index + 1}
	}
	return chainState{Phase: phaseExhausted}
}
