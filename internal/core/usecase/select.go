package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/doc-converter/internal/config"
	"github.com/kirillkom/doc-converter/internal/core/domain"
)

const (
	lowSourceQuality      = 0.3
	highSourceQuality     = 0.7
	lowQualityTimeoutMul  = 1.5
	highQualityTimeoutMul = 0.75
	directLatencyDivisor  = 10
)

var defaultStrategyTable = map[domain.ContentType][]config.StrategySpec{
	domain.ContentTextOnly: {
		{Method: domain.MethodDirect},
	},
	domain.ContentImageOnly: {
		{Method: domain.MethodVision},
		{Method: domain.MethodOCR},
	},
	domain.ContentScanned: {
		{Method: domain.MethodVisionWithPreprocess},
		{Method: domain.MethodOCR},
	},
	domain.ContentMixed: {
		{Method: domain.MethodHybrid},
		{Method: domain.MethodVision},
		{Method: domain.MethodOCR},
	},
	domain.ContentForms: {
		{Method: domain.MethodHybrid, Variant: domain.VariantFormAware},
		{Method: domain.MethodVision},
	},
	domain.ContentTables: {
		{Method: domain.MethodHybrid, Variant: domain.VariantTableAware},
		{Method: domain.MethodVision},
	},
	domain.ContentHandwritten: {
		{Method: domain.MethodVision, Variant: domain.VariantHandwriting},
		{Method: domain.MethodOCR},
	},
}

type StrategySelector struct {
	tunables    TunablesSource
	performance *ModelPerformance
}

// NewStrategySelector builds a selector. performance may be nil, in which
// case vision fallbacks are never re-ranked.
func NewStrategySelector(tunables TunablesSource, performance *ModelPerformance) *StrategySelector {
	return &StrategySelector{tunables: tunables, performance: performance}
}

// Select returns the non-empty, priority-ordered strategy list for a
// classification. Per-content-type overrides in the tunables replace the
// built-in row; unknown content types fall back to the MIXED row.
//
// The result depends only on the classification and the tunables snapshot,
// with one exception: when vision_fallbacks is set and the selector has a
// ModelPerformance, the vision model is the best-ranked candidate at call
// time. The ModelRef and ID of vision-backed strategies can then change as
// attempts are recorded. The method order never does.
func (s *StrategySelector) Select(cls domain.ClassificationResult) []domain.ProcessingStrategy {
	t := s.tunables.Snapshot()

	specs, ok := t.Strategies[cls.ContentType]
	if !ok || len(specs) == 0 {
		specs, ok = defaultStrategyTable[cls.ContentType]
	}
	if !ok || len(specs) == 0 {
		specs = defaultStrategyTable[domain.ContentMixed]
	}

	scale := t.TimeoutMultiplier
	if t.AdaptiveTimeout {
		scale *= adaptiveTimeoutFactor(cls.Source)
	}
	visionModel := s.preferredVisionModel(t)

	out := make([]domain.ProcessingStrategy, 0, len(specs))
	for i, spec := range specs {
		out = append(out, buildStrategy(i, spec, t, visionModel, scale))
	}
	return out
}

func (s *StrategySelector) preferredVisionModel(t *config.Tunables) string {
	if s.performance == nil || len(t.VisionFallbacks) == 0 {
		return t.DefaultVisionModel
	}
	candidates := append([]string{t.DefaultVisionModel}, t.VisionFallbacks...)
	ranked := s.performance.Rank(candidates, func(name string) time.Duration {
		m, _ := t.Model(name)
		return m.ExpectedLatency
	})
	return ranked[0]
}

func buildStrategy(index int, spec config.StrategySpec, t *config.Tunables, visionModel string, scale float64) domain.ProcessingStrategy {
	strategy := domain.ProcessingStrategy{
		Method:             spec.Method,
		Variant:            spec.Variant,
		PreprocessingSteps: append([]domain.PreprocessStep(nil), spec.Steps...),
	}

	switch spec.Method {
	case domain.MethodDirect:
		strategy.Timeout = scaleDuration(t.DirectTimeout, t.TimeoutMultiplier)
		strategy.ExpectedLatency = t.DirectTimeout / directLatencyDivisor
	case domain.MethodOCR:
		strategy.ModelRef = firstNonEmpty(spec.Model, t.OCRModel)
		strategy.Language = t.OCRLanguage
	default:
		fallback := visionModel
		if spec.Variant == domain.VariantHandwriting {
			fallback = t.HandwritingModel
		}
		strategy.ModelRef = firstNonEmpty(spec.Model, fallback)
		if spec.Method == domain.MethodVisionWithPreprocess && len(strategy.PreprocessingSteps) == 0 {
			strategy.PreprocessingSteps = append([]domain.PreprocessStep(nil), t.PreprocessSteps...)
		}
		strategy.EscalationFactor = t.EscalationFactor
	}

	if model, ok := t.Model(strategy.ModelRef); ok {
		strategy.Timeout = scaleDuration(model.Timeout, scale)
		strategy.ExpectedLatency = model.ExpectedLatency
		if spec.Method.UsesVision() {
			strategy.EscalateTo = model.EscalateTo
		}
	}

	strategy.ID = strategyID(index, strategy)
	return strategy
}

// adaptiveTimeoutFactor gives poor sources more time and good ones less.
func adaptiveTimeoutFactor(src domain.SourceProfile) float64 {
	if src.TextNative {
		return 1
	}
	switch q := sourceQuality(src); {
	case q < lowSourceQuality:
		return lowQualityTimeoutMul
	case q >= highSourceQuality:
		return highQualityTimeoutMul
	default:
		return 1
	}
}

func strategyID(index int, s domain.ProcessingStrategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d-%s", index, strings.ToLower(string(s.Method)))
	if s.Variant != domain.VariantGeneral {
		b.WriteString("-" + string(s.Variant))
	}
	if s.ModelRef != "" {
		b.WriteString("@" + s.ModelRef)
	}
	return b.String()
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	return time.Duration(float64(d) * factor)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
