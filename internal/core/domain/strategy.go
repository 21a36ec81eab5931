package domain

import (
	"fmt"
	"time"
)

type Method string

const (
	MethodDirect               Method = "DIRECT"
	MethodOCR                  Method = "OCR"
	MethodVision               Method = "VISION"
	MethodVisionWithPreprocess Method = "VISION_WITH_PREPROCESS"
	MethodHybrid               Method = "HYBRID"
)

func (m Method) Valid() bool {
	switch m {
	case MethodDirect, MethodOCR, MethodVision, MethodVisionWithPreprocess, MethodHybrid:
		return true
	default:
		return false
	}
}

// UsesVision reports whether the method calls the vision oracle.
func (m Method) UsesVision() bool {
	return m == MethodVision || m == MethodVisionWithPreprocess || m == MethodHybrid
}

// Variant narrows the prompt a vision-backed strategy uses.
type Variant string

const (
	VariantGeneral     Variant = ""
	VariantFormAware   Variant = "form"
	VariantTableAware  Variant = "table"
	VariantHandwriting Variant = "handwriting"
)

type PreprocessStep string

const (
	StepGrayscale PreprocessStep = "grayscale"
	StepContrast  PreprocessStep = "contrast"
	StepUpscale   PreprocessStep = "upscale"
	StepDownscale PreprocessStep = "downscale"
)

func (s PreprocessStep) Valid() bool {
	switch s {
	case StepGrayscale, StepContrast, StepUpscale, StepDownscale:
		return true
	default:
		return false
	}
}

type ProcessingStrategy struct {
	ID                 string           `json:"id"`
	Method             Method           `json:"method"`
	Variant            Variant          `json:"variant,omitempty"`
	ModelRef           string           `json:"model_ref,omitempty"`
	PreprocessingSteps []PreprocessStep `json:"preprocessing_steps,omitempty"`
	Language           string           `json:"language,omitempty"`
	Timeout            time.Duration    `json:"timeout"`
	ExpectedLatency    time.Duration    `json:"expected_latency"`

	// EscalateTo is the model used when this strategy is escalated. Empty
	// means the strategy cannot be escalated.
	EscalateTo       string  `json:"escalate_to,omitempty"`
	EscalationFactor float64 `json:"escalation_factor,omitempty"`
	Escalated        bool    `json:"escalated,omitempty"`
}

func (s ProcessingStrategy) CanEscalate() bool {
	return !s.Escalated && s.Method.UsesVision() && s.EscalateTo != ""
}

// Escalate returns a copy of s with widened parameters. The receiver is not
// modified.
func (s ProcessingStrategy) Escalate() ProcessingStrategy {
	out := s
	out.PreprocessingSteps = append([]PreprocessStep(nil), s.PreprocessingSteps...)
	out.ModelRef = s.EscalateTo
	factor := s.EscalationFactor
	if factor < 1 {
		factor = 1
	}
	out.Timeout = time.Duration(float64(s.Timeout) * factor)
	out.ExpectedLatency = time.Duration(float64(s.ExpectedLatency) * factor)
	out.Escalated = true
	out.EscalateTo = ""
	out.ID = fmt.Sprintf("%s+escalated", s.ID)
	return out
}
