package config

import (
	"fmt"
	"time"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

const (
	ModelKindVision = "vision"
	ModelKindOCR    = "ocr"
)

type ModelSpec struct {
	Name            string        `yaml:"name"`
	Kind            string        `yaml:"kind"`
	Timeout         time.Duration `yaml:"timeout"`
	ExpectedLatency time.Duration `yaml:"expected_latency"`
	EscalateTo      string        `yaml:"escalate_to,omitempty"`
}

// StrategySpec is one row of a content type's strategy order.
type StrategySpec struct {
	Method  domain.Method           `yaml:"method"`
	Variant domain.Variant          `yaml:"variant,omitempty"`
	Model   string                  `yaml:"model,omitempty"`
	Steps   []domain.PreprocessStep `yaml:"steps,omitempty"`
}

type QualityTunables struct {
	TextWeight        float64 `yaml:"text_weight"`
	ImageWeight       float64 `yaml:"image_weight"`
	ProcessingWeight  float64 `yaml:"processing_weight"`
	AcceptThreshold   float64 `yaml:"accept_threshold"`
	EscalateThreshold float64 `yaml:"escalate_threshold"`
	ArtifactRunLength int     `yaml:"artifact_run_length"`
	MinTextChars      int     `yaml:"min_text_chars"`
}

type ClassifierTunables struct {
	SamplePages          int     `yaml:"sample_pages"`
	TextDenseChars       int     `yaml:"text_dense_chars"`
	TextOnlyRatio        float64 `yaml:"text_only_ratio"`
	ImageOnlyRatio       float64 `yaml:"image_only_ratio"`
	ScanCoverage         float64 `yaml:"scan_coverage"`
	MixedThreshold       float64 `yaml:"mixed_threshold"`
	TableThreshold       float64 `yaml:"table_threshold"`
	FormThreshold        float64 `yaml:"form_threshold"`
	HandwritingThreshold float64 `yaml:"handwriting_threshold"`
}

type SchedulerTunables struct {
	PoolSize          int           `yaml:"pool_size"`
	MaxItemAttempts   int           `yaml:"max_item_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxQueuedItems    int           `yaml:"max_queued_items"`
	MaxQueuedBytes    int64         `yaml:"max_queued_bytes"`
	Retention         time.Duration `yaml:"retention"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

// Tunables is the read-mostly parameter set shared by the selector, engine
// and scheduler. Values handed out by Store.Snapshot must not be modified.
type Tunables struct {
	Models             []ModelSpec                           `yaml:"models"`
	DefaultVisionModel string                                `yaml:"default_vision_model"`
	HandwritingModel   string                                `yaml:"handwriting_model"`
	VisionFallbacks    []string                              `yaml:"vision_fallbacks,omitempty"`
	OCRModel           string                                `yaml:"ocr_model"`
	OCRLanguage        string                                `yaml:"ocr_language"`
	DirectTimeout      time.Duration                         `yaml:"direct_timeout"`
	TimeoutMultiplier  float64                               `yaml:"timeout_multiplier"`
	EscalationFactor   float64                               `yaml:"escalation_factor"`
	AdaptiveTimeout    bool                                  `yaml:"adaptive_timeout"`
	PreprocessSteps    []domain.PreprocessStep               `yaml:"preprocess_steps"`
	Strategies         map[domain.ContentType][]StrategySpec `yaml:"strategies,omitempty"`
	Quality            QualityTunables                       `yaml:"quality"`
	Classifier         ClassifierTunables                    `yaml:"classifier"`
	Scheduler          SchedulerTunables                     `yaml:"scheduler"`
}

func DefaultTunables() Tunables {
	return Tunables{
		Models: []ModelSpec{
			{Name: "llama3.2-vision:11b", Kind: ModelKindVision, Timeout: 120 * time.Second, ExpectedLatency: 30 * time.Second, EscalateTo: "llama3.2-vision:90b"},
			{Name: "llama3.2-vision:90b", Kind: ModelKindVision, Timeout: 240 * time.Second, ExpectedLatency: 90 * time.Second},
			{Name: "minicpm-v:latest", Kind: ModelKindVision, Timeout: 120 * time.Second, ExpectedLatency: 25 * time.Second, EscalateTo: "llama3.2-vision:90b"},
			{Name: "tesseract", Kind: ModelKindOCR, Timeout: 60 * time.Second, ExpectedLatency: 5 * time.Second},
		},
		DefaultVisionModel: "llama3.2-vision:11b",
		HandwritingModel:   "minicpm-v:latest",
		OCRModel:           "tesseract",
		OCRLanguage:        "eng",
		DirectTimeout:      30 * time.Second,
		TimeoutMultiplier:  1.0,
		EscalationFactor:   1.5,
		AdaptiveTimeout:    true,
		PreprocessSteps:    []domain.PreprocessStep{domain.StepGrayscale, domain.StepContrast, domain.StepUpscale},
		Quality: QualityTunables{
			TextWeight:        0.6,
			ImageWeight:       0.15,
			ProcessingWeight:  0.25,
			AcceptThreshold:   0.7,
			EscalateThreshold: 0.35,
			ArtifactRunLength: 5,
			MinTextChars:      20,
		},
		Classifier: ClassifierTunables{
			SamplePages:          3,
			TextDenseChars:       200,
			TextOnlyRatio:        0.9,
			ImageOnlyRatio:       0.1,
			ScanCoverage:         0.6,
			MixedThreshold:       0.3,
			TableThreshold:       0.5,
			FormThreshold:        0.5,
			HandwritingThreshold: 0.6,
		},
		Scheduler: SchedulerTunables{
			PoolSize:          4,
			MaxItemAttempts:   3,
			BackoffInitial:    500 * time.Millisecond,
			BackoffMax:        10 * time.Second,
			BackoffMultiplier: 2.0,
			MaxQueuedItems:    1000,
			MaxQueuedBytes:    512 << 20,
			Retention:         time.Hour,
			SweepInterval:     time.Minute,
		},
	}
}

// Model looks up a model by name.
func (t *Tunables) Model(name string) (ModelSpec, bool) {
	for _, m := range t.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// Clone returns a deep copy so writers never touch a published snapshot.
func (t *Tunables) Clone() Tunables {
	out := *t
	out.Models = append([]ModelSpec(nil), t.Models...)
	out.VisionFallbacks = append([]string(nil), t.VisionFallbacks...)
	out.PreprocessSteps = append([]domain.PreprocessStep(nil), t.PreprocessSteps...)
	if t.Strategies != nil {
		out.Strategies = make(map[domain.ContentType][]StrategySpec, len(t.Strategies))
		for ct, specs := range t.Strategies {
			copied := make([]StrategySpec, len(specs))
			for i, spec := range specs {
				spec.Steps = append([]domain.PreprocessStep(nil), spec.Steps...)
				copied[i] = spec
			}
			out.Strategies[ct] = copied
		}
	}
	return out
}

// Validate checks referential integrity and numeric ranges.
func (t *Tunables) Validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, domain.WrapError(domain.ErrInvalidConfig, "validate", fmt.Errorf(format, args...)))
	}

	seen := make(map[string]bool, len(t.Models))
	for _, m := range t.Models {
		switch {
		case m.Name == "":
			add("model with empty name")
			continue
		case seen[m.Name]:
			add("duplicate model %q", m.Name)
		}
		seen[m.Name] = true
		if m.Kind != ModelKindVision && m.Kind != ModelKindOCR {
			add("model %q has unknown kind %q", m.Name, m.Kind)
		}
		if m.Timeout <= 0 {
			add("model %q timeout must be > 0", m.Name)
		}
		if m.ExpectedLatency < 0 {
			add("model %q expected_latency must be >= 0", m.Name)
		}
	}
	for _, m := range t.Models {
		if m.EscalateTo == "" {
			continue
		}
		target, ok := t.Model(m.EscalateTo)
		if !ok {
			add("model %q escalates to unknown model %q", m.Name, m.EscalateTo)
		} else if target.Kind != m.Kind {
			add("model %q escalates to %q of a different kind", m.Name, m.EscalateTo)
		}
	}

	requireModel := func(field, name, kind string) {
		m, ok := t.Model(name)
		if !ok {
			add("%s references unknown model %q", field, name)
			return
		}
		if m.Kind != kind {
			add("%s references %s model %q, want %s", field, m.Kind, name, kind)
		}
	}
	requireModel("default_vision_model", t.DefaultVisionModel, ModelKindVision)
	requireModel("handwriting_model", t.HandwritingModel, ModelKindVision)
	requireModel("ocr_model", t.OCRModel, ModelKindOCR)
	for _, name := range t.VisionFallbacks {
		requireModel("vision_fallbacks", name, ModelKindVision)
	}

	for _, step := range t.PreprocessSteps {
		if !step.Valid() {
			add("unknown preprocess step %q", step)
		}
	}
	for ct, specs := range t.Strategies {
		if !ct.Valid() {
			add("strategies: unknown content type %q", ct)
			continue
		}
		if len(specs) == 0 {
			add("strategies[%s]: empty strategy list", ct)
		}
		for i, spec := range specs {
			if !spec.Method.Valid() {
				add("strategies[%s][%d]: unknown method %q", ct, i, spec.Method)
				continue
			}
			for _, step := range spec.Steps {
				if !step.Valid() {
					add("strategies[%s][%d]: unknown preprocess step %q", ct, i, step)
				}
			}
			if spec.Model == "" {
				continue
			}
			want := ModelKindVision
			if spec.Method == domain.MethodOCR {
				want = ModelKindOCR
			}
			if spec.Method == domain.MethodDirect {
				add("strategies[%s][%d]: DIRECT does not take a model", ct, i)
				continue
			}
			requireModel(fmt.Sprintf("strategies[%s][%d]", ct, i), spec.Model, want)
		}
	}

	if t.DirectTimeout <= 0 {
		add("direct_timeout must be > 0")
	}
	if t.TimeoutMultiplier <= 0 {
		add("timeout_multiplier must be > 0")
	}
	if t.EscalationFactor < 1 {
		add("escalation_factor must be >= 1")
	}

	q := t.Quality
	for name, v := range map[string]float64{
		"quality.text_weight":        q.TextWeight,
		"quality.image_weight":       q.ImageWeight,
		"quality.processing_weight":  q.ProcessingWeight,
		"quality.accept_threshold":   q.AcceptThreshold,
		"quality.escalate_threshold": q.EscalateThreshold,
	} {
		if v < 0 || v > 1 {
			add("%s must be in [0,1], got %v", name, v)
		}
	}
	if sum := q.TextWeight + q.ImageWeight + q.ProcessingWeight; sum <= 0 {
		add("quality weights must not all be zero")
	}
	if q.EscalateThreshold > q.AcceptThreshold {
		add("quality.escalate_threshold %v exceeds accept_threshold %v", q.EscalateThreshold, q.AcceptThreshold)
	}
	if q.ArtifactRunLength < 2 {
		add("quality.artifact_run_length must be >= 2")
	}

	c := t.Classifier
	if c.SamplePages <= 0 {
		add("classifier.sample_pages must be > 0")
	}
	if c.TextDenseChars <= 0 {
		add("classifier.text_dense_chars must be > 0")
	}
	for name, v := range map[string]float64{
		"classifier.text_only_ratio":       c.TextOnlyRatio,
		"classifier.image_only_ratio":      c.ImageOnlyRatio,
		"classifier.scan_coverage":         c.ScanCoverage,
		"classifier.mixed_threshold":       c.MixedThreshold,
		"classifier.table_threshold":       c.TableThreshold,
		"classifier.form_threshold":        c.FormThreshold,
		"classifier.handwriting_threshold": c.HandwritingThreshold,
	} {
		if v < 0 || v > 1 {
			add("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.ImageOnlyRatio >= c.TextOnlyRatio {
		add("classifier.image_only_ratio must be below text_only_ratio")
	}

	s := t.Scheduler
	if s.PoolSize <= 0 {
		add("scheduler.pool_size must be > 0")
	}
	if s.MaxItemAttempts <= 0 {
		add("scheduler.max_item_attempts must be > 0")
	}
	if s.BackoffInitial <= 0 || s.BackoffMax < s.BackoffInitial {
		add("scheduler backoff must satisfy 0 < backoff_initial <= backoff_max")
	}
	if s.BackoffMultiplier < 1 {
		add("scheduler.backoff_multiplier must be >= 1")
	}
	if s.MaxQueuedItems <= 0 {
		add("scheduler.max_queued_items must be > 0")
	}
	if s.MaxQueuedBytes <= 0 {
		add("scheduler.max_queued_bytes must be > 0")
	}
	if s.Retention <= 0 {
		add("scheduler.retention must be > 0")
	}
	if s.SweepInterval <= 0 {
		add("scheduler.sweep_interval must be > 0")
	}

	return errs
}
