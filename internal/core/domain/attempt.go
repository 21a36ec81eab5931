package domain

import "time"

type AttemptResult struct {
	StrategyID    string        `json:"strategy_id"`
	Method        Method        `json:"method"`
	ModelRef      string        `json:"model_ref,omitempty"`
	Escalated     bool          `json:"escalated,omitempty"`
	ExtractedText string        `json:"extracted_text"`
	Elapsed       time.Duration `json:"elapsed"`
	RawConfidence float64       `json:"raw_confidence"`
	Err           error         `json:"-"`

	// Filled by the engine so the assessor stays a function of the attempt.
	ExpectedLatency time.Duration `json:"expected_latency"`
	CanEscalate     bool          `json:"can_escalate"`
	Source          SourceProfile `json:"source"`
}

func (a AttemptResult) Failed() bool { return a.Err != nil }

func (a AttemptResult) ErrorMessage() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

type Recommendation string

const (
	RecommendAccept    Recommendation = "ACCEPT"
	RecommendRetryNext Recommendation = "RETRY_NEXT"
	RecommendEscalate  Recommendation = "ESCALATE"
)

type QualityScore struct {
	Overall           float64        `json:"overall"`
	TextQuality       float64        `json:"text_quality"`
	ImageQuality      float64        `json:"image_quality"`
	ProcessingQuality float64        `json:"processing_quality"`
	Recommendation    Recommendation `json:"recommendation"`
}

// Conversion is the outcome of running the strategy chain for one document.
type Conversion struct {
	Text           string               `json:"text"`
	Strategy       string               `json:"strategy"`
	Method         Method               `json:"method"`
	Quality        QualityScore         `json:"quality"`
	Attempts       []AttemptResult      `json:"attempts"`
	Classification ClassificationResult `json:"classification"`
	Accepted       bool                 `json:"accepted"`
}
