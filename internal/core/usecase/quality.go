package usecase

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/doc-converter/internal/config"
	"github.com/kirillkom/doc-converter/internal/core/domain"
)

const (
	referenceDPI     = 300.0
	unknownDPIScore  = 0.5
	lossyImageFactor = 0.85
)

type QualityAssessor struct {
	tunables TunablesSource
}

func NewQualityAssessor(tunables TunablesSource) *QualityAssessor {
	return &QualityAssessor{tunables: tunables}
}

// Assess scores one attempt against the current quality tunables.
func (a *QualityAssessor) Assess(attempt domain.AttemptResult) domain.QualityScore {
	return assessAttempt(attempt, a.tunables.Snapshot().Quality)
}

// assessAttempt is deterministic for identical inputs:
//
//	overall = (wt*text + wi*image + wp*processing) / (wt + wi + wp)
//
// forced to 0 when the attempt errored or produced no text.
func assessAttempt(attempt domain.AttemptResult, q config.QualityTunables) domain.QualityScore {
	score := domain.QualityScore{
		TextQuality:       textQuality(attempt.ExtractedText, q.ArtifactRunLength, q.MinTextChars),
		ImageQuality:      sourceQuality(attempt.Source),
		ProcessingQuality: processingQuality(attempt),
	}

	weights := q.TextWeight + q.ImageWeight + q.ProcessingWeight
	if weights > 0 && !attempt.Failed() && strings.TrimSpace(attempt.ExtractedText) != "" {
		score.Overall = clamp01((q.TextWeight*score.TextQuality +
			q.ImageWeight*score.ImageQuality +
			q.ProcessingWeight*score.ProcessingQuality) / weights)
	}

	switch {
	case score.Overall >= q.AcceptThreshold:
		score.Recommendation = domain.RecommendAccept
	case score.Overall > q.EscalateThreshold:
		score.Recommendation = domain.RecommendRetryNext
	case attempt.CanEscalate:
		score.Recommendation = domain.RecommendEscalate
	default:
		score.Recommendation = domain.RecommendRetryNext
	}
	return score
}

// textQuality is the printable-rune ratio reduced by the share of runes
// sitting in artifact runs, scaled down further for very short output.
func textQuality(text string, runLength, minChars int) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	var (
		total     int
		printable int
		visible   int
		artifacts int
		run       int
		prev      rune = -1
	)
	flushRun := func() {
		if run >= runLength {
			artifacts += run
		}
	}
	for _, r := range text {
		total++
		if r != utf8.RuneError && (unicode.IsPrint(r) || unicode.IsSpace(r)) {
			printable++
		}
		if !unicode.IsSpace(r) {
			visible++
		}

		if isArtifactRune(r) && r == prev {
			run++
			continue
		}
		flushRun()
		run = 0
		if isArtifactRune(r) {
			run = 1
		}
		prev = r
	}
	flushRun()

	quality := float64(printable) / float64(total) * (1 - float64(artifacts)/float64(total))
	if minChars > 0 && visible < minChars {
		quality *= float64(visible) / float64(minChars)
	}
	return clamp01(quality)
}

func isArtifactRune(r rune) bool {
	if r == utf8.RuneError {
		return true
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}

// sourceQuality rates the input itself, independent of the attempt. Native
// text sources score 1; raster sources are rated by effective resolution.
func sourceQuality(src domain.SourceProfile) float64 {
	if src.TextNative {
		return 1
	}
	score := unknownDPIScore
	if src.EffectiveDPI > 0 {
		score = clamp01(src.EffectiveDPI / referenceDPI)
	}
	if src.Lossy {
		score *= lossyImageFactor
	}
	return score
}

func processingQuality(attempt domain.AttemptResult) float64 {
	if attempt.Failed() {
		return 0
	}
	if attempt.ExpectedLatency <= 0 || attempt.Elapsed <= attempt.ExpectedLatency {
		return 1
	}
	return clamp01(float64(attempt.ExpectedLatency) / float64(attempt.Elapsed))
}
