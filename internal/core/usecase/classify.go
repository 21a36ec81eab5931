package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/kirillkom/doc-converter/internal/config"
	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

const (
	tableMinRules       = 3
	tableRuleSaturation = 12.0
	formBoxSaturation   = 8.0
	defaultConfidence   = 0.3
)

type ContentClassifier struct {
	inspector ports.DocumentInspector
	tunables  TunablesSource
}

func NewContentClassifier(inspector ports.DocumentInspector, tunables TunablesSource) *ContentClassifier {
	return &ContentClassifier{inspector: inspector, tunables: tunables}
}

// Classify samples a bounded prefix of pages and labels the document.
// Undecodable input fails with ErrUnsupportedInput; partially readable input
// is classified over the readable pages with reduced confidence.
func (c *ContentClassifier) Classify(ctx context.Context, doc domain.Document) (domain.ClassificationResult, error) {
	if doc.Size() == 0 {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrUnsupportedInput, "classify", errors.New("empty document"))
	}
	tunables := c.tunables.Snapshot().Classifier

	sample, err := c.inspector.Inspect(ctx, doc, tunables.SamplePages)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ClassificationResult{}, fmt.Errorf("classify: %w", ctxErr)
		}
		if domain.IsKind(err, domain.ErrUnsupportedInput) {
			return domain.ClassificationResult{}, err
		}
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrUnsupportedInput, "classify", err)
	}

	readable := 0
	for _, page := range sample.Pages {
		if page.Readable {
			readable++
		}
	}
	if readable == 0 {
		return domain.ClassificationResult{}, domain.WrapError(
			domain.ErrUnsupportedInput,
			"classify",
			fmt.Errorf("none of %d sampled pages could be decoded", len(sample.Pages)),
		)
	}

	result := classifySample(sample, doc.IsPaginated(), tunables)
	slog.Debug("document_classified",
		"name", doc.Name,
		"media_type", doc.MediaType,
		"content_type", result.ContentType,
		"confidence", result.Confidence,
		"text_ratio", result.Signals.TextRatio,
		"sampled", result.Sampled,
		"unreadable", result.Unreadable,
	)
	return result, nil
}

// classifySample applies the thresholding rule. Every content type gets a
// strength in [0,1] and a threshold; the first type in priority order whose
// strength clears its threshold wins, with confidence
//
//	(0.5 + 0.5*(strength-threshold)/(1-threshold)) * readable/sampled
//
// When nothing clears, the label is MIXED with confidence 0.3*readable/sampled.
//
// Per page, text density is min(1, chars/text_dense_chars) and the text ratio
// is density/(density+image_coverage). Blank pages do not count.
func classifySample(sample domain.DocumentSample, paginated bool, t config.ClassifierTunables) domain.ClassificationResult {
	var (
		counted        int
		readable       int
		ratioSum       float64
		coverageSum    float64
		tableStrength  float64
		formStrength   float64
		strokeStrength float64
	)
	for _, page := range sample.Pages {
		if !page.Readable {
			continue
		}
		readable++

		if page.HorizontalRules >= tableMinRules && page.VerticalRules >= tableMinRules {
			tableStrength = math.Max(tableStrength, math.Min(1, float64(page.HorizontalRules+page.VerticalRules)/tableRuleSaturation))
		}
		formStrength = math.Max(formStrength, math.Min(1, float64(page.Boxes)/formBoxSaturation))
		strokeStrength = math.Max(strokeStrength, clamp01(page.StrokeIrregularity))

		density := math.Min(1, float64(page.TextChars)/float64(t.TextDenseChars))
		coverage := clamp01(page.ImageCoverage)
		if density+coverage == 0 {
			continue
		}
		counted++
		ratioSum += density / (density + coverage)
		coverageSum += coverage
	}

	sampled := len(sample.Pages)
	readability := 0.0
	if sampled > 0 {
		readability = float64(readable) / float64(sampled)
	}

	var ratio, coverage float64
	if counted > 0 {
		ratio = ratioSum / float64(counted)
		coverage = coverageSum / float64(counted)
	}

	result := domain.ClassificationResult{
		ContentType: domain.ContentMixed,
		Confidence:  defaultConfidence * readability,
		Signals: domain.Signals{
			TextRatio:      ratio,
			HasForms:       formStrength >= t.FormThreshold && formStrength > 0,
			HasTables:      tableStrength >= t.TableThreshold && tableStrength > 0,
			HasHandwriting: strokeStrength >= t.HandwritingThreshold && strokeStrength > 0,
		},
		Source:     sample.Source,
		PageCount:  sample.PageCount,
		Sampled:    sampled,
		Unreadable: sampled - readable,
	}
	if counted == 0 {
		return result
	}

	rasterStrength := 1 - ratio
	rasterThreshold := 1 - t.ImageOnlyRatio
	scanned := paginated && coverage >= t.ScanCoverage

	signals := map[domain.ContentType]struct {
		strength  float64
		threshold float64
		present   bool
	}{
		domain.ContentForms:       {formStrength, t.FormThreshold, result.Signals.HasForms},
		domain.ContentTables:      {tableStrength, t.TableThreshold, result.Signals.HasTables},
		domain.ContentHandwritten: {strokeStrength, t.HandwritingThreshold, result.Signals.HasHandwriting},
		domain.ContentScanned:     {rasterStrength, rasterThreshold, scanned},
		domain.ContentMixed:       {1 - math.Abs(ratio-0.5)*2, t.MixedThreshold, true},
		domain.ContentImageOnly:   {rasterStrength, rasterThreshold, !scanned},
		domain.ContentTextOnly:    {ratio, t.TextOnlyRatio, true},
	}
	for _, ct := range domain.ContentTypes {
		sig := signals[ct]
		if !sig.present || sig.strength < sig.threshold {
			continue
		}
		margin := 1.0
		if sig.threshold < 1 {
			margin = (sig.strength - sig.threshold) / (1 - sig.threshold)
		}
		result.ContentType = ct
		result.Confidence = clamp01((0.5 + 0.5*margin) * readability)
		return result
	}
	return result
}
