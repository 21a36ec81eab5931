package pdfdoc

import (
	"context"
	"log/slog"
	"unicode"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// textNativeCoverage is the mean image coverage below which a PDF with a
// text layer counts as born-digital.
const textNativeCoverage = 0.5

type Inspector struct{}

func NewInspector() *Inspector { return &Inspector{} }

func (i *Inspector) Inspect(ctx context.Context, doc domain.Document, maxPages int) (_ domain.DocumentSample, err error) {
	defer recoverMalformed("inspect pdf", &err)

	r, err := open(doc)
	if err != nil {
		return domain.DocumentSample{}, err
	}

	total := r.NumPage()
	limit := total
	if maxPages > 0 && maxPages < limit {
		limit = maxPages
	}

	sample := domain.DocumentSample{
		PageCount: total,
		Pages:     make([]domain.PageSample, 0, limit),
		Source:    domain.SourceProfile{MediaType: domain.MediaTypePDF},
	}
	var (
		textChars   int
		coverageSum float64
		readable    int
		minDPI      float64
	)
	for n := 1; n <= limit; n++ {
		if err := ctx.Err(); err != nil {
			return domain.DocumentSample{}, err
		}
		ps := domain.PageSample{Index: n - 1}
		pg, err := page(r, n)
		if err != nil {
			slog.Debug("pdf_page_unreadable", "document", doc.Name, "page", n-1, "error", err)
			sample.Pages = append(sample.Pages, ps)
			continue
		}

		scan, err := scanPage(pg)
		if err != nil {
			slog.Debug("pdf_page_unreadable", "document", doc.Name, "page", n-1, "error", err)
			sample.Pages = append(sample.Pages, ps)
			continue
		}
		text, err := plainText(pg)
		if err != nil {
			slog.Debug("pdf_text_layer_unreadable", "document", doc.Name, "page", n-1, "error", err)
		}

		ps.Readable = true
		ps.TextChars = countVisible(text)
		ps.ImageCoverage = scan.coverage()
		ps.HorizontalRules = scan.hRules
		ps.VerticalRules = scan.vRules
		ps.Boxes = scan.boxes
		sample.Pages = append(sample.Pages, ps)

		readable++
		textChars += ps.TextChars
		coverageSum += ps.ImageCoverage
		for _, img := range scan.images {
			if dpi := img.effectiveDPI(); dpi > 0 && (minDPI == 0 || dpi < minDPI) {
				minDPI = dpi
			}
			if isLossy(filters(img.xobj)) {
				sample.Source.Lossy = true
			}
		}
	}

	if readable > 0 {
		sample.Source.TextNative = textChars > 0 && coverageSum/float64(readable) < textNativeCoverage
	}
	sample.Source.EffectiveDPI = minDPI
	return sample, nil
}

func countVisible(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) && unicode.IsPrint(r) {
			n++
		}
	}
	return n
}
