// Package inspect routes page sampling and rasterization to the adapter
// that understands a document's container format.
package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"unicode"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

var (
	_ ports.DocumentInspector = (*Inspector)(nil)
	_ ports.PageRasterizer    = (*Rasterizer)(nil)
)

// Inspector samples PDFs and raster images through their own inspectors.
// Other formats the text parser understands become a single text page.
type Inspector struct {
	pdf   ports.DocumentInspector
	image ports.DocumentInspector
	text  ports.FormatParser
}

func NewInspector(pdf, image ports.DocumentInspector, text ports.FormatParser) *Inspector {
	return &Inspector{pdf: pdf, image: image, text: text}
}

func (i *Inspector) Inspect(ctx context.Context, doc domain.Document, maxPages int) (domain.DocumentSample, error) {
	switch {
	case doc.MediaType == domain.MediaTypePDF:
		return i.pdf.Inspect(ctx, doc, maxPages)
	case doc.IsImage():
		return i.image.Inspect(ctx, doc, maxPages)
	case i.text != nil && i.text.Supports(doc.MediaType):
		return i.textSample(ctx, doc)
	default:
		return domain.DocumentSample{}, domain.WrapError(domain.ErrUnsupportedInput, "inspect", fmt.Errorf("unsupported media type %s", doc.MediaType))
	}
}

func (i *Inspector) textSample(ctx context.Context, doc domain.Document) (domain.DocumentSample, error) {
	sample := domain.DocumentSample{
		PageCount: 1,
		Source:    domain.SourceProfile{MediaType: doc.MediaType, TextNative: true},
	}
	text, err := i.text.ExtractText(ctx, doc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.DocumentSample{}, ctxErr
		}
		slog.Debug("text_sample_unreadable", "document", doc.Name, "media_type", doc.MediaType, "error", err)
		sample.Pages = []domain.PageSample{{Index: 0}}
		return sample, nil
	}
	sample.Pages = []domain.PageSample{{Index: 0, Readable: true, TextChars: visibleChars(text)}}
	return sample, nil
}

func visibleChars(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) && unicode.IsPrint(r) {
			n++
		}
	}
	return n
}

// Rasterizer produces page images for PDFs and raster images. Text formats
// have no pages to render.
type Rasterizer struct {
	pdf   ports.PageRasterizer
	image ports.PageRasterizer
}

func NewRasterizer(pdf, image ports.PageRasterizer) *Rasterizer {
	return &Rasterizer{pdf: pdf, image: image}
}

func (r *Rasterizer) Rasterize(ctx context.Context, doc domain.Document) ([]ports.PageImage, error) {
	switch {
	case doc.MediaType == domain.MediaTypePDF:
		return r.pdf.Rasterize(ctx, doc)
	case doc.IsImage():
		return r.image.Rasterize(ctx, doc)
	default:
		return nil, domain.WrapError(domain.ErrUnsupportedInput, "rasterize", fmt.Errorf("no page images for %s", doc.MediaType))
	}
}
