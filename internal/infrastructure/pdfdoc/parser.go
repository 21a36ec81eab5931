package pdfdoc

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// Parser extracts the embedded text layer page by page.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Supports(mediaType string) bool {
	return mediaType == domain.MediaTypePDF
}

func (p *Parser) ExtractText(ctx context.Context, doc domain.Document) (_ string, err error) {
	defer recoverMalformed("pdf extract text", &err)

	r, err := open(doc)
	if err != nil {
		return "", err
	}

	var (
		pages  []string
		failed int
	)
	for n := 1; n <= r.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pg, err := page(r, n)
		if err != nil {
			failed++
			slog.Debug("pdf_page_unreadable", "document", doc.Name, "page", n-1, "error", err)
			continue
		}
		text, err := plainText(pg)
		if err != nil {
			failed++
			slog.Debug("pdf_text_layer_unreadable", "document", doc.Name, "page", n-1, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	if failed == r.NumPage() {
		return "", domain.WrapError(domain.ErrParse, "pdf extract text", errors.New("no page text could be decoded"))
	}
	return strings.Join(pages, "\n\n"), nil
}
