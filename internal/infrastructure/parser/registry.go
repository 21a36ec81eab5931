// Package parser dispatches DIRECT extraction to the format parser that
// handles a document's media type.
package parser

import (
	"context"
	"fmt"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

var _ ports.FormatParser = (*Registry)(nil)

// Registry tries parsers in registration order; the first one that
// supports the media type handles the document.
type Registry struct {
	parsers []ports.FormatParser
}

func NewRegistry(parsers ...ports.FormatParser) *Registry {
	return &Registry{parsers: parsers}
}

func (r *Registry) Supports(mediaType string) bool {
	return r.lookup(mediaType) != nil
}

func (r *Registry) ExtractText(ctx context.Context, doc domain.Document) (string, error) {
	p := r.lookup(doc.MediaType)
	if p == nil {
		return "", domain.WrapError(domain.ErrUnsupportedInput, "extract text", fmt.Errorf("no parser for %s", doc.MediaType))
	}
	return p.ExtractText(ctx, doc)
}

func (r *Registry) lookup(mediaType string) ports.FormatParser {
	for _, p := range r.parsers {
		if p.Supports(mediaType) {
			return p
		}
	}
	return nil
}
