package plaintext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parser returns UTF-8 text and Markdown documents as they are, with line
// endings normalised.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Supports(mediaType string) bool {
	return mediaType == domain.MediaTypePlainText || mediaType == domain.MediaTypeMarkdown
}

func (p *Parser) ExtractText(_ context.Context, doc domain.Document) (string, error) {
	raw := bytes.TrimPrefix(doc.Data, utf8BOM)
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrParse, "extract plain text", fmt.Errorf("%s is not valid utf-8", doc.Name))
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrParse, "extract plain text", errors.New("document is empty"))
	}
	return text, nil
}
