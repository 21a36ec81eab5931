package xlsx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// Parser renders every non-empty worksheet as a Markdown section holding a
// pipe table; the first row is the header.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Supports(mediaType string) bool {
	return mediaType == domain.MediaTypeXLSX
}

func (p *Parser) ExtractText(ctx context.Context, doc domain.Document) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(doc.Data))
	if err != nil {
		return "", domain.WrapError(domain.ErrUnsupportedInput, "open xlsx", err)
	}
	defer f.Close()

	var sections []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", domain.WrapError(domain.ErrParse, "read xlsx", fmt.Errorf("sheet %q: %w", sheet, err))
		}
		table := markdownTable(rows)
		if table == "" {
			continue
		}
		sections = append(sections, "## "+sheet+"\n\n"+table)
	}
	if len(sections) == 0 {
		return "", domain.WrapError(domain.ErrParse, "read xlsx", errors.New("workbook has no data"))
	}
	return strings.Join(sections, "\n\n"), nil
}

func markdownTable(rows [][]string) string {
	rows = trimEmptyRows(rows)
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	if width == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			v := ""
			if i < len(cells) {
				v = strings.ReplaceAll(strings.TrimSpace(cells[i]), "|", `\|`)
				v = strings.ReplaceAll(v, "\n", " ")
			}
			b.WriteString(" " + v + " |")
		}
		b.WriteString("\n")
	}
	writeRow(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return strings.TrimRight(b.String(), "\n")
}

func trimEmptyRows(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, r := range rows {
		for _, c := range r {
			if strings.TrimSpace(c) != "" {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
