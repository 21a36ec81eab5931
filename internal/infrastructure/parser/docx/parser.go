package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

const documentPart = "word/document.xml"

// Parser extracts the body of a Word document as Markdown: headings keep
// their level and tables become pipe tables, in document order.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Supports(mediaType string) bool {
	return mediaType == domain.MediaTypeDOCX
}

func (p *Parser) ExtractText(ctx context.Context, doc domain.Document) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrUnsupportedInput, "open docx", err)
	}

	var part *zip.File
	for _, f := range reader.File {
		if f.Name == documentPart {
			part = f
			break
		}
	}
	if part == nil {
		return "", domain.WrapError(domain.ErrParse, "open docx", fmt.Errorf("%s not found", documentPart))
	}

	rc, err := part.Open()
	if err != nil {
		return "", domain.WrapError(domain.ErrParse, "open docx", err)
	}
	defer rc.Close()

	text, err := render(ctx, rc)
	if err != nil {
		return "", domain.WrapError(domain.ErrParse, "parse docx", err)
	}
	if text == "" {
		return "", domain.WrapError(domain.ErrParse, "parse docx", errors.New("document body is empty"))
	}
	return text, nil
}

type table struct {
	rows [][]string
	row  []string
	cell []string
}

type walker struct {
	blocks  []string
	tables  []*table
	para    strings.Builder
	heading int
	inText  bool
}

// render walks the document part token by token so paragraphs and tables
// keep their relative order.
func render(ctx context.Context, r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	w := &walker{}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t)
		case xml.EndElement:
			w.end(t.Name.Local)
		case xml.CharData:
			if w.inText {
				w.para.Write(t)
			}
		}
	}
	return strings.TrimSpace(strings.Join(w.blocks, "\n\n")), nil
}

func (w *walker) start(el xml.StartElement) {
	switch el.Name.Local {
	case "p":
		w.para.Reset()
		w.heading = 0
	case "pStyle":
		w.heading = headingLevel(attr(el, "val"))
	case "t":
		w.inText = true
	case "tab":
		w.para.WriteByte(' ')
	case "br":
		if len(w.tables) > 0 {
			w.para.WriteByte(' ')
		} else {
			w.para.WriteByte('\n')
		}
	case "tbl":
		w.tables = append(w.tables, &table{})
	case "tr":
		if tbl := w.current(); tbl != nil {
			tbl.row = nil
		}
	case "tc":
		if tbl := w.current(); tbl != nil {
			tbl.cell = nil
		}
	}
}

func (w *walker) end(name string) {
	switch name {
	case "t":
		w.inText = false
	case "p":
		text := strings.TrimSpace(w.para.String())
		w.para.Reset()
		if text == "" {
			return
		}
		if tbl := w.current(); tbl != nil {
			tbl.cell = append(tbl.cell, text)
			return
		}
		if w.heading > 0 {
			text = strings.Repeat("#", w.heading) + " " + text
		}
		w.blocks = append(w.blocks, text)
	case "tc":
		if tbl := w.current(); tbl != nil {
			tbl.row = append(tbl.row, strings.Join(tbl.cell, " "))
			tbl.cell = nil
		}
	case "tr":
		if tbl := w.current(); tbl != nil {
			tbl.rows = append(tbl.rows, tbl.row)
			tbl.row = nil
		}
	case "tbl":
		tbl := w.current()
		if tbl == nil {
			return
		}
		w.tables = w.tables[:len(w.tables)-1]
		rendered := markdownTable(tbl.rows)
		if rendered == "" {
			return
		}
		if outer := w.current(); outer != nil {
			outer.cell = append(outer.cell, flattenRows(tbl.rows))
			return
		}
		w.blocks = append(w.blocks, rendered)
	}
}

func (w *walker) current() *table {
	if len(w.tables) == 0 {
		return nil
	}
	return w.tables[len(w.tables)-1]
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// headingLevel maps "Heading1".."Heading6" and "Title" styles to a Markdown
// heading level, 0 otherwise.
func headingLevel(style string) int {
	if strings.EqualFold(style, "Title") {
		return 1
	}
	lower := strings.ToLower(style)
	if !strings.HasPrefix(lower, "heading") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(lower[len("heading"):]))
	if err != nil || n < 1 {
		return 0
	}
	return min(n, 6)
}

// markdownTable renders rows as a pipe table with the first row as header.
func markdownTable(rows [][]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	if width == 0 {
		return ""
	}

	var b strings.Builder
	line := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "|", `\|`)
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}
	line(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range rows[1:] {
		line(r)
	}
	return strings.TrimRight(b.String(), "\n")
}

func flattenRows(rows [][]string) string {
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		parts = append(parts, strings.Join(r, " "))
	}
	return strings.Join(parts, " ")
}
