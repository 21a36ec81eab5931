package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`,
	}
	if body != "" {
		files[documentPart] = `<?xml version="1.0" encoding="UTF-8"?><w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`
	}
	for name, content := range files {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func para(text string) string {
	return `<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

func cell(text string) string {
	return `<w:tc>` + para(text) + `</w:tc>`
}

func TestExtractTextKeepsHeadingsParagraphsAndTables(t *testing.T) {
	body := `<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Invoice</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t xml:space="preserve">Billed to </w:t></w:r><w:r><w:t>ACME</w:t></w:r></w:p>` +
		`<w:tbl>` +
		`<w:tr>` + cell("Item") + cell("Qty") + `</w:tr>` +
		`<w:tr>` + cell("Bolts | nuts") + cell("12") + `</w:tr>` +
		`</w:tbl>` +
		para("Thank you")

	doc := domain.NewDocument("invoice.docx", "", buildDOCX(t, body))
	if doc.MediaType != domain.MediaTypeDOCX {
		t.Fatalf("expected docx media type, got %s", doc.MediaType)
	}

	got, err := New().ExtractText(context.Background(), doc)
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	want := "## Invoice\n\n" +
		"Billed to ACME\n\n" +
		"| Item | Qty |\n| --- | --- |\n| Bolts \\| nuts | 12 |\n\n" +
		"Thank you"
	if got != want {
		t.Fatalf("ExtractText() =\n%s\nwant\n%s", got, want)
	}
}

func TestExtractTextErrors(t *testing.T) {
	p := New()
	ctx := context.Background()

	notZip := domain.Document{Name: "x.docx", MediaType: domain.MediaTypeDOCX, Data: []byte("plain bytes")}
	if _, err := p.ExtractText(ctx, notZip); !domain.IsKind(err, domain.ErrUnsupportedInput) {
		t.Fatalf("expected ErrUnsupportedInput, got %v", err)
	}

	noBody := domain.Document{Name: "x.docx", MediaType: domain.MediaTypeDOCX, Data: buildDOCX(t, "")}
	if _, err := p.ExtractText(ctx, noBody); !domain.IsKind(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse for missing document part, got %v", err)
	}

	empty := domain.Document{Name: "x.docx", MediaType: domain.MediaTypeDOCX, Data: buildDOCX(t, `<w:p/>`)}
	if _, err := p.ExtractText(ctx, empty); !domain.IsKind(err, domain.ErrParse) {
		t.Fatalf("expected ErrParse for empty body, got %v", err)
	}
}

func TestHeadingLevel(t *testing.T) {
	cases := map[string]int{"Heading1": 1, "heading 3": 3, "Heading9": 6, "Title": 1, "Normal": 0, "HeadingX": 0}
	for style, want := range cases {
		if got := headingLevel(style); got != want {
			t.Fatalf("headingLevel(%q) = %d, want %d", style, got, want)
		}
	}
}
