package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

type testImage struct {
	w, h int
	gray []byte
}

type testPage struct {
	content string
	image   *testImage
}

// buildPDF writes a minimal uncompressed PDF with a correct xref table.
func buildPDF(pages []testPage) []byte {
	var (
		buf     bytes.Buffer
		offsets []int
	)
	buf.WriteString("%PDF-1.4\n")
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	stream := func(dict string, data []byte) string {
		return fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
	}

	const firstPageObj = 4
	kids := make([]string, 0, len(pages))
	next := firstPageObj
	for _, p := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", next))
		next += 2
		if p.image != nil {
			next++
		}
	}

	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for _, p := range pages {
		self := len(offsets) + 1
		resources := "/Font << /F1 3 0 R >>"
		if p.image != nil {
			resources += fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", self+2)
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << %s >> /Contents %d 0 R >>", resources, self+1))
		obj(stream("", []byte(p.content)))
		if p.image != nil {
			obj(stream(fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8", p.image.w, p.image.h), p.image.gray))
		}
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func textPage(text string) testPage {
	return testPage{content: fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)}
}

func scannedPage(w, h int) testPage {
	gray := bytes.Repeat([]byte{0x80}, w*h)
	return testPage{
		content: "q 612 0 0 792 0 0 cm /Im1 Do Q",
		image:   &testImage{w: w, h: h, gray: gray},
	}
}

func tablePage() testPage {
	var b strings.Builder
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&b, "72 %d m 540 %d l S\n", 700-i*40, 700-i*40)
		fmt.Fprintf(&b, "%d 580 m %d 700 l S\n", 72+i*150, 72+i*150)
	}
	b.WriteString("BT /F1 10 Tf 80 690 Td (Qty Price Total) Tj ET")
	return testPage{content: b.String()}
}

func pdfDocument(pages ...testPage) domain.Document {
	return domain.NewDocument("test.pdf", "", buildPDF(pages))
}

func TestInspectTextPage(t *testing.T) {
	sample, err := NewInspector().Inspect(context.Background(), pdfDocument(textPage("Hello World")), 8)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if sample.PageCount != 1 || len(sample.Pages) != 1 {
		t.Fatalf("unexpected page accounting %+v", sample)
	}
	page := sample.Pages[0]
	if !page.Readable || page.TextChars < len("HelloWorld") || page.ImageCoverage != 0 {
		t.Fatalf("unexpected text page sample %+v", page)
	}
	if !sample.Source.TextNative || sample.Source.MediaType != domain.MediaTypePDF {
		t.Fatalf("expected text-native pdf source, got %+v", sample.Source)
	}
}

func TestInspectScannedPage(t *testing.T) {
	sample, err := NewInspector().Inspect(context.Background(), pdfDocument(scannedPage(85, 110)), 8)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	page := sample.Pages[0]
	if page.ImageCoverage < 0.99 || page.TextChars != 0 {
		t.Fatalf("expected full-page image without text, got %+v", page)
	}
	if sample.Source.TextNative {
		t.Fatalf("scanned page must not be text-native")
	}
	if dpi := sample.Source.EffectiveDPI; dpi < 9 || dpi > 11 {
		t.Fatalf("expected ~10 dpi for 85px across 8.5in, got %v", dpi)
	}
}

func TestInspectCountsRulingLines(t *testing.T) {
	sample, err := NewInspector().Inspect(context.Background(), pdfDocument(tablePage()), 8)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	page := sample.Pages[0]
	if page.HorizontalRules != 4 || page.VerticalRules != 4 {
		t.Fatalf("expected 4x4 rules, got h=%d v=%d", page.HorizontalRules, page.VerticalRules)
	}
}

func TestInspectSamplesBoundedPrefix(t *testing.T) {
	doc := pdfDocument(textPage("one"), textPage("two"), textPage("three"))
	sample, err := NewInspector().Inspect(context.Background(), doc, 2)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if sample.PageCount != 3 || len(sample.Pages) != 2 || sample.Pages[1].Index != 1 {
		t.Fatalf("expected 2 of 3 pages sampled, got %+v", sample)
	}
}

func TestMalformedPDFIsUnsupported(t *testing.T) {
	doc := domain.NewDocument("broken.pdf", "", []byte("%PDF-1.7\nthis is not a pdf body"))
	ctx := context.Background()

	if _, err := NewInspector().Inspect(ctx, doc, 4); !domain.IsKind(err, domain.ErrUnsupportedInput) {
		t.Fatalf("Inspect: expected ErrUnsupportedInput, got %v", err)
	}
	if _, err := NewParser().ExtractText(ctx, doc); !domain.IsKind(err, domain.ErrUnsupportedInput) {
		t.Fatalf("ExtractText: expected ErrUnsupportedInput, got %v", err)
	}
	if _, err := NewRasterizer().Rasterize(ctx, doc); !domain.IsKind(err, domain.ErrUnsupportedInput) {
		t.Fatalf("Rasterize: expected ErrUnsupportedInput, got %v", err)
	}
}

// brokenPageTree points the page tree at an object number that the file
// stores under a different id.
func brokenPageTree() domain.Document {
	data := buildPDF([]testPage{textPage("lost page")})
	data = bytes.Replace(data, []byte("4 0 obj"), []byte("9 9 obj"), 1)
	return domain.NewDocument("broken-tree.pdf", "", data)
}

func TestBrokenPageReferenceDoesNotPanic(t *testing.T) {
	doc := brokenPageTree()
	ctx := context.Background()

	sample, err := NewInspector().Inspect(ctx, doc, 4)
	switch {
	case err != nil && !domain.IsKind(err, domain.ErrUnsupportedInput):
		t.Fatalf("Inspect: expected ErrUnsupportedInput, got %v", err)
	case err == nil:
		for _, page := range sample.Pages {
			if page.Readable {
				t.Fatalf("Inspect: broken page reported readable: %+v", sample)
			}
		}
	}

	_, err = NewParser().ExtractText(ctx, doc)
	if !domain.IsKind(err, domain.ErrParse) && !domain.IsKind(err, domain.ErrUnsupportedInput) {
		t.Fatalf("ExtractText: expected parse or unsupported error, got %v", err)
	}
	if _, err := NewRasterizer().Rasterize(ctx, doc); !domain.IsKind(err, domain.ErrUnsupportedInput) {
		t.Fatalf("Rasterize: expected ErrUnsupportedInput, got %v", err)
	}
}

func TestParserJoinsPagesInOrder(t *testing.T) {
	parser := NewParser()
	if !parser.Supports(domain.MediaTypePDF) || parser.Supports(domain.MediaTypePNG) {
		t.Fatalf("unexpected Supports result")
	}
	text, err := parser.ExtractText(context.Background(), pdfDocument(textPage("Alpha"), scannedPage(4, 4), textPage("Omega")))
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	alpha, omega := strings.Index(text, "Alpha"), strings.Index(text, "Omega")
	if alpha < 0 || omega < 0 || alpha > omega {
		t.Fatalf("expected both pages in order, got %q", text)
	}
}

func TestRasterizeExtractsPageImages(t *testing.T) {
	pages, err := NewRasterizer().Rasterize(context.Background(), pdfDocument(textPage("cover"), scannedPage(16, 20)))
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if len(pages) != 1 || pages[0].Page != 1 || pages[0].Format != "png" {
		t.Fatalf("expected one png for page 1, got %+v", pages)
	}
	img, err := png.Decode(bytes.NewReader(pages[0].Data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 20 {
		t.Fatalf("unexpected image size %v", b)
	}
}

func TestRasterizeTextOnlyPDFHasNoImages(t *testing.T) {
	_, err := NewRasterizer().Rasterize(context.Background(), pdfDocument(textPage("nothing to see")))
	if !domain.IsKind(err, domain.ErrUnsupportedInput) {
		t.Fatalf("expected ErrUnsupportedInput, got %v", err)
	}
}

func TestFindJPEGStreamsMatchesByDimensions(t *testing.T) {
	encode := func(w, h int) []byte {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
			t.Fatalf("encode jpeg: %v", err)
		}
		return buf.Bytes()
	}
	small, large := encode(4, 4), encode(32, 16)
	file := []byte("5 0 obj\n<< /Filter /DCTDecode >>\nstream\n")
	file = append(file, small...)
	file = append(file, []byte("\nendstream\nendobj\n6 0 obj\n<< >>\nstream\r\n")...)
	file = append(file, large...)
	file = append(file, []byte("\r\nendstream\nendobj\n")...)

	streams := findJPEGStreams(file)
	got, ok := streams.take(32, 16)
	if !ok || !bytes.Equal(got, large) {
		t.Fatalf("expected the 32x16 stream")
	}
	if _, ok := streams.take(32, 16); ok {
		t.Fatalf("expected each stream to be handed out once")
	}
	if got, ok := streams.take(4, 4); !ok || !bytes.Equal(got, small) {
		t.Fatalf("expected the 4x4 stream")
	}
}

func TestMatrixConcatenation(t *testing.T) {
	translate := matrix{1, 0, 0, 1, 100, 50}
	scale := matrix{2, 0, 0, 3, 0, 0}
	ctm := scale.mul(translate.mul(identity))

	x, y := ctm.apply(1, 1)
	if x != 102 || y != 53 {
		t.Fatalf("expected scale applied inside translation, got (%v, %v)", x, y)
	}
}
