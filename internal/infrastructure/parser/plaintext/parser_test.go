package plaintext

import (
	"context"
	"testing"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "plain", data: "hello\nworld\n", want: "hello\nworld"},
		{name: "crlf", data: "a\r\nb\rc", want: "a\nb\nc"},
		{name: "bom", data: "\xEF\xBB\xBF# Title\n\nbody", want: "# Title\n\nbody"},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ExtractText(context.Background(), domain.NewDocument("doc.txt", "", []byte(tt.data)))
			if err != nil {
				t.Fatalf("ExtractText() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTextRejectsBinaryAndEmpty(t *testing.T) {
	p := New()
	for name, data := range map[string][]byte{
		"binary": {0xff, 0xfe, 0x00, 0x81},
		"blank":  []byte("  \n\t "),
	} {
		doc := domain.Document{Name: name, MediaType: domain.MediaTypePlainText, Data: data}
		if _, err := p.ExtractText(context.Background(), doc); !domain.IsKind(err, domain.ErrParse) {
			t.Fatalf("%s: expected ErrParse, got %v", name, err)
		}
	}
}

func TestSupports(t *testing.T) {
	p := New()
	if !p.Supports(domain.MediaTypePlainText) || !p.Supports(domain.MediaTypeMarkdown) {
		t.Fatalf("expected text and markdown support")
	}
	if p.Supports(domain.MediaTypePDF) {
		t.Fatalf("did not expect pdf support")
	}
}
