package imagefile

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

// Rasterizer returns the file itself as the only page. PNG and JPEG pass
// through untouched; other formats are re-encoded as PNG.
type Rasterizer struct {
	maxPixels int
}

func NewRasterizer(opts Options) *Rasterizer { return &Rasterizer{maxPixels: opts.maxPixels()} }

func (r *Rasterizer) Rasterize(ctx context.Context, doc domain.Document) ([]ports.PageImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, format, err := decodeConfig(doc.Data, r.maxPixels)
	if err != nil {
		return nil, err
	}
	if format == "png" || format == "jpeg" {
		return []ports.PageImage{{Data: doc.Data, Format: format, Width: cfg.Width, Height: cfg.Height}}, nil
	}

	img, _, err := decode(doc, r.maxPixels)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("rasterize image: encode png: %w", err)
	}
	b := img.Bounds()
	return []ports.PageImage{{Data: buf.Bytes(), Format: "png", Width: b.Dx(), Height: b.Dy()}}, nil
}
