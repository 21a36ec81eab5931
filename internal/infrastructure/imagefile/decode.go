// Package imagefile handles single-page raster inputs: sampling for the
// classifier and page images for OCR and vision strategies.
package imagefile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// a4WidthInches is the assumed physical width when estimating resolution;
// raster files rarely carry trustworthy density metadata.
const a4WidthInches = 8.27

// DefaultMaxPixels caps width*height of an image before it is decoded.
const DefaultMaxPixels = 50_000_000

type Options struct {
	// MaxPixels rejects images whose header declares more pixels. Zero
	// means DefaultMaxPixels.
	MaxPixels int
}

func (o Options) maxPixels() int {
	if o.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return o.MaxPixels
}

// decodeConfig reads only the image header and enforces the pixel budget.
func decodeConfig(data []byte, maxPixels int) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", domain.WrapError(domain.ErrUnsupportedInput, "decode image", errors.New("empty document"))
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", domain.WrapError(domain.ErrUnsupportedInput, "decode image", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return image.Config{}, "", domain.WrapError(domain.ErrUnsupportedInput, "decode image",
			fmt.Errorf("%dx%d exceeds pixel budget of %d", cfg.Width, cfg.Height, maxPixels))
	}
	return cfg, format, nil
}

func decode(doc domain.Document, maxPixels int) (image.Image, string, error) {
	if _, _, err := decodeConfig(doc.Data, maxPixels); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(doc.Data))
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrUnsupportedInput, "decode image", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", domain.WrapError(domain.ErrUnsupportedInput, "decode image", errors.New("zero-sized image"))
	}
	return img, format, nil
}

// isLossy reports whether the encoding discards detail. WEBP is lossy only
// for the VP8 bitstream; VP8L is lossless.
func isLossy(format string, data []byte) bool {
	switch format {
	case "jpeg":
		return true
	case "webp":
		return len(data) >= 16 && string(data[12:16]) == "VP8 "
	default:
		return false
	}
}

func estimateDPI(widthPx int) float64 {
	return float64(widthPx) / a4WidthInches
}
