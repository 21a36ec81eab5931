// Package imaging applies preprocessing steps to page images before they
// are sent to a vision model.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"sort"

	"golang.org/x/image/draw"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

const (
	DefaultMinWidth  = 1700
	DefaultMaxSide   = 3000
	DefaultMaxPixels = 50_000_000
	maxUpscale       = 2.0

	// Contrast stretching clips this fraction of pixels at each end.
	contrastClip = 0.02
)

type Options struct {
	// MinWidth is the width upscale aims for; narrower images are enlarged
	// by at most 2x.
	MinWidth int
	// MaxSide bounds the longer side after downscale.
	MaxSide int
	// MaxPixels rejects page images whose header declares more pixels.
	MaxPixels int
}

type Preprocessor struct {
	minWidth  int
	maxSide   int
	maxPixels int
}

func NewPreprocessor(opts Options) *Preprocessor {
	if opts.MinWidth <= 0 {
		opts.MinWidth = DefaultMinWidth
	}
	if opts.MaxSide <= 0 {
		opts.MaxSide = DefaultMaxSide
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Preprocessor{minWidth: opts.MinWidth, maxSide: opts.MaxSide, maxPixels: opts.MaxPixels}
}

var _ ports.ImagePreprocessor = (*Preprocessor)(nil)

// Apply runs steps in order and returns the result as PNG. Unknown steps
// are rejected before any work is done.
func (p *Preprocessor) Apply(ctx context.Context, page ports.PageImage, steps []domain.PreprocessStep) (ports.PageImage, error) {
	for _, step := range steps {
		if !step.Valid() {
			return ports.PageImage{}, domain.WrapError(domain.ErrInvalidInput, "preprocess", fmt.Errorf("unknown step %q", step))
		}
	}
	if len(steps) == 0 {
		return page, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(page.Data))
	if err != nil {
		return ports.PageImage{}, domain.WrapError(domain.ErrUnsupportedInput, "preprocess", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(p.maxPixels) {
		return ports.PageImage{}, domain.WrapError(domain.ErrUnsupportedInput, "preprocess",
			fmt.Errorf("%dx%d exceeds pixel budget of %d", cfg.Width, cfg.Height, p.maxPixels))
	}
	img, _, err := image.Decode(bytes.NewReader(page.Data))
	if err != nil {
		return ports.PageImage{}, domain.WrapError(domain.ErrUnsupportedInput, "preprocess", err)
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return ports.PageImage{}, err
		}
		switch step {
		case domain.StepGrayscale:
			img = grayscale(img)
		case domain.StepContrast:
			img = stretchContrast(img)
		case domain.StepUpscale:
			img = p.upscale(img)
		case domain.StepDownscale:
			img = p.downscale(img)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ports.PageImage{}, fmt.Errorf("preprocess: encode png: %w", err)
	}
	b := img.Bounds()
	return ports.PageImage{Page: page.Page, Data: buf.Bytes(), Format: "png", Width: b.Dx(), Height: b.Dy()}, nil
}

func grayscale(src image.Image) image.Image {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// stretchContrast maps the clipped luminance range onto 0..255 for every
// channel.
func stretchContrast(src image.Image) image.Image {
	b := src.Bounds()
	lumas := make([]uint8, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			lumas = append(lumas, color.GrayModel.Convert(src.At(x, y)).(color.Gray).Y)
		}
	}
	sort.Slice(lumas, func(i, j int) bool { return lumas[i] < lumas[j] })
	clip := int(float64(len(lumas)) * contrastClip)
	lo, hi := int(lumas[clip]), int(lumas[len(lumas)-1-clip])
	if hi <= lo {
		return src
	}

	var table [256]uint8
	for v := range table {
		scaled := (v - lo) * 255 / (hi - lo)
		table[v] = uint8(max(0, min(255, scaled)))
	}

	if g, ok := src.(*image.Gray); ok {
		out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				out.SetGray(x, y, color.Gray{Y: table[g.GrayAt(b.Min.X+x, b.Min.Y+y).Y]})
			}
		}
		return out
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			out.SetNRGBA(x, y, color.NRGBA{R: table[c.R], G: table[c.G], B: table[c.B], A: c.A})
		}
	}
	return out
}

func (p *Preprocessor) upscale(src image.Image) image.Image {
	w := src.Bounds().Dx()
	if w >= p.minWidth {
		return src
	}
	factor := min(maxUpscale, float64(p.minWidth)/float64(w))
	return resize(src, factor)
}

func (p *Preprocessor) downscale(src image.Image) image.Image {
	b := src.Bounds()
	side := max(b.Dx(), b.Dy())
	if side <= p.maxSide {
		return src
	}
	return resize(src, float64(p.maxSide)/float64(side))
}

func resize(src image.Image, factor float64) image.Image {
	b := src.Bounds()
	w := max(1, int(float64(b.Dx())*factor+0.5))
	h := max(1, int(float64(b.Dy())*factor+0.5))
	rect := image.Rect(0, 0, w, h)

	var dst draw.Image
	if _, ok := src.(*image.Gray); ok {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewNRGBA(rect)
	}
	draw.CatmullRom.Scale(dst, rect, src, b, draw.Src, nil)
	return dst
}
