package pdfdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"slices"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

// Rasterizer returns, per page, the largest embedded image XObject. Pages
// without a decodable image are skipped; vector-only pages are not rendered.
type Rasterizer struct{}

func NewRasterizer() *Rasterizer { return &Rasterizer{} }

func (r *Rasterizer) Rasterize(ctx context.Context, doc domain.Document) (_ []ports.PageImage, err error) {
	defer recoverMalformed("rasterize pdf", &err)

	reader, err := open(doc)
	if err != nil {
		return nil, err
	}

	var (
		out   []ports.PageImage
		jpegs *jpegStreams
	)
	for n := 1; n <= reader.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pg, err := page(reader, n)
		if err != nil {
			slog.Debug("pdf_page_unreadable", "document", doc.Name, "page", n-1, "error", err)
			continue
		}
		scan, err := scanPage(pg)
		if err != nil {
			slog.Debug("pdf_page_unreadable", "document", doc.Name, "page", n-1, "error", err)
			continue
		}
		placed, ok := scan.largestImage()
		if !ok {
			continue
		}

		fs := filters(placed.xobj)
		if slices.Contains(fs, "DCTDecode") && jpegs == nil {
			jpegs = findJPEGStreams(doc.Data)
		}
		img, err := extractImage(placed, fs, jpegs)
		if err != nil {
			slog.Debug("pdf_image_skipped", "document", doc.Name, "page", n-1, "image", placed.name, "error", err)
			continue
		}
		img.Page = n - 1
		out = append(out, img)
	}

	if len(out) == 0 {
		return nil, domain.WrapError(domain.ErrUnsupportedInput, "rasterize pdf", errors.New("no page carries a decodable image"))
	}
	return out, nil
}

func extractImage(placed placedImage, fs []string, jpegs *jpegStreams) (ports.PageImage, error) {
	for _, f := range fs {
		switch f {
		case "DCTDecode":
			data, ok := jpegs.take(placed.pixelW, placed.pixelH)
			if !ok {
				return ports.PageImage{}, errors.New("jpeg stream not located")
			}
			return ports.PageImage{Data: data, Format: "jpeg", Width: placed.pixelW, Height: placed.pixelH}, nil
		case "JPXDecode", "CCITTFaxDecode", "JBIG2Decode":
			return ports.PageImage{}, fmt.Errorf("unsupported image filter %s", f)
		}
	}

	raw, err := readStream(placed.xobj)
	if err != nil {
		return ports.PageImage{}, err
	}
	img, err := samplesToImage(raw, placed.pixelW, placed.pixelH, int(placed.xobj.Key("BitsPerComponent").Int64()), placed.xobj.Key("ColorSpace"))
	if err != nil {
		return ports.PageImage{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ports.PageImage{}, fmt.Errorf("encode png: %w", err)
	}
	return ports.PageImage{Data: buf.Bytes(), Format: "png", Width: placed.pixelW, Height: placed.pixelH}, nil
}

func readStream(v pdf.Value) (data []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			data, err = nil, fmt.Errorf("decode image stream: %v", rec)
		}
	}()
	rc := v.Reader()
	defer rc.Close()
	return io.ReadAll(rc)
}

// samplesToImage builds an image from decoded PDF image samples.
func samplesToImage(data []byte, w, h, bpc int, colorSpace pdf.Value) (image.Image, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", w, h)
	}
	rect := image.Rect(0, 0, w, h)

	if colorSpace.Kind() == pdf.Array && colorSpace.Index(0).Name() == "Indexed" {
		return indexedImage(data, w, h, colorSpace)
	}

	if bpc == 1 {
		stride := (w + 7) / 8
		if len(data) < stride*h {
			return nil, fmt.Errorf("short 1-bit image: %d bytes for %dx%d", len(data), w, h)
		}
		gray := image.NewGray(rect)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if data[y*stride+x/8]&(0x80>>(x%8)) != 0 {
					gray.Pix[y*gray.Stride+x] = 0xff
				}
			}
		}
		return gray, nil
	}

	switch components(colorSpace, len(data), w*h) {
	case 1:
		return &image.Gray{Pix: data[:w*h], Stride: w, Rect: rect}, nil
	case 3:
		rgba := image.NewNRGBA(rect)
		for i := 0; i < w*h; i++ {
			rgba.Pix[i*4] = data[i*3]
			rgba.Pix[i*4+1] = data[i*3+1]
			rgba.Pix[i*4+2] = data[i*3+2]
			rgba.Pix[i*4+3] = 0xff
		}
		return rgba, nil
	case 4:
		return &image.CMYK{Pix: data[:w*h*4], Stride: w * 4, Rect: rect}, nil
	default:
		return nil, fmt.Errorf("unsupported image layout: %d bytes for %dx%d", len(data), w, h)
	}
}

// components resolves samples per pixel from the colour space, falling back
// to the decoded data length.
func components(colorSpace pdf.Value, size, pixels int) int {
	name := colorSpace.Name()
	if colorSpace.Kind() == pdf.Array {
		name = colorSpace.Index(0).Name()
		if name == "ICCBased" {
			if n := int(colorSpace.Index(1).Key("N").Int64()); n > 0 && size >= n*pixels {
				return n
			}
		}
	}
	switch name {
	case "DeviceGray", "CalGray":
		if size >= pixels {
			return 1
		}
	case "DeviceRGB", "CalRGB":
		if size >= 3*pixels {
			return 3
		}
	case "DeviceCMYK":
		if size >= 4*pixels {
			return 4
		}
	}
	switch {
	case pixels > 0 && size == 4*pixels:
		return 4
	case pixels > 0 && size == 3*pixels:
		return 3
	case pixels > 0 && size == pixels:
		return 1
	default:
		return 0
	}
}

// indexedImage expands an 8-bit palette image with an RGB or gray base.
func indexedImage(data []byte, w, h int, colorSpace pdf.Value) (image.Image, error) {
	if colorSpace.Len() < 4 {
		return nil, errors.New("malformed indexed colour space")
	}
	base := components(colorSpace.Index(1), 3, 1)
	if base != 1 && base != 3 {
		base = 3
	}
	lookup := colorSpace.Index(3)
	var table []byte
	if lookup.Kind() == pdf.Stream {
		var err error
		if table, err = readStream(lookup); err != nil {
			return nil, err
		}
	} else {
		table = []byte(lookup.RawString())
	}
	if len(data) < w*h {
		return nil, fmt.Errorf("short indexed image: %d bytes for %dx%d", len(data), w, h)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		off := int(data[i]) * base
		if off+base > len(table) {
			continue
		}
		c := color.NRGBA{A: 0xff}
		if base == 1 {
			c.R, c.G, c.B = table[off], table[off], table[off]
		} else {
			c.R, c.G, c.B = table[off], table[off+1], table[off+2]
		}
		out.SetNRGBA(i%w, i/w, c)
	}
	return out, nil
}

// jpegStreams holds DCT-encoded streams located directly in the file bytes.
// The pdf reader cannot return undecoded stream data, so JPEG XObjects are
// matched to these by pixel dimensions in file order.
type jpegStreams struct {
	streams []jpegStream
}

type jpegStream struct {
	data []byte
	w, h int
	used bool
}

func findJPEGStreams(file []byte) *jpegStreams {
	out := &jpegStreams{}
	rest := file
	for {
		idx := bytes.Index(rest, []byte("stream"))
		if idx < 0 {
			return out
		}
		body := rest[idx+len("stream"):]
		body = bytes.TrimLeft(body, "\r\n")
		end := bytes.Index(body, []byte("endstream"))
		if end < 0 {
			return out
		}
		data := bytes.TrimRight(body[:end], "\r\n")
		if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
			if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
				out.streams = append(out.streams, jpegStream{data: data, w: cfg.Width, h: cfg.Height})
			}
		}
		rest = body[end+len("endstream"):]
	}
}

func (j *jpegStreams) take(w, h int) ([]byte, bool) {
	if j == nil {
		return nil, false
	}
	for i := range j.streams {
		s := &j.streams[i]
		if !s.used && s.w == w && s.h == h {
			s.used = true
			return s.data, true
		}
	}
	return nil, false
}
