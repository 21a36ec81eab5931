package tesseract

import (
	"context"
	"errors"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

// Engine is the traditional OCR oracle. Each call uses its own gosseract
// client; slots bounds how many run at once.
type Engine struct {
	clientFactory   func() *gosseract.Client
	defaultLanguage string
	slots           chan struct{}
}

func New(defaultLanguage string, maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Engine{
		clientFactory:   gosseract.NewClient,
		defaultLanguage: defaultLanguage,
		slots:           make(chan struct{}, maxConcurrent),
	}
}

func (e *Engine) Recognize(ctx context.Context, image []byte, language string) (ports.OCRResult, error) {
	if len(image) == 0 {
		return ports.OCRResult{}, domain.WrapError(domain.ErrOCR, "tesseract recognize", errors.New("empty image"))
	}
	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return ports.OCRResult{}, ctx.Err()
	}
	defer func() { <-e.slots }()

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(image); err != nil {
		return ports.OCRResult{}, domain.WrapError(domain.ErrOCR, "tesseract set image", err)
	}
	if langs := languages(language, e.defaultLanguage); len(langs) > 0 {
		if err := client.SetLanguage(langs...); err != nil {
			return ports.OCRResult{}, domain.WrapError(domain.ErrOCR, "tesseract set language", err)
		}
	}

	text, err := client.Text()
	if err != nil {
		return ports.OCRResult{}, domain.WrapError(domain.ErrOCR, "tesseract recognize", err)
	}
	if err := ctx.Err(); err != nil {
		return ports.OCRResult{}, err
	}
	return ports.OCRResult{
		Text:       strings.TrimSpace(text),
		Confidence: meanWordConfidence(client),
	}, nil
}

// languages splits "eng+deu" style specs into tesseract language codes.
func languages(spec, fallback string) []string {
	if strings.TrimSpace(spec) == "" {
		spec = fallback
	}
	var out []string
	for _, part := range strings.FieldsFunc(spec, func(r rune) bool { return r == '+' || r == ',' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// meanWordConfidence averages word confidences into [0,1].
func meanWordConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
