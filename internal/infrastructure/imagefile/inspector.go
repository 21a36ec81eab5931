package imagefile

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

const (
	analysisMaxSide = 2000
	inkLuminance    = 128

	hRuleMinFraction = 0.3
	vRuleMinFraction = 0.08
	ruleMinPixels    = 10

	minStrokeSamples = 200
	// Stroke width variation below strokeCVFloor reads as machine print;
	// strokeCVFloor+strokeCVSpan and above reads as fully irregular.
	strokeCVFloor = 0.35
	strokeCVSpan  = 0.65
)

// Inspector samples a raster file as a single fully-covered page. It does
// not run OCR, so TextChars is always zero.
type Inspector struct {
	maxPixels int
}

func NewInspector(opts Options) *Inspector { return &Inspector{maxPixels: opts.maxPixels()} }

func (i *Inspector) Inspect(ctx context.Context, doc domain.Document, _ int) (domain.DocumentSample, error) {
	img, format, err := decode(doc, i.maxPixels)
	if err != nil {
		return domain.DocumentSample{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.DocumentSample{}, err
	}

	ink := newInkMap(img)
	hRules, vRules := ink.rules()
	page := domain.PageSample{
		Index:              0,
		Readable:           true,
		ImageCoverage:      1,
		HorizontalRules:    hRules,
		VerticalRules:      vRules,
		StrokeIrregularity: ink.strokeIrregularity(),
	}

	return domain.DocumentSample{
		PageCount: 1,
		Pages:     []domain.PageSample{page},
		Source: domain.SourceProfile{
			MediaType:    doc.MediaType,
			EffectiveDPI: estimateDPI(img.Bounds().Dx()),
			Lossy:        isLossy(format, doc.Data),
		},
	}, nil
}

// inkMap is a thresholded, possibly subsampled view of the image.
type inkMap struct {
	w, h int
	ink  []bool
}

func newInkMap(img image.Image) *inkMap {
	b := img.Bounds()
	step := 1
	if side := max(b.Dx(), b.Dy()); side > analysisMaxSide {
		step = (side + analysisMaxSide - 1) / analysisMaxSide
	}
	m := &inkMap{w: (b.Dx() + step - 1) / step, h: (b.Dy() + step - 1) / step}
	m.ink = make([]bool, m.w*m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x*step, b.Min.Y+y*step)).(color.Gray)
			m.ink[y*m.w+x] = g.Y < inkLuminance
		}
	}
	return m
}

func (m *inkMap) at(x, y int) bool { return m.ink[y*m.w+x] }

// rules counts long horizontal and vertical ink runs. Adjacent qualifying
// rows (or columns) merge into one rule.
func (m *inkMap) rules() (int, int) {
	hMin := max(ruleMinPixels, int(float64(m.w)*hRuleMinFraction))
	vMin := max(ruleMinPixels, int(float64(m.h)*vRuleMinFraction))

	h, prev := 0, false
	for y := 0; y < m.h; y++ {
		hit := longestRun(m.w, func(x int) bool { return m.at(x, y) }) >= hMin
		if hit && !prev {
			h++
		}
		prev = hit
	}

	v := 0
	prev = false
	for x := 0; x < m.w; x++ {
		hit := longestRun(m.h, func(y int) bool { return m.at(x, y) }) >= vMin
		if hit && !prev {
			v++
		}
		prev = hit
	}
	return h, v
}

func longestRun(n int, ink func(int) bool) int {
	best, run := 0, 0
	for i := 0; i < n; i++ {
		if ink(i) {
			run++
			best = max(best, run)
		} else {
			run = 0
		}
	}
	return best
}

// strokeIrregularity estimates per-pixel stroke width as the shorter of the
// horizontal and vertical runs through it and maps the coefficient of
// variation of those widths to [0,1].
func (m *inkMap) strokeIrregularity() float64 {
	hRun := make([]int, len(m.ink))
	vRun := make([]int, len(m.ink))
	for y := 0; y < m.h; y++ {
		fillRuns(m.w, func(x int) int { return y*m.w + x }, m.ink, hRun)
	}
	for x := 0; x < m.w; x++ {
		fillRuns(m.h, func(y int) int { return y*m.w + x }, m.ink, vRun)
	}

	var n, sum, sumSq float64
	for i, isInk := range m.ink {
		if !isInk {
			continue
		}
		width := float64(min(hRun[i], vRun[i]))
		n++
		sum += width
		sumSq += width * width
	}
	if n < minStrokeSamples {
		return 0
	}
	mean := sum / n
	variance := math.Max(0, sumSq/n-mean*mean)
	cv := math.Sqrt(variance) / mean
	return math.Max(0, math.Min(1, (cv-strokeCVFloor)/strokeCVSpan))
}

// fillRuns writes, for every ink cell on one line, the length of the run it
// belongs to.
func fillRuns(n int, index func(int) int, ink []bool, out []int) {
	start := -1
	for i := 0; i <= n; i++ {
		if i < n && ink[index(i)] {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			for j := start; j < i; j++ {
				out[index(j)] = i - start
			}
			start = -1
		}
	}
}
