// Package pdfdoc reads PDF documents with github.com/ledongthuc/pdf: page
// sampling for classification, embedded text for DIRECT extraction and
// embedded page images for OCR and vision strategies.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// The pdf package panics on malformed input; every entry point recovers and
// reports domain.ErrUnsupportedInput or an unreadable page instead.

func open(doc domain.Document) (r *pdf.Reader, err error) {
	if len(doc.Data) == 0 {
		return nil, domain.WrapError(domain.ErrUnsupportedInput, "open pdf", errors.New("empty document"))
	}
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, domain.WrapError(domain.ErrUnsupportedInput, "open pdf", fmt.Errorf("malformed pdf: %v", rec))
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnsupportedInput, "open pdf", err)
	}
	if r.NumPage() == 0 {
		return nil, domain.WrapError(domain.ErrUnsupportedInput, "open pdf", errors.New("document has no pages"))
	}
	return r, nil
}

// page resolves page n (1-based). Broken page tree references panic inside
// the pdf package.
func page(r *pdf.Reader, n int) (p pdf.Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = pdf.Page{}, fmt.Errorf("resolve page %d: %v", n, rec)
		}
	}()
	return r.Page(n), nil
}

// recoverMalformed turns a panic escaping an entry point into
// ErrUnsupportedInput. Deferred by Inspect, ExtractText and Rasterize.
func recoverMalformed(op string, err *error) {
	if rec := recover(); rec != nil {
		*err = domain.WrapError(domain.ErrUnsupportedInput, op, fmt.Errorf("malformed pdf: %v", rec))
	}
}

// Thresholds in PDF points (1/72 inch).
const (
	ruleMaxThickness = 2.0
	hRuleMinLength   = 36.0
	vRuleMinLength   = 12.0
	boxMinWidth      = 20.0
	boxMaxWidth      = 300.0
	boxMinHeight     = 8.0
	boxMaxHeight     = 40.0
	defaultPageSide  = 612.0
)

type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m x n in the row-vector convention PDF uses, so "cm" updates
// the CTM as operand.mul(ctm).
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

type placedImage struct {
	name   string
	xobj   pdf.Value
	pixelW int
	pixelH int
	width  float64
	height float64
	area   float64
}

func (p placedImage) effectiveDPI() float64 {
	if p.width <= 0 || p.pixelW <= 0 {
		return 0
	}
	return float64(p.pixelW) / (p.width / 72.0)
}

type pageScan struct {
	width, height float64
	images        []placedImage
	hRules        int
	vRules        int
	boxes         int
}

func (s *pageScan) coverage() float64 {
	pageArea := s.width * s.height
	if pageArea <= 0 {
		return 0
	}
	var covered float64
	for _, img := range s.images {
		covered += img.area
	}
	return math.Min(1, covered/pageArea)
}

// largestImage returns the image covering the most page area.
func (s *pageScan) largestImage() (placedImage, bool) {
	var (
		best  placedImage
		found bool
	)
	for _, img := range s.images {
		if !found || img.area > best.area {
			best, found = img, true
		}
	}
	return best, found
}

func (s *pageScan) addRect(ctm matrix, x, y, w, h float64) {
	x1, y1 := ctm.apply(x, y)
	x2, y2 := ctm.apply(x+w, y+h)
	width, height := math.Abs(x2-x1), math.Abs(y2-y1)
	switch {
	case height <= ruleMaxThickness && width >= hRuleMinLength:
		s.hRules++
	case width <= ruleMaxThickness && height >= vRuleMinLength:
		s.vRules++
	case width >= boxMinWidth && width <= boxMaxWidth && height >= boxMinHeight && height <= boxMaxHeight:
		s.boxes++
	}
}

func (s *pageScan) addLine(x1, y1, x2, y2 float64) {
	dx, dy := math.Abs(x2-x1), math.Abs(y2-y1)
	switch {
	case dy <= 1 && dx >= hRuleMinLength:
		s.hRules++
	case dx <= 1 && dy >= vRuleMinLength:
		s.vRules++
	}
}

func (s *pageScan) addImage(ctm matrix, name string, xobj pdf.Value) {
	w := math.Hypot(ctm[0], ctm[1])
	h := math.Hypot(ctm[2], ctm[3])
	s.images = append(s.images, placedImage{
		name:   name,
		xobj:   xobj,
		pixelW: int(xobj.Key("Width").Int64()),
		pixelH: int(xobj.Key("Height").Int64()),
		width:  w,
		height: h,
		area:   math.Abs(ctm[0]*ctm[3] - ctm[1]*ctm[2]),
	})
}

// scanPage interprets the page content stream, tracking the CTM to find
// placed image XObjects, ruling lines and small boxes.
func scanPage(page pdf.Page) (scan pageScan, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("interpret page: %v", rec)
		}
	}()
	if page.V.IsNull() {
		return pageScan{}, errors.New("page object missing")
	}
	scan.width, scan.height = mediaBox(page)

	xobjects := page.Resources().Key("XObject")
	ctm := identity
	var (
		saved  []matrix
		cx, cy float64
	)
	do := func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		switch op {
		case "q":
			saved = append(saved, ctm)
		case "Q":
			if len(saved) > 0 {
				ctm = saved[len(saved)-1]
				saved = saved[:len(saved)-1]
			}
		case "cm":
			if n == 6 {
				var m matrix
				for i := range m {
					m[i] = args[i].Float64()
				}
				ctm = m.mul(ctm)
			}
		case "re":
			if n == 4 {
				scan.addRect(ctm, args[0].Float64(), args[1].Float64(), args[2].Float64(), args[3].Float64())
			}
		case "m":
			if n == 2 {
				cx, cy = ctm.apply(args[0].Float64(), args[1].Float64())
			}
		case "l":
			if n == 2 {
				x, y := ctm.apply(args[0].Float64(), args[1].Float64())
				scan.addLine(cx, cy, x, y)
				cx, cy = x, y
			}
		case "Do":
			if n == 1 {
				name := args[0].Name()
				xobj := xobjects.Key(name)
				if xobj.Key("Subtype").Name() == "Image" {
					scan.addImage(ctm, name, xobj)
				}
			}
		}
	}

	contents := page.V.Key("Contents")
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			pdf.Interpret(contents.Index(i), do)
		}
	} else {
		pdf.Interpret(contents, do)
	}
	return scan, nil
}

// mediaBox walks up the page tree since MediaBox is inheritable.
func mediaBox(page pdf.Page) (float64, float64) {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
			h := math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
			if w > 0 && h > 0 {
				return w, h
			}
		}
	}
	return defaultPageSide, defaultPageSide * 11 / 8.5
}

// plainText returns the page's embedded text, or "" when it cannot be decoded.
func plainText(page pdf.Page) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("decode page text: %v", rec)
		}
	}()
	return page.GetPlainText(nil)
}

func filters(v pdf.Value) []string {
	f := v.Key("Filter")
	switch f.Kind() {
	case pdf.Name:
		return []string{f.Name()}
	case pdf.Array:
		out := make([]string, 0, f.Len())
		for i := 0; i < f.Len(); i++ {
			out = append(out, f.Index(i).Name())
		}
		return out
	default:
		return nil
	}
}

func isLossy(filterNames []string) bool {
	for _, f := range filterNames {
		if f == "DCTDecode" || f == "JPXDecode" {
			return true
		}
	}
	return false
}
