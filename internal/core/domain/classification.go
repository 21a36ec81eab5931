package domain

type ContentType string

const (
	ContentTextOnly    ContentType = "TEXT_ONLY"
	ContentImageOnly   ContentType = "IMAGE_ONLY"
	ContentScanned     ContentType = "SCANNED"
	ContentMixed       ContentType = "MIXED"
	ContentForms       ContentType = "FORMS"
	ContentTables      ContentType = "TABLES"
	ContentHandwritten ContentType = "HANDWRITTEN"
)

// ContentTypes lists every content type in tie-break priority order.
var ContentTypes = []ContentType{
	ContentForms,
	ContentTables,
	ContentHandwritten,
	ContentScanned,
	ContentMixed,
	ContentImageOnly,
	ContentTextOnly,
}

func (c ContentType) Valid() bool {
	for _, known := range ContentTypes {
		if c == known {
			return true
		}
	}
	return false
}

type Signals struct {
	TextRatio      float64 `json:"text_ratio"`
	HasForms       bool    `json:"has_forms"`
	HasTables      bool    `json:"has_tables"`
	HasHandwriting bool    `json:"has_handwriting"`
}

type ClassificationResult struct {
	ContentType ContentType   `json:"content_type"`
	Confidence  float64       `json:"confidence"`
	Signals     Signals       `json:"signals"`
	Source      SourceProfile `json:"source"`
	PageCount   int           `json:"page_count"`
	Sampled     int           `json:"sampled"`
	Unreadable  int           `json:"unreadable"`
}

// SourceProfile describes the intrinsic quality of the input, independent of
// any extraction attempt.
type SourceProfile struct {
	MediaType  string `json:"media_type"`
	TextNative bool   `json:"text_native"`

	// EffectiveDPI is the estimated raster resolution; zero when unknown.
	EffectiveDPI float64 `json:"effective_dpi"`
	Lossy        bool    `json:"lossy"`
}

// PageSample is what an inspector reports about one sampled page.
type PageSample struct {
	Index    int  `json:"index"`
	Readable bool `json:"readable"`

	TextChars     int     `json:"text_chars"`
	ImageCoverage float64 `json:"image_coverage"`

	HorizontalRules int `json:"horizontal_rules"`
	VerticalRules   int `json:"vertical_rules"`
	Boxes           int `json:"boxes"`

	// StrokeIrregularity is 0 for machine print and approaches 1 for
	// irregular hand-drawn strokes. Best effort.
	StrokeIrregularity float64 `json:"stroke_irregularity"`
}

type DocumentSample struct {
	PageCount int           `json:"page_count"`
	Pages     []PageSample  `json:"pages"`
	Source    SourceProfile `json:"source"`
}
