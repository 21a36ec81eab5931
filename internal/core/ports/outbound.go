package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// DocumentInspector samples a bounded prefix of pages for classification.
// Undecodable input fails with domain.ErrUnsupportedInput.
type DocumentInspector interface {
	Inspect(ctx context.Context, doc domain.Document, maxPages int) (domain.DocumentSample, error)
}

// FormatParser extracts embedded text directly, without OCR.
type FormatParser interface {
	Supports(mediaType string) bool
	ExtractText(ctx context.Context, doc domain.Document) (string, error)
}

// PageImage is one rendered or embedded page raster.
type PageImage struct {
	Page   int
	Data   []byte
	Format string
	Width  int
	Height int
}

// PageRasterizer produces page images for OCR and vision strategies.
type PageRasterizer interface {
	Rasterize(ctx context.Context, doc domain.Document) ([]PageImage, error)
}

// ImagePreprocessor applies ordered preprocessing steps to a page image.
type ImagePreprocessor interface {
	Apply(ctx context.Context, img PageImage, steps []domain.PreprocessStep) (PageImage, error)
}

// OCRResult carries recognized text and the engine's mean confidence in [0,1].
type OCRResult struct {
	Text       string
	Confidence float64
}

// OCREngine is the traditional OCR oracle.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, language string) (OCRResult, error)
}

// VisionModel is the remote vision-language oracle. Implementations return
// domain.ErrModelUnavailable or domain.ErrTimeout kinds on failure.
type VisionModel interface {
	Infer(ctx context.Context, image []byte, prompt, modelRef string, timeout time.Duration) (string, error)
}

// JobArchive keeps terminal jobs after they leave scheduler memory.
type JobArchive interface {
	Archive(ctx context.Context, job domain.BatchJob, results []domain.ItemResult) error
	Get(ctx context.Context, jobID string) (*domain.BatchJob, []domain.ItemResult, error)
}

// JobNotifier is told about jobs that reached a terminal state.
type JobNotifier interface {
	JobFinished(ctx context.Context, job domain.BatchJob, results []domain.ItemResult) error
}

// DocumentSource resolves storage keys referenced by queued submissions.
type DocumentSource interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// SubmissionHandler accepts one submission and returns the new job id.
type SubmissionHandler func(ctx context.Context, sub Submission) (string, error)

// SubmissionQueue delivers batch submissions produced by the caller-side
// façade until ctx is cancelled.
type SubmissionQueue interface {
	SubscribeSubmissions(ctx context.Context, handler SubmissionHandler) error
}

type SubmissionItem struct {
	Name       string `json:"name"`
	MediaType  string `json:"media_type,omitempty"`
	StorageKey string `json:"storage_key"`
}

type Submission struct {
	RequestID string               `json:"request_id,omitempty"`
	Items     []SubmissionItem     `json:"items"`
	Settings  domain.BatchSettings `json:"settings"`
}

// PipelineMetrics receives pipeline observations. Implementations must be
// safe for concurrent use.
type PipelineMetrics interface {
	ObserveAttempt(method domain.Method, outcome string, elapsed time.Duration, overall float64)
	ItemStarted()
	ItemFinished(outcome string, elapsed time.Duration)
	QueueDepth(n int)
}
