package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

// attemptInput is shared by every attempt of one execution. Page images are
// rasterized at most once, under the execution's context, and reused across
// strategies.
type attemptInput struct {
	doc        domain.Document
	rasterizer ports.PageRasterizer
	ctx        context.Context

	once  sync.Once
	ready chan struct{}
	pages []ports.PageImage
	err   error
}

func newAttemptInput(ctx context.Context, doc domain.Document, rasterizer ports.PageRasterizer) *attemptInput {
	return &attemptInput{doc: doc, rasterizer: rasterizer, ctx: ctx, ready: make(chan struct{})}
}

// Pages waits for the shared rasterization. A caller whose context ends
// stops waiting; rasterization carries on for the next strategy.
func (in *attemptInput) Pages(ctx context.Context) ([]ports.PageImage, error) {
	in.once.Do(func() { go in.rasterize() })
	select {
	case <-in.ready:
		return in.pages, in.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (in *attemptInput) rasterize() {
	defer close(in.ready)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("rasterize_panicked", "document", in.doc.Name, "panic", rec)
			in.pages = nil
			in.err = domain.WrapError(domain.ErrUnsupportedInput, "rasterize", fmt.Errorf("rasterizer panic: %v", rec))
		}
	}()
	if in.rasterizer == nil {
		in.err = domain.WrapError(domain.ErrUnsupportedInput, "rasterize", errors.New("no rasterizer configured"))
		return
	}
	pages, err := in.rasterizer.Rasterize(in.ctx, in.doc)
	switch {
	case err != nil:
		in.err = err
	case len(pages) == 0:
		in.err = domain.WrapError(domain.ErrUnsupportedInput, "rasterize", errors.New("document has no page images"))
	default:
		in.pages = pages
	}
}

type attemptOutput struct {
	text       string
	confidence float64
	err        error
}

type attemptFunc func(ctx context.Context, in *attemptInput, strategy domain.ProcessingStrategy) attemptOutput

type ExecutionEngine struct {
	parser     ports.FormatParser
	rasterizer ports.PageRasterizer
	preprocess ports.ImagePreprocessor
	ocr        ports.OCREngine
	vision     ports.VisionModel

	assessor    *QualityAssessor
	performance *ModelPerformance
	metrics     ports.PipelineMetrics
	cache       *PageCache

	handlers map[domain.Method]attemptFunc
	now      func() time.Time
}

type EngineDeps struct {
	Parser       ports.FormatParser
	Rasterizer   ports.PageRasterizer
	Preprocessor ports.ImagePreprocessor
	OCR          ports.OCREngine
	Vision       ports.VisionModel
	Assessor     *QualityAssessor
	Performance  *ModelPerformance
	Metrics      ports.PipelineMetrics
	// PageCache may be nil.
	PageCache *PageCache
}

func NewExecutionEngine(deps EngineDeps) *ExecutionEngine {
	e := &ExecutionEngine{
		parser:      deps.Parser,
		rasterizer:  deps.Rasterizer,
		preprocess:  deps.Preprocessor,
		ocr:         deps.OCR,
		vision:      deps.Vision,
		assessor:    deps.Assessor,
		performance: deps.Performance,
		metrics:     deps.Metrics,
		cache:       deps.PageCache,
		now:         time.Now,
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	e.handlers = map[domain.Method]attemptFunc{
		domain.MethodDirect:               e.runDirect,
		domain.MethodOCR:                  e.runOCR,
		domain.MethodVision:               e.runVision,
		domain.MethodVisionWithPreprocess: e.runVision,
		domain.MethodHybrid:               e.runHybrid,
	}
	return e
}

// Execute walks the strategy chain until an attempt is accepted or the chain
// is exhausted. Without acceptance the best-scoring usable attempt is returned
// with Accepted=false. ConversionExhaustedError is returned only when no
// attempt produced usable text.
func (e *ExecutionEngine) Execute(
	ctx context.Context,
	doc domain.Document,
	source domain.SourceProfile,
	strategies []domain.ProcessingStrategy,
) (*domain.Conversion, error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	in := newAttemptInput(execCtx, doc, e.rasterizer)

	var (
		attempts []domain.AttemptResult
		best     *domain.Conversion
		accepted *domain.Conversion
	)
	state := startChain(len(strategies))
	for !state.Terminal() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execute strategies: %w", err)
		}

		strategy := strategies[state.Index]
		if state.Phase == phaseEscalated {
			strategy = strategy.Escalate()
		}

		attempt := e.runAttempt(ctx, in, strategy, source)
		attempts = append(attempts, attempt)
		quality := e.assessor.Assess(attempt)
		e.observe(attempt, quality)

		next := nextChainState(state, quality.Recommendation, len(strategies))
		slog.Info("attempt_scored",
			"document", doc.Name,
			"strategy", strategy.ID,
			"state", state.String(),
			"next", next.String(),
			"overall", quality.Overall,
			"recommendation", quality.Recommendation,
			"elapsed_ms", attempt.Elapsed.Milliseconds(),
			"error", attempt.ErrorMessage(),
		)

		conv := &domain.Conversion{
			Text:     attempt.ExtractedText,
			Strategy: strategy.ID,
			Method:   strategy.Method,
			Quality:  quality,
		}
		if next.Phase == phaseAccepted {
			conv.Accepted = true
			accepted = conv
		} else if usable(attempt) && (best == nil || quality.Overall > best.Quality.Overall) {
			best = conv
		}
		state = next
	}

	result := accepted
	if result == nil {
		result = best
	}
	if result == nil {
		return nil, &domain.ConversionExhaustedError{Attempts: attempts}
	}
	result.Attempts = attempts
	return result, nil
}

// runAttempt enforces the strategy's hard timeout around its handler. A
// handler that overruns is abandoned and recorded as ErrTimeout; one that
// panics is recorded as a failed attempt.
func (e *ExecutionEngine) runAttempt(
	ctx context.Context,
	in *attemptInput,
	strategy domain.ProcessingStrategy,
	source domain.SourceProfile,
) domain.AttemptResult {
	result := domain.AttemptResult{
		StrategyID:      strategy.ID,
		Method:          strategy.Method,
		ModelRef:        strategy.ModelRef,
		Escalated:       strategy.Escalated,
		ExpectedLatency: strategy.ExpectedLatency,
		CanEscalate:     strategy.CanEscalate(),
		Source:          source,
	}

	handler, ok := e.handlers[strategy.Method]
	if !ok {
		result.Err = domain.WrapError(domain.ErrInvalidInput, "run attempt", fmt.Errorf("no handler for method %q", strategy.Method))
		return result
	}

	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if strategy.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, strategy.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan attemptOutput, 1)
	started := e.now()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("attempt_panicked", "document", in.doc.Name, "strategy", strategy.ID, "panic", rec)
				done <- attemptOutput{err: domain.WrapError(domain.ErrUnsupportedInput, "attempt "+strategy.ID, fmt.Errorf("handler panic: %v", rec))}
			}
		}()
		done <- handler(attemptCtx, in, strategy)
	}()

	var out attemptOutput
	select {
	case out = <-done:
	case <-attemptCtx.Done():
		out = attemptOutput{err: attemptCtx.Err()}
	}
	result.Elapsed = e.now().Sub(started)

	if out.err != nil && ctx.Err() == nil &&
		(errors.Is(out.err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded)) &&
		!domain.IsKind(out.err, domain.ErrTimeout) {
		out.err = domain.WrapError(domain.ErrTimeout, "attempt "+strategy.ID, fmt.Errorf("exceeded %s: %w", strategy.Timeout, out.err))
	}
	result.ExtractedText = strings.TrimSpace(out.text)
	result.RawConfidence = out.confidence
	result.Err = out.err
	return result
}

func (e *ExecutionEngine) observe(attempt domain.AttemptResult, quality domain.QualityScore) {
	outcome := "rejected"
	switch {
	case attempt.Failed() && domain.IsKind(attempt.Err, domain.ErrTimeout):
		outcome = "timeout"
	case attempt.Failed():
		outcome = "error"
	case quality.Recommendation == domain.RecommendAccept:
		outcome = "accepted"
	}
	e.metrics.ObserveAttempt(attempt.Method, outcome, attempt.Elapsed, quality.Overall)
	if attempt.Method.UsesVision() {
		e.performance.Record(attempt.ModelRef, usable(attempt), attempt.Elapsed)
	}
}

func usable(attempt domain.AttemptResult) bool {
	return !attempt.Failed() && attempt.ExtractedText != ""
}

func (e *ExecutionEngine) runDirect(ctx context.Context, in *attemptInput, _ domain.ProcessingStrategy) attemptOutput {
	if e.parser == nil || !e.parser.Supports(in.doc.MediaType) {
		return attemptOutput{err: domain.WrapError(domain.ErrParse, "direct extract", fmt.Errorf("no parser for %s", in.doc.MediaType))}
	}
	text, err := e.parser.ExtractText(ctx, in.doc)
	if err != nil {
		return attemptOutput{err: kindOr(err, domain.ErrParse, "direct extract")}
	}
	return attemptOutput{text: text, confidence: 1}
}

func (e *ExecutionEngine) runOCR(ctx context.Context, in *attemptInput, strategy domain.ProcessingStrategy) attemptOutput {
	if e.ocr == nil {
		return attemptOutput{err: domain.WrapError(domain.ErrOCR, "ocr", errors.New("ocr engine is not configured"))}
	}
	return e.perPage(ctx, in, strategy, domain.ErrOCR, func(ctx context.Context, img ports.PageImage, _ int) (string, float64, error) {
		return e.cached(ocrCacheModel(strategy.Language), "", strategy, img, func() (string, float64, error) {
			res, err := e.ocr.Recognize(ctx, img.Data, strategy.Language)
			return res.Text, res.Confidence, err
		})
	})
}

func (e *ExecutionEngine) runVision(ctx context.Context, in *attemptInput, strategy domain.ProcessingStrategy) attemptOutput {
	return e.visionPages(ctx, in, strategy, "")
}

// runHybrid combines the embedded text layer with the vision model: the layer
// guides the prompt and stands in when the model returns nothing.
func (e *ExecutionEngine) runHybrid(ctx context.Context, in *attemptInput, strategy domain.ProcessingStrategy) attemptOutput {
	var textLayer string
	if e.parser != nil && e.parser.Supports(in.doc.MediaType) {
		if text, err := e.parser.ExtractText(ctx, in.doc); err == nil {
			textLayer = strings.TrimSpace(text)
		} else {
			slog.Debug("hybrid_text_layer_unavailable", "document", in.doc.Name, "error", err)
		}
	}

	out := e.visionPages(ctx, in, strategy, textLayer)
	if strings.TrimSpace(out.text) == "" && textLayer != "" && ctx.Err() == nil {
		return attemptOutput{text: textLayer, confidence: 0.5}
	}
	return out
}

func (e *ExecutionEngine) visionPages(ctx context.Context, in *attemptInput, strategy domain.ProcessingStrategy, textLayer string) attemptOutput {
	if e.vision == nil {
		return attemptOutput{err: domain.WrapError(domain.ErrModelUnavailable, "vision", errors.New("vision model is not configured"))}
	}
	return e.perPage(ctx, in, strategy, domain.ErrModelUnavailable, func(ctx context.Context, img ports.PageImage, pages int) (string, float64, error) {
		prompt := buildVisionPrompt(strategy.Variant, img.Page, pages, textLayer)
		return e.cached(strategy.ModelRef, prompt, strategy, img, func() (string, float64, error) {
			text, err := e.vision.Infer(ctx, img.Data, prompt, strategy.ModelRef, strategy.Timeout)
			return text, 0, err
		})
	})
}

func ocrCacheModel(language string) string { return "ocr:" + language }

// cached serves a page from the page cache or runs it and stores non-empty
// output. Escalated attempts skip the lookup.
func (e *ExecutionEngine) cached(
	model, prompt string,
	strategy domain.ProcessingStrategy,
	img ports.PageImage,
	run func() (string, float64, error),
) (string, float64, error) {
	if e.cache == nil {
		return run()
	}
	key := pageKeyOf(prompt, img.Data)
	if !strategy.Escalated {
		if text, conf, ok := e.cache.Get(model, key); ok {
			slog.Debug("page_cache_hit", "model", model, "page", img.Page, "strategy", strategy.ID)
			return text, conf, nil
		}
	}
	text, conf, err := run()
	if err == nil && strings.TrimSpace(text) != "" {
		e.cache.Put(model, key, text, conf)
	}
	return text, conf, err
}

type pageFunc func(ctx context.Context, img ports.PageImage, pages int) (string, float64, error)

// perPage runs fn over every page image and joins non-empty outputs in page
// order. Failed pages are skipped; the attempt fails only if every page did.
func (e *ExecutionEngine) perPage(
	ctx context.Context,
	in *attemptInput,
	strategy domain.ProcessingStrategy,
	kind error,
	fn pageFunc,
) attemptOutput {
	pages, err := in.Pages(ctx)
	if err != nil {
		return attemptOutput{err: kindOr(err, domain.ErrUnsupportedInput, "rasterize")}
	}

	var (
		parts      []string
		confidence float64
		scored     int
		firstErr   error
	)
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return attemptOutput{err: err}
		}
		img := page
		if len(strategy.PreprocessingSteps) > 0 && e.preprocess != nil {
			processed, err := e.preprocess.Apply(ctx, page, strategy.PreprocessingSteps)
			if err != nil {
				slog.Warn("preprocess_failed", "document", in.doc.Name, "page", page.Page, "error", err)
			} else {
				img = processed
			}
		}

		text, conf, err := fn(ctx, img, len(pages))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		scored++
		confidence += conf
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	if scored == 0 && firstErr != nil {
		return attemptOutput{err: kindOr(firstErr, kind, strings.ToLower(string(strategy.Method)))}
	}
	if scored > 0 {
		confidence /= float64(scored)
	}
	return attemptOutput{text: strings.Join(parts, "\n\n"), confidence: confidence}
}

// kindOr keeps an error that already carries a taxonomy kind and wraps any
// other error with the fallback kind.
func kindOr(err error, fallback error, op string) error {
	for _, kind := range []error{
		domain.ErrUnsupportedInput,
		domain.ErrParse,
		domain.ErrOCR,
		domain.ErrModelUnavailable,
		domain.ErrTimeout,
		domain.ErrTemporary,
	} {
		if domain.IsKind(err, kind) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.WrapError(fallback, op, err)
}
