package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/doc-converter/internal/config"
	"github.com/kirillkom/doc-converter/internal/core/ports"
	"github.com/kirillkom/doc-converter/internal/core/usecase"
	"github.com/kirillkom/doc-converter/internal/infrastructure/imagefile"
	"github.com/kirillkom/doc-converter/internal/infrastructure/imaging"
	"github.com/kirillkom/doc-converter/internal/infrastructure/inspect"
	"github.com/kirillkom/doc-converter/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/doc-converter/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/doc-converter/internal/infrastructure/parser"
	"github.com/kirillkom/doc-converter/internal/infrastructure/parser/docx"
	"github.com/kirillkom/doc-converter/internal/infrastructure/parser/plaintext"
	"github.com/kirillkom/doc-converter/internal/infrastructure/parser/xlsx"
	"github.com/kirillkom/doc-converter/internal/infrastructure/pdfdoc"
	"github.com/kirillkom/doc-converter/internal/infrastructure/queue/nats"
	"github.com/kirillkom/doc-converter/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/doc-converter/internal/infrastructure/resilience"
	"github.com/kirillkom/doc-converter/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/doc-converter/internal/observability/metrics"
)

type App struct {
	Config   config.Config
	Tunables *config.Store
	Metrics  *metrics.WorkerMetrics

	Vision    *ollama.Client
	Queue     *nats.Queue
	Scheduler *usecase.BatchScheduler
	Converter ports.Converter
	Intake    *usecase.IntakeUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	tunables, err := config.NewStore(cfg.TunablesPath)
	if err != nil {
		return nil, fmt.Errorf("load tunables: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init document storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, nats.Options{
		SubmitSubject: cfg.NATSSubmitSubject,
		ResultSubject: cfg.NATSResultSubject,
		QueueGroup:    cfg.NATSQueueGroup,

		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	var (
		archive ports.JobArchive
		db      *sql.DB
	)
	if cfg.ArchiveEnabled {
		db, err = postgres.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			queue.Close()
			_ = storage.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			queue.Close()
			_ = storage.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		archive = postgres.NewJobArchive(db)
	}

	workerMetrics := metrics.NewWorkerMetrics("worker")

	vision := ollama.New(cfg.OllamaURL, ollama.Options{
		RequestsPerSecond: cfg.OllamaRPS,
		Burst:             cfg.OllamaBurst,
		HTTPTimeout:       cfg.OllamaTimeout,
		Resilience:        resilience.DefaultConfig(),
	})
	ocr := tesseract.New(cfg.TesseractLanguage, cfg.TesseractWorkers)

	textParsers := parser.NewRegistry(
		pdfdoc.NewParser(),
		docx.New(),
		xlsx.New(),
		plaintext.New(),
	)
	imageOpts := imagefile.Options{MaxPixels: cfg.MaxImagePixels}
	inspector := inspect.NewInspector(pdfdoc.NewInspector(), imagefile.NewInspector(imageOpts), textParsers)
	rasterizer := inspect.NewRasterizer(pdfdoc.NewRasterizer(), imagefile.NewRasterizer(imageOpts))

	performance := usecase.NewModelPerformance()
	classifier := usecase.NewContentClassifier(inspector, tunables)
	selector := usecase.NewStrategySelector(tunables, performance)
	assessor := usecase.NewQualityAssessor(tunables)
	engine := usecase.NewExecutionEngine(usecase.EngineDeps{
		Parser:       textParsers,
		Rasterizer:   rasterizer,
		Preprocessor: imaging.NewPreprocessor(imaging.Options{MaxPixels: cfg.MaxImagePixels}),
		OCR:          ocr,
		Vision:       vision,
		Assessor:     assessor,
		Performance:  performance,
		Metrics:      workerMetrics,
		PageCache:    usecase.NewPageCache(cfg.PageCacheEntries),
	})
	converter := usecase.NewConvertUseCase(classifier, selector, engine)

	scheduler := usecase.NewBatchScheduler(usecase.SchedulerDeps{
		Converter: converter,
		Tunables:  tunables,
		Archive:   archive,
		Notifier:  queue,
		Metrics:   workerMetrics,
	})
	intake := usecase.NewIntakeUseCase(storage, scheduler, cfg.MaxDocumentBytes)

	slog.Info("bootstrap_complete",
		"tunables_path", tunables.Path(),
		"archive_enabled", cfg.ArchiveEnabled,
		"pool_size", tunables.Snapshot().Scheduler.PoolSize,
	)

	return &App{
		Config:   cfg,
		Tunables: tunables,
		Metrics:  workerMetrics,

		Vision:    vision,
		Queue:     queue,
		Scheduler: scheduler,
		Converter: converter,
		Intake:    intake,

		closeFn: func() {
			queue.Close()
			if db != nil {
				_ = db.Close()
			}
			_ = storage.Close()
		},
	}, nil
}

// VisionModels lists the vision models named by the current tunables.
func (a *App) VisionModels() []string {
	snapshot := a.Tunables.Snapshot()
	names := make([]string, 0, len(snapshot.Models))
	for _, m := range snapshot.Models {
		if m.Kind == config.ModelKindVision {
			names = append(names, m.Name)
		}
	}
	return names
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
