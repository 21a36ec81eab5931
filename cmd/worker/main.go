package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/doc-converter/internal/bootstrap"
	"github.com/kirillkom/doc-converter/internal/config"
	"github.com/kirillkom/doc-converter/internal/core/ports"
	"github.com/kirillkom/doc-converter/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg.TunablesPath != "" {
		go func() {
			if err := app.Tunables.Watch(ctx); err != nil {
				logger.Warn("tunables_watch_stopped", "path", cfg.TunablesPath, "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	probeCtx, cancelProbe := context.WithTimeout(ctx, 10*time.Second)
	missing, err := app.Vision.MissingModels(probeCtx, app.VisionModels())
	cancelProbe()
	switch {
	case err != nil:
		logger.Warn("vision_models_probe_failed", "error", err)
	case len(missing) > 0:
		logger.Warn("vision_models_missing", "models", missing)
	}

	app.Scheduler.Start()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubmitSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Queue.SubscribeSubmissions(ctx, func(handlerCtx context.Context, sub ports.Submission) (string, error) {
		submitCtx, cancel := context.WithTimeout(handlerCtx, cfg.SubmissionDeadline)
		defer cancel()
		jobID, err := app.Intake.Accept(submitCtx, sub)
		if err != nil {
			logger.Warn("submission_rejected", "request_id", sub.RequestID, "items", len(sub.Items), "error", err)
			return "", err
		}
		logger.Info("submission_accepted", "request_id", sub.RequestID, "job_id", jobID)
		return jobID, nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := app.Scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler_stop_incomplete", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker_metrics_shutdown_failed", "error", err)
	}
	logger.Info("worker_stopped")
}
