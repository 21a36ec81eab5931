package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/doc-converter/internal/config"
	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

const (
	notifyTimeout  = 10 * time.Second
	archiveTimeout = 30 * time.Second
)

var (
	errSchedulerStopping   = errors.New("scheduler is shutting down")
	errSchedulerNotStarted = errors.New("scheduler is not started")
)

type SchedulerDeps struct {
	Converter ports.Converter
	Tunables  TunablesSource
	Archive   ports.JobArchive
	Notifier  ports.JobNotifier
	Metrics   ports.PipelineMetrics
}

// BatchScheduler fans conversions out over a bounded worker pool.
//
// All job state lives in a single owner goroutine. Public methods and workers
// talk to it by sending closures over calls, so no lock guards job state and
// no oracle I/O ever runs inside the owner. Workers pull items from an
// unbuffered work channel that the owner feeds only while it has queued items,
// which makes cancellation exact: an item the owner has not handed out yet can
// never start.
type BatchScheduler struct {
	converter ports.Converter
	tunables  TunablesSource
	archive   ports.JobArchive
	notifier  ports.JobNotifier
	metrics   ports.PipelineMetrics

	newID func() string
	now   func() time.Time

	calls    chan func(*schedulerState)
	work     chan workItem
	stopping chan struct{}
	quit     chan struct{}
	loopDone chan struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc

	started    atomic.Bool
	startOnce  sync.Once
	stopOnce   sync.Once
	workers    sync.WaitGroup
	background sync.WaitGroup
}

type workItem struct {
	jobID       string
	index       int
	doc         domain.Document
	attempt     int
	maxAttempts int
	retire      bool
}

type jobState struct {
	job       domain.BatchJob
	results   []domain.ItemResult
	sizes     []int64
	archiving bool
}

// schedulerState is owned by the loop goroutine.
type schedulerState struct {
	jobs         map[string]*jobState
	queue        []workItem
	pendingItems int
	pendingBytes int64
	workers      int
	retiring     int
	stopping     bool
}

func NewBatchScheduler(deps SchedulerDeps) *BatchScheduler {
	runCtx, cancel := context.WithCancel(context.Background())
	s := &BatchScheduler{
		converter: deps.Converter,
		tunables:  deps.Tunables,
		archive:   deps.Archive,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		newID:     uuid.NewString,
		now:       time.Now,
		calls:     make(chan func(*schedulerState)),
		work:      make(chan workItem),
		stopping:  make(chan struct{}),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	return s
}

// Start launches the owner loop and the worker pool. Other methods return
// ErrSchedulerStopped until it has been called.
func (s *BatchScheduler) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop(&schedulerState{jobs: make(map[string]*jobState)})
	})
}

// Stop stops accepting work and lets in-flight items finish until ctx is
// done, after which their attempts are cancelled. Jobs that still have
// unfinished items are marked FAILED.
func (s *BatchScheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = s.shutdown(ctx)
	})
	return err
}

func (s *BatchScheduler) shutdown(ctx context.Context) error {
	if !s.started.Load() {
		close(s.stopping)
		close(s.quit)
		s.cancelRun()
		return nil
	}

	_ = s.call(context.Background(), func(st *schedulerState) { st.stopping = true })
	close(s.stopping)

	drained := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		s.cancelRun()
		<-drained
		err = ctx.Err()
	}
	s.cancelRun()

	_ = s.call(context.Background(), s.abandon)
	close(s.quit)
	<-s.loopDone
	s.background.Wait()
	return err
}

func (s *BatchScheduler) Submit(ctx context.Context, docs []domain.Document, settings domain.BatchSettings) (string, error) {
	if len(docs) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "submit batch", errors.New("batch has no documents"))
	}
	limits := s.tunables.Snapshot().Scheduler
	maxAttempts := settings.MaxItemAttempts
	if maxAttempts <= 0 {
		maxAttempts = limits.MaxItemAttempts
	}

	var totalBytes int64
	for _, doc := range docs {
		totalBytes += int64(doc.Size())
	}

	jobID := s.newID()
	var submitErr error
	err := s.call(ctx, func(st *schedulerState) {
		switch {
		case st.stopping:
			submitErr = domain.WrapError(domain.ErrSchedulerStopped, "submit batch", errSchedulerStopping)
			return
		case st.pendingItems+len(docs) > limits.MaxQueuedItems:
			submitErr = &domain.CapacityExceededError{
				Reason: "queued items",
				Limit:  int64(limits.MaxQueuedItems),
				Needed: int64(st.pendingItems + len(docs)),
			}
			return
		case st.pendingBytes+totalBytes > limits.MaxQueuedBytes:
			submitErr = &domain.CapacityExceededError{
				Reason: "queued bytes",
				Limit:  limits.MaxQueuedBytes,
				Needed: st.pendingBytes + totalBytes,
			}
			return
		}

		js := &jobState{
			job: domain.BatchJob{
				ID:         jobID,
				Status:     domain.JobPending,
				Items:      make([]domain.ItemState, len(docs)),
				Settings:   settings,
				CreatedAt:  s.now(),
				TotalItems: len(docs),
			},
			results: make([]domain.ItemResult, len(docs)),
			sizes:   make([]int64, len(docs)),
		}
		js.job.Settings.MaxItemAttempts = maxAttempts
		for i, doc := range docs {
			js.job.Items[i] = domain.ItemState{Index: i, Name: doc.Name, Status: domain.ItemQueued}
			js.sizes[i] = int64(doc.Size())
			st.queue = append(st.queue, workItem{
				jobID:       jobID,
				index:       i,
				doc:         doc,
				maxAttempts: maxAttempts,
			})
		}
		st.jobs[jobID] = js
		st.pendingItems += len(docs)
		st.pendingBytes += totalBytes
		s.metrics.QueueDepth(len(st.queue))
	})
	if err != nil {
		return "", err
	}
	if submitErr != nil {
		return "", submitErr
	}

	slog.Info("batch_submitted", "job_id", jobID, "items", len(docs), "bytes", totalBytes, "label", settings.Label)
	return jobID, nil
}

// Status returns a snapshot of the job. It never changes job state.
func (s *BatchScheduler) Status(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	var snapshot *domain.BatchJob
	err := s.call(ctx, func(st *schedulerState) {
		if js, ok := st.jobs[jobID]; ok {
			snapshot = cloneJob(js.job)
		}
	})
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		return snapshot, nil
	}
	job, _, err := s.fromArchive(ctx, jobID)
	return job, err
}

// Results returns the results of every item that reached a terminal state,
// ordered by item index. The set is complete once the job is COMPLETED.
func (s *BatchScheduler) Results(ctx context.Context, jobID string) ([]domain.ItemResult, error) {
	var (
		results []domain.ItemResult
		found   bool
	)
	err := s.call(ctx, func(st *schedulerState) {
		if js, ok := st.jobs[jobID]; ok {
			found = true
			results = terminalResults(js)
		}
	})
	if err != nil {
		return nil, err
	}
	if found {
		return results, nil
	}
	_, results, err = s.fromArchive(ctx, jobID)
	return results, err
}

// Cancel moves a PENDING or RUNNING job to CANCELLED. Items not yet handed to
// a worker never start; running items finish. Cancelling a finished job is a
// no-op.
func (s *BatchScheduler) Cancel(ctx context.Context, jobID string) error {
	var found bool
	err := s.call(ctx, func(st *schedulerState) {
		js, ok := st.jobs[jobID]
		if !ok {
			return
		}
		found = true
		if js.job.Status.Terminal() {
			return
		}

		now := s.now()
		js.job.Status = domain.JobCancelled
		js.job.CancelledAt = &now

		kept := st.queue[:0]
		dropped := 0
		for _, item := range st.queue {
			if item.jobID == jobID {
				s.release(st, js, item.index)
				dropped++
				continue
			}
			kept = append(kept, item)
		}
		st.queue = kept
		s.metrics.QueueDepth(len(st.queue))

		slog.Info("job_cancelled", "job_id", jobID, "dropped", dropped, "in_flight", js.job.InFlight)
		s.settle(st, js)
	})
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	_, _, err = s.fromArchive(ctx, jobID)
	return err
}

func (s *BatchScheduler) call(ctx context.Context, fn func(*schedulerState)) error {
	if !s.started.Load() {
		return domain.WrapError(domain.ErrSchedulerStopped, "scheduler call", errSchedulerNotStarted)
	}
	done := make(chan struct{})
	request := func(st *schedulerState) {
		defer close(done)
		fn(st)
	}
	select {
	case s.calls <- request:
	case <-s.quit:
		return domain.WrapError(domain.ErrSchedulerStopped, "scheduler call", errSchedulerStopping)
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (s *BatchScheduler) loop(st *schedulerState) {
	defer close(s.loopDone)

	sweep := time.NewTicker(s.tunables.Snapshot().Scheduler.SweepInterval)
	defer sweep.Stop()

	for {
		s.reconcileWorkers(st)

		var (
			out  chan<- workItem
			next workItem
		)
		switch {
		case st.retiring > 0:
			out, next = s.work, workItem{retire: true}
		case !st.stopping && len(st.queue) > 0:
			out, next = s.work, st.queue[0]
		}

		select {
		case fn := <-s.calls:
			fn(st)
		case out <- next:
			if next.retire {
				st.retiring--
				st.workers--
				continue
			}
			st.queue = st.queue[1:]
			s.dispatched(st, next)
		case <-sweep.C:
			s.sweep(st)
		case <-s.quit:
			return
		}
	}
}

// reconcileWorkers follows pool_size reloads: it spawns workers or asks
// surplus ones to retire.
func (s *BatchScheduler) reconcileWorkers(st *schedulerState) {
	if st.stopping {
		return
	}
	desired := s.tunables.Snapshot().Scheduler.PoolSize
	active := st.workers - st.retiring
	for ; active < desired; active++ {
		if st.retiring > 0 {
			st.retiring--
			continue
		}
		st.workers++
		s.workers.Add(1)
		go s.worker()
	}
	if active > desired {
		st.retiring += active - desired
	}
}

func (s *BatchScheduler) worker() {
	defer s.workers.Done()
	for {
		select {
		case <-s.stopping:
			return
		case item := <-s.work:
			if item.retire {
				return
			}
			s.process(item)
		}
	}
}

func (s *BatchScheduler) dispatched(st *schedulerState, item workItem) {
	s.metrics.QueueDepth(len(st.queue))
	js, ok := st.jobs[item.jobID]
	if !ok {
		return
	}
	if js.job.Status == domain.JobPending {
		now := s.now()
		js.job.Status = domain.JobRunning
		js.job.StartedAt = &now
	}
	state := &js.job.Items[item.index]
	if state.Status == domain.ItemQueued {
		state.Status = domain.ItemRunning
		js.job.InFlight++
	}
	state.Attempts++
}

func (s *BatchScheduler) process(item workItem) {
	s.metrics.ItemStarted()
	started := s.now()
	conversion, err := s.convert(item)
	elapsed := s.now().Sub(started)
	item.attempt++

	if err != nil && domain.IsTemporary(err) && item.attempt < item.maxAttempts && s.runCtx.Err() == nil {
		delay := backoffDelay(s.tunables.Snapshot().Scheduler, item.attempt)
		s.metrics.ItemFinished("retry", elapsed)
		slog.Warn("item_retry_scheduled",
			"job_id", item.jobID,
			"item", item.index,
			"attempt", item.attempt,
			"max_attempts", item.maxAttempts,
			"backoff_ms", delay.Milliseconds(),
			"error", err,
		)
		_ = s.call(context.Background(), func(st *schedulerState) {
			s.scheduleRetry(st, item, delay, err)
		})
		return
	}

	outcome := string(domain.ItemDone)
	if err != nil {
		outcome = string(domain.ItemFailed)
	}
	s.metrics.ItemFinished(outcome, elapsed)
	_ = s.call(context.Background(), func(st *schedulerState) {
		s.finishItem(st, item.jobID, item.index, conversion, err)
	})
}

// convert runs the converter for one item. A panic fails the item instead of
// the worker.
func (s *BatchScheduler) convert(item workItem) (conversion *domain.Conversion, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("item_panicked", "job_id", item.jobID, "item", item.index, "document", item.doc.Name, "panic", rec)
			conversion = nil
			err = domain.WrapError(domain.ErrUnsupportedInput, "convert "+item.doc.Name, fmt.Errorf("converter panic: %v", rec))
		}
	}()
	return s.converter.Convert(s.runCtx, item.doc)
}

func (s *BatchScheduler) scheduleRetry(st *schedulerState, item workItem, delay time.Duration, cause error) {
	js, ok := st.jobs[item.jobID]
	if !ok {
		return
	}
	js.job.Items[item.index].Error = cause.Error()
	time.AfterFunc(delay, func() {
		_ = s.call(context.Background(), func(st *schedulerState) { s.requeue(st, item) })
	})
}

// requeue puts a retried item back at the head of the queue unless its job
// was cancelled or the scheduler is stopping in the meantime.
func (s *BatchScheduler) requeue(st *schedulerState, item workItem) {
	js, ok := st.jobs[item.jobID]
	if !ok || js.job.Items[item.index].Status.Terminal() {
		return
	}
	switch {
	case js.job.Status == domain.JobCancelled:
		s.finishItem(st, item.jobID, item.index, nil, errors.New("retry abandoned: job cancelled"))
		return
	case st.stopping:
		return
	}
	st.queue = append([]workItem{item}, st.queue...)
	s.metrics.QueueDepth(len(st.queue))
}

func (s *BatchScheduler) finishItem(st *schedulerState, jobID string, index int, conversion *domain.Conversion, err error) {
	js, ok := st.jobs[jobID]
	if !ok {
		return
	}
	state := &js.job.Items[index]
	if state.Status.Terminal() {
		return
	}

	status, message := domain.ItemDone, ""
	if err != nil {
		status, message = domain.ItemFailed, err.Error()
	}
	if state.Status == domain.ItemRunning {
		js.job.InFlight--
	}
	state.Status = status
	state.Error = message
	js.results[index] = domain.ItemResult{
		Index:      index,
		Name:       state.Name,
		Status:     status,
		Conversion: conversion,
		Error:      message,
		Attempts:   state.Attempts,
	}
	if status == domain.ItemDone {
		js.job.Done++
	} else {
		js.job.Failed++
	}
	s.release(st, js, index)

	logAttrs := []any{"job_id", jobID, "item", index, "name", state.Name, "status", status, "attempts", state.Attempts}
	if conversion != nil {
		logAttrs = append(logAttrs, "strategy", conversion.Strategy, "overall", conversion.Quality.Overall)
	}
	if err != nil {
		logAttrs = append(logAttrs, "error", err)
	}
	slog.Info("item_finished", logAttrs...)

	s.settle(st, js)
}

// settle moves a job to its terminal state once nothing is left to run.
func (s *BatchScheduler) settle(st *schedulerState, js *jobState) {
	now := s.now()
	switch js.job.Status {
	case domain.JobPending, domain.JobRunning:
		if js.job.Done+js.job.Failed < js.job.TotalItems {
			return
		}
		js.job.Status = domain.JobCompleted
	case domain.JobCancelled:
		if js.job.InFlight > 0 || js.job.FinishedAt != nil {
			return
		}
	default:
		return
	}
	js.job.FinishedAt = &now
	slog.Info("job_finished",
		"job_id", js.job.ID,
		"status", js.job.Status,
		"done", js.job.Done,
		"failed", js.job.Failed,
		"total", js.job.TotalItems,
	)
	s.notify(js)
}

// abandon fails whatever is left when the scheduler stops. Unfinished jobs
// end FAILED; cancelled jobs keep their status and their queued items.
func (s *BatchScheduler) abandon(st *schedulerState) {
	st.queue = nil
	for _, js := range st.jobs {
		if js.job.FinishedAt != nil {
			continue
		}
		cancelled := js.job.Status == domain.JobCancelled
		if !cancelled {
			js.job.Status = domain.JobFailed
		}
		for i := range js.job.Items {
			item := js.job.Items[i]
			if item.Status.Terminal() || (cancelled && item.Status == domain.ItemQueued) {
				continue
			}
			s.finishItem(st, js.job.ID, i, nil, domain.WrapError(domain.ErrSchedulerStopped, "process item", errSchedulerStopping))
		}
		if cancelled {
			s.settle(st, js)
			continue
		}
		now := s.now()
		js.job.FinishedAt = &now
		slog.Warn("job_abandoned", "job_id", js.job.ID, "done", js.job.Done, "failed", js.job.Failed)
		s.notify(js)
	}
	s.metrics.QueueDepth(0)
}

func (s *BatchScheduler) release(st *schedulerState, js *jobState, index int) {
	if js.sizes[index] < 0 {
		return
	}
	st.pendingItems--
	st.pendingBytes -= js.sizes[index]
	js.sizes[index] = -1
}

func (s *BatchScheduler) notify(js *jobState) {
	if s.notifier == nil {
		return
	}
	job := cloneJob(js.job)
	results := terminalResults(js)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.JobFinished(ctx, *job, results); err != nil {
			slog.Warn("job_notify_failed", "job_id", job.ID, "error", err)
		}
	}()
}

// sweep archives and evicts terminal jobs older than the retention window.
func (s *BatchScheduler) sweep(st *schedulerState) {
	retention := s.tunables.Snapshot().Scheduler.Retention
	now := s.now()
	for id, js := range st.jobs {
		if js.archiving || js.job.FinishedAt == nil || now.Sub(*js.job.FinishedAt) < retention {
			continue
		}
		if s.archive == nil {
			delete(st.jobs, id)
			slog.Debug("job_evicted", "job_id", id)
			continue
		}
		js.archiving = true
		job := cloneJob(js.job)
		results := terminalResults(js)
		s.background.Add(1)
		go s.archiveJob(*job, results)
	}
}

func (s *BatchScheduler) archiveJob(job domain.BatchJob, results []domain.ItemResult) {
	defer s.background.Done()
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	err := s.archive.Archive(ctx, job, results)
	if err != nil {
		slog.Warn("job_archive_failed", "job_id", job.ID, "error", err)
	}
	_ = s.call(context.Background(), func(st *schedulerState) {
		js, ok := st.jobs[job.ID]
		if !ok {
			return
		}
		if err != nil {
			js.archiving = false
			return
		}
		delete(st.jobs, job.ID)
		slog.Debug("job_archived", "job_id", job.ID)
	})
}

func (s *BatchScheduler) fromArchive(ctx context.Context, jobID string) (*domain.BatchJob, []domain.ItemResult, error) {
	if s.archive == nil {
		return nil, nil, domain.WrapError(domain.ErrJobNotFound, "lookup job", fmt.Errorf("job %q", jobID))
	}
	job, results, err := s.archive.Get(ctx, jobID)
	if err != nil {
		if domain.IsKind(err, domain.ErrJobNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load archived job %s: %w", jobID, err)
	}
	return job, results, nil
}

// backoffDelay is initial*multiplier^(attempt-1), capped at max.
func backoffDelay(t config.SchedulerTunables, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(t.BackoffInitial) * math.Pow(t.BackoffMultiplier, float64(attempt-1))
	if delay > float64(t.BackoffMax) {
		return t.BackoffMax
	}
	return time.Duration(delay)
}

func cloneJob(job domain.BatchJob) *domain.BatchJob {
	out := job
	out.Items = append([]domain.ItemState(nil), job.Items...)
	out.StartedAt = cloneTime(job.StartedAt)
	out.FinishedAt = cloneTime(job.FinishedAt)
	out.CancelledAt = cloneTime(job.CancelledAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func terminalResults(js *jobState) []domain.ItemResult {
	out := make([]domain.ItemResult, 0, len(js.results))
	for _, r := range js.results {
		if r.Status.Terminal() {
			out = append(out, r)
		}
	}
	return out
}
