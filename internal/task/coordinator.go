// Package task schedules submitted batches over the shared worker pool and
// drives each task through its lifecycle.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/anomaly"
	"github.com/joseph-ayodele/invoice-extractor/internal/async"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/decode"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/export"
	"github.com/joseph-ayodele/invoice-extractor/internal/metrics"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/repository"
	"github.com/joseph-ayodele/invoice-extractor/internal/storage"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("coordinator shutting down")

// Decoder turns a source file into pages.
type Decoder interface {
	Decode(ctx context.Context, src entity.SourceFile) (decode.Result, error)
}

// Extractor turns pages into a record.
type Extractor interface {
	Extract(ctx context.Context, source string, pages []entity.Page) (*entity.ExtractedRecord, error)
}

// Scorer flags anomalies once the whole batch is known.
type Scorer interface {
	Score(ctx context.Context, records []*entity.ExtractedRecord, keys []string) ([]entity.Anomaly, error)
}

type Config struct {
	Workers         int
	QueueSize       int
	JobTimeout      time.Duration
	Retention       time.Duration // terminal tasks older than this are evicted, 0 keeps them
	JanitorInterval time.Duration
	LongRunning     time.Duration // Processing tasks older than this are reported
}

// Deps are the collaborators of a Coordinator. Baseline is optional.
type Deps struct {
	Decoder   Decoder
	Extractor Extractor
	Scorer    Scorer
	Baseline  anomaly.Baseline
	Exporter  *export.Service
	Store     repository.TaskStore
	Blobs     storage.ObjectStorage
}

type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns every live task. Terminal tasks live only in the store.
type Coordinator struct {
	cfg    Config
	deps   Deps
	pool   *async.Pool
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	runs   map[string]*run
	closed bool

	wg sync.WaitGroup // dispatchers
}

func NewCoordinator(deps Deps, cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Exporter == nil {
		deps.Exporter = export.NewService(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*run),
	}
	for _, o := range opts {
		o(c)
	}
	c.pool = async.NewPool(c, logger,
		async.WithWorkers(cfg.Workers),
		async.WithQueueSize(cfg.QueueSize),
		async.WithJobTimeout(cfg.JobTimeout),
	)
	return c
}

// Submit validates every file, creates a Pending task and schedules one
// unit of work per file. Nothing is created when a file is rejected.
func (c *Coordinator) Submit(ctx context.Context, files []entity.SourceFile) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files submitted: %w", common.ErrEmptyBatch)
	}
	infos := make([]entity.FileInfo, len(files))
	for i, f := range files {
		kind, err := decode.Check(f.Name, f.Data)
		if err != nil {
			c.logger.Info("task.submit.rejected", "file", f.Name, "error", err)
			return "", err
		}
		infos[i] = entity.FileInfo{
			Name:     f.Name,
			MIMEType: constants.MIMEForKind(kind),
			Size:     len(f.Data),
			Hash:     f.Hash(),
			State:    constants.FileStatePending,
		}
		metrics.UploadSizeBytes.Observe(float64(len(f.Data)))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrShuttingDown
	}
	c.mu.Unlock()

	now := c.now()
	t := entity.Task{
		ID:        uuid.NewString(),
		Status:    constants.TaskStatusPending,
		Message:   fmt.Sprintf("queued %d files", len(files)),
		Files:     infos,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.deps.Store.SaveTask(ctx, t.Clone()); err != nil {
		return "", common.WrapError(err, "save task")
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	r := &run{
		task:     t,
		sources:  files,
		outcomes: make([]entity.FileOutcome, len(files)),
		ctx:      runCtx,
		cancel:   cancel,
		subs:     make(map[chan entity.StatusView]struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Status = constants.TaskStatusFailed
		t.Message = ErrShuttingDown.Error()
		_ = c.deps.Store.SaveTask(ctx, t)
		cancel()
		return "", ErrShuttingDown
	}
	c.runs[t.ID] = r
	c.wg.Add(1)
	c.mu.Unlock()

	metrics.TasksSubmitted.Inc()
	metrics.TasksActive.Inc()
	c.logger.Info("task.submit.ok", "task_id", t.ID, "files", len(files))

	go c.dispatch(r)
	return t.ID, nil
}

// dispatch enqueues the task's files in order until they are all scheduled
// or the task is cancelled.
func (c *Coordinator) dispatch(r *run) {
	defer c.wg.Done()
	for i := range r.sources {
		r.mu.Lock()
		if r.cancelRequested {
			r.mu.Unlock()
			break
		}
		r.inflight++
		r.mu.Unlock()

		err := c.pool.Enqueue(r.ctx, async.Job{TaskID: r.task.ID, FileIndex: i, SubmittedAt: c.now()})
		if err == nil {
			continue
		}
		r.mu.Lock()
		r.inflight--
		if !r.cancelRequested {
			// the pool is gone; settle what was never scheduled
			for j := i; j < len(r.sources); j++ {
				r.failLocked(j, "not scheduled: "+err.Error())
			}
			c.persistLocked(r)
		}
		r.mu.Unlock()
		break
	}

	r.mu.Lock()
	r.dispatchDone = true
	next := r.nextLocked()
	r.mu.Unlock()
	c.finish(r, next)
}

// Handle runs one file of a task. It is called by the worker pool.
func (c *Coordinator) Handle(ctx context.Context, job async.Job) error {
	r := c.lookup(job.TaskID)
	if r == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.inflight--
		next := r.nextLocked()
		r.mu.Unlock()
		c.finish(r, next)
		return nil
	}
	if r.task.Status == constants.TaskStatusPending {
		r.task.Status = constants.TaskStatusProcessing
		c.logger.Info("task.processing", "task_id", r.task.ID)
	}
	r.task.Files[job.FileIndex].State = constants.FileStateRunning
	r.task.Message = "decoding " + r.sources[job.FileIndex].Name
	c.persistLocked(r)
	r.mu.Unlock()

	rec, pages, err := c.safeProcess(ctx, r, job.FileIndex)

	r.mu.Lock()
	if r.ctx.Err() != nil {
		// cancelled while running: the result is discarded
		r.inflight--
		next := r.nextLocked()
		r.mu.Unlock()
		c.finish(r, next)
		return nil
	}
	r.task.Files[job.FileIndex].Pages = pages
	if err != nil {
		r.failLocked(job.FileIndex, failureReason(err))
		metrics.FilesProcessed.WithLabelValues("failed").Inc()
	} else {
		r.succeedLocked(job.FileIndex, rec)
		metrics.FilesProcessed.WithLabelValues("succeeded").Inc()
	}
	r.inflight--
	c.persistLocked(r)
	next := r.nextLocked()
	r.mu.Unlock()

	c.finish(r, next)
	return err
}

// safeProcess turns a panic in a capability into a failure of that file,
// so the task still settles.
func (c *Coordinator) safeProcess(ctx context.Context, r *run, idx int) (rec *entity.ExtractedRecord, pages int, err error) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("pipeline.file.panic", "task_id", r.task.ID, "file", r.sources[idx].Name,
				"panic", p, "stack", string(debug.Stack()))
			rec, err = nil, fmt.Errorf("internal error: %v", p)
		}
	}()
	return c.process(ctx, r, idx)
}

// process decodes and extracts one file, checking for cancellation at
// every stage boundary.
func (c *Coordinator) process(ctx context.Context, r *run, idx int) (*entity.ExtractedRecord, int, error) {
	src := r.sources[idx]
	ctx = common.WithTaskID(ctx, r.task.ID)
	log := common.Logger(ctx, c.logger).With("file", src.Name)

	start := time.Now()
	res, err := c.deps.Decoder.Decode(ctx, src)
	metrics.ObserveStage("decode", start)
	if err != nil {
		log.Warn("pipeline.decode.failed", "error", err)
		return nil, 0, fmt.Errorf("decode: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, len(res.Pages), err
	}
	metrics.PagesDecoded.Observe(float64(len(res.Pages)))

	c.stage(r, fmt.Sprintf("extracting %s (%d pages)", src.Name, len(res.Pages)))
	rec, err := c.deps.Extractor.Extract(ocr.WithContentHash(ctx, r.task.Files[idx].Hash), src.Name, res.Pages)
	if err != nil {
		log.Warn("pipeline.extract.failed", "error", err)
		return nil, len(res.Pages), fmt.Errorf("extract: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, len(res.Pages), err
	}
	rec.SourceIndex = idx
	rec.Warnings = append(append([]string(nil), res.Warnings...), rec.Warnings...)
	log.Info("pipeline.file.ok", "pages", len(res.Pages), "warnings", len(rec.Warnings))
	return rec, len(res.Pages), nil
}

func (c *Coordinator) stage(r *run, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized || r.ctx.Err() != nil {
		return
	}
	r.task.Message = msg
	c.persistLocked(r)
}

func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out: " + err.Error()
	}
	return err.Error()
}

// Cancel requests cancellation. It is a no-op on terminal tasks and once
// aggregation has started.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	r := c.lookup(id)
	if r == nil {
		_, err := c.deps.Store.GetTask(ctx, id)
		return err
	}
	r.mu.Lock()
	if r.finalized || r.cancelRequested {
		r.mu.Unlock()
		return nil
	}
	r.cancelRequested = true
	r.cancel()
	r.task.Message = "cancelling"
	c.persistLocked(r)
	next := r.nextLocked()
	r.mu.Unlock()

	c.logger.Info("task.cancel.requested", "task_id", id)
	c.finish(r, next)
	return nil
}

// GetStatus returns the polling view of a task.
func (c *Coordinator) GetStatus(ctx context.Context, id string) (entity.StatusView, error) {
	t, err := c.GetTask(ctx, id)
	if err != nil {
		return entity.StatusView{}, err
	}
	return t.View(), nil
}

// GetTask returns a full task snapshot including per-file states. Per-file
// failure reasons are only included once the task is Completed.
func (c *Coordinator) GetTask(ctx context.Context, id string) (entity.Task, error) {
	t, err := c.snapshot(ctx, id)
	if err != nil {
		return entity.Task{}, err
	}
	if t.Status != constants.TaskStatusCompleted {
		for i := range t.Files {
			t.Files[i].Error = ""
		}
	}
	return t, nil
}

func (c *Coordinator) snapshot(ctx context.Context, id string) (entity.Task, error) {
	if r := c.lookup(id); r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.task.Clone(), nil
	}
	return c.deps.Store.GetTask(ctx, id)
}

func (c *Coordinator) completedResult(ctx context.Context, id string) (entity.TaskResult, error) {
	t, err := c.GetTask(ctx, id)
	if err != nil {
		return entity.TaskResult{}, err
	}
	if t.Status != constants.TaskStatusCompleted {
		return entity.TaskResult{}, fmt.Errorf("task %s is %s: %w", id, t.Status, common.ErrNotReady)
	}
	res, err := c.deps.Store.GetResult(ctx, id)
	if err != nil {
		return entity.TaskResult{}, common.WrapError(err, "load result")
	}
	return res, nil
}

// GetResult returns the persisted export bytes. Repeated calls return
// identical bytes.
func (c *Coordinator) GetResult(ctx context.Context, id string, format constants.ExportFormat) ([]byte, error) {
	res, err := c.completedResult(ctx, id)
	if err != nil {
		return nil, err
	}
	key := res.CSVKey
	if format == constants.FormatExcel {
		key = res.XLSXKey
	}
	data, err := c.deps.Blobs.Get(ctx, key)
	if err != nil {
		return nil, common.WrapError(err, "load export")
	}
	return data, nil
}

// GetValidation returns the validation mapping of a completed task.
func (c *Coordinator) GetValidation(ctx context.Context, id string) (entity.ValidationResult, error) {
	res, err := c.completedResult(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Validation == nil {
		return entity.ValidationResult{}, nil
	}
	return res.Validation, nil
}

// GetAnomalies returns the flagged records of a completed task.
func (c *Coordinator) GetAnomalies(ctx context.Context, id string) ([]entity.Anomaly, error) {
	res, err := c.completedResult(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Anomalies == nil {
		return []entity.Anomaly{}, nil
	}
	return res.Anomalies, nil
}

func (c *Coordinator) lookup(id string) *run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[id]
}

func (c *Coordinator) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, id)
}

// persistLocked stamps and stores the snapshot and notifies subscribers.
// r.mu must be held, which keeps stored snapshots in order.
func (c *Coordinator) persistLocked(r *run) {
	r.task.UpdatedAt = c.now()
	if err := c.deps.Store.SaveTask(c.ctx, r.task.Clone()); err != nil {
		c.logger.Warn("task.persist.failed", "task_id", r.task.ID, "error", err)
	}
	r.publishLocked()
}

// Shutdown stops accepting tasks, lets queued work drain and waits until
// ctx ends.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.pool.Shutdown(ctx)

	done := make(chan struct{})
	go func() { defer close(done); c.wg.Wait() }()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("task.shutdown.interrupted")
	}
	c.cancel()
}
