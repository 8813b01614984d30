package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pool is a bounded worker pool shared by every task. Enqueue blocks while
// the buffer is full.
type Pool struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu       sync.RWMutex
	closed   bool
	quit     chan struct{}
	quitOnce sync.Once
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan Job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPool(handler Handler, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		handler: handler,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
		quit:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug("worker.started", "worker_id", workerID)

				for job := range p.ch {
					p.run(workerID, job)
				}

				p.logger.Debug("worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *Pool) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker.job.panic", "worker_id", workerID, "task_id", job.TaskID, "file_index", job.FileIndex, "panic", r)
		}
	}()

	if err := p.handler.Handle(ctx, job); err != nil {
		p.logger.Warn("worker.job.failed", "worker_id", workerID, "task_id", job.TaskID, "file_index", job.FileIndex, "error", err)
		return
	}
	p.logger.Debug("worker.job.ok", "worker_id", workerID, "task_id", job.TaskID, "file_index", job.FileIndex,
		"queued_ms", time.Since(job.SubmittedAt).Milliseconds())
}

// Enqueue hands job to the workers, applying backpressure when the buffer
// is full. It gives up when ctx ends or the pool shuts down.
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case p.ch <- job:
		return nil
	default:
	}
	p.logger.Debug("queue full, applying backpressure", "task_id", job.TaskID, "file_index", job.FileIndex)
	select {
	case p.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrQueueClosed
	}
}

// Shutdown stops accepting jobs, lets queued jobs finish and waits for the
// workers until ctx ends.
func (p *Pool) Shutdown(ctx context.Context) {
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("pool.shutdown.interrupted")
	case <-done:
		p.logger.Info("pool.shutdown.ok")
	}
}
