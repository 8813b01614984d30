package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/metrics"
)

type finish int

const (
	finishNone finish = iota
	finishCompleted
	finishCancelled
)

// run is the live state of one task. Every field is guarded by mu.
type run struct {
	mu sync.Mutex

	task     entity.Task
	sources  []entity.SourceFile
	outcomes []entity.FileOutcome
	settled  int

	ctx    context.Context // the task's cancellation token
	cancel context.CancelFunc

	inflight        int // enqueued and not yet settled or discarded
	dispatchDone    bool
	cancelRequested bool
	finalized       bool // single-writer guard for the terminal transition

	subs map[chan entity.StatusView]struct{}
}

func (r *run) failLocked(idx int, reason string) {
	r.task.Files[idx].State = constants.FileStateFailed
	r.task.Files[idx].Error = reason
	r.outcomes[idx] = entity.FileOutcome{File: r.task.Files[idx], Failure: reason}
	r.settleLocked(r.task.Files[idx].Name)
}

func (r *run) succeedLocked(idx int, rec *entity.ExtractedRecord) {
	r.task.Files[idx].State = constants.FileStateSucceeded
	r.outcomes[idx] = entity.FileOutcome{File: r.task.Files[idx], Record: rec}
	r.settleLocked(r.task.Files[idx].Name)
}

// settleLocked advances progress; it never moves backwards. The message
// names the file but not its outcome, which only the result rows carry.
func (r *run) settleLocked(name string) {
	r.settled++
	if p := r.settled * 100 / len(r.sources); p > r.task.Progress {
		r.task.Progress = p
	}
	r.task.Message = fmt.Sprintf("processed %s (%d/%d files)", name, r.settled, len(r.sources))
}

// nextLocked decides whether the task is ready for its terminal transition
// and claims it. At most one caller ever gets a value other than finishNone.
func (r *run) nextLocked() finish {
	if r.finalized {
		return finishNone
	}
	if r.cancelRequested {
		if r.inflight == 0 && r.dispatchDone {
			r.finalized = true
			return finishCancelled
		}
		return finishNone
	}
	if r.settled == len(r.sources) {
		r.finalized = true
		return finishCompleted
	}
	return finishNone
}

// publishLocked hands the current view to every subscriber, replacing a
// view the subscriber has not read yet.
func (r *run) publishLocked() {
	view := r.task.View()
	for ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		ch <- view
	}
}

func (r *run) closeSubsLocked() {
	for ch := range r.subs {
		close(ch)
		delete(r.subs, ch)
	}
}

// finish performs the terminal transition claimed by nextLocked.
func (c *Coordinator) finish(r *run, next finish) {
	switch next {
	case finishCompleted:
		c.complete(r)
	case finishCancelled:
		c.cancelled(r)
	}
}

func (c *Coordinator) cancelled(r *run) {
	r.mu.Lock()
	for i := range r.task.Files {
		switch r.task.Files[i].State {
		case constants.FileStatePending, constants.FileStateRunning:
			r.task.Files[i].State = constants.FileStateSkipped
			metrics.FilesProcessed.WithLabelValues("skipped").Inc()
		}
	}
	r.task.Status = constants.TaskStatusCancelled
	r.task.Message = fmt.Sprintf("cancelled after %d of %d files", r.settled, len(r.sources))
	c.persistLocked(r)
	r.closeSubsLocked()
	r.mu.Unlock()

	c.retire(r)
}

func (c *Coordinator) complete(r *run) {
	r.mu.Lock()
	r.task.Message = "aggregating results"
	c.persistLocked(r)
	outcomes := append([]entity.FileOutcome(nil), r.outcomes...)
	r.mu.Unlock()

	res, err := c.aggregate(c.ctx, r.task.ID, r.task.CreatedAt, outcomes)

	r.mu.Lock()
	if err != nil {
		c.logger.Error("task.aggregate.failed", "task_id", r.task.ID, "error", err)
		r.task.Status = constants.TaskStatusFailed
		r.task.Message = err.Error()
	} else {
		r.task.Status = constants.TaskStatusCompleted
		r.task.Progress = 100
		r.task.ResultKey = res.TaskID
		r.task.Message = fmt.Sprintf("completed: %d of %d files extracted", res.Rows-res.Failed, res.Rows)
	}
	c.persistLocked(r)
	r.closeSubsLocked()
	r.mu.Unlock()

	c.retire(r)
}

// retire drops the live state once the terminal snapshot is stored.
func (c *Coordinator) retire(r *run) {
	r.cancel()
	c.forget(r.task.ID)
	metrics.TasksActive.Dec()
	metrics.TasksFinished.WithLabelValues(string(r.task.Status)).Inc()
	c.logger.Info("task.finished", "task_id", r.task.ID, "status", r.task.Status,
		"elapsed_ms", r.task.UpdatedAt.Sub(r.task.CreatedAt).Milliseconds())
}

// subscribe registers a channel that receives the task's views until it is terminal.
func (r *run) subscribe() (chan entity.StatusView, func()) {
	ch := make(chan entity.StatusView, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	ch <- r.task.View()
	if r.task.Status.IsTerminal() {
		close(ch)
		return ch, func() {}
	}
	r.subs[ch] = struct{}{}
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
}

// Subscribe streams status views of a task: the current view first, then
// every change. The channel is closed once the task is terminal.
func (c *Coordinator) Subscribe(ctx context.Context, id string) (<-chan entity.StatusView, func(), error) {
	if r := c.lookup(id); r != nil {
		ch, cancel := r.subscribe()
		return ch, cancel, nil
	}
	t, err := c.deps.Store.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan entity.StatusView, 1)
	ch <- t.View()
	close(ch)
	return ch, func() {}, nil
}
