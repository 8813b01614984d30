package task

import (
	"context"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// RunJanitor sweeps on every JanitorInterval until ctx ends.
func (c *Coordinator) RunJanitor(ctx context.Context) error {
	interval := c.cfg.JanitorInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.logger.Warn("task.janitor.failed", "error", err)
			}
		}
	}
}

// Sweep evicts terminal tasks past retention together with their exports,
// and reports tasks that have been processing for too long. It returns the
// number of evicted tasks.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	tasks, err := c.deps.Store.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	now := c.now()
	evicted := 0
	for _, t := range tasks {
		switch {
		case t.Status.IsTerminal():
			if c.cfg.Retention <= 0 || now.Sub(t.UpdatedAt) < c.cfg.Retention {
				continue
			}
			if t.Status == constants.TaskStatusCompleted {
				for _, f := range []constants.ExportFormat{constants.FormatCSV, constants.FormatExcel} {
					if err := c.deps.Blobs.Delete(ctx, ResultKey(t.ID, f)); err != nil {
						c.logger.Warn("task.janitor.blob_delete_failed", "task_id", t.ID, "error", err)
					}
				}
			}
			if err := c.deps.Store.DeleteTask(ctx, t.ID); err != nil {
				return evicted, err
			}
			evicted++
			c.logger.Info("task.janitor.evicted", "task_id", t.ID, "status", t.Status)
		case t.Status == constants.TaskStatusProcessing && c.cfg.LongRunning > 0 && now.Sub(t.CreatedAt) > c.cfg.LongRunning:
			c.logger.Warn("task.long_running", "task_id", t.ID, "progress", t.Progress,
				"running_for", now.Sub(t.CreatedAt).String(), "message", t.Message)
		}
	}
	return evicted, nil
}
