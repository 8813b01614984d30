package task

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/anomaly"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/export"
	"github.com/joseph-ayodele/invoice-extractor/internal/metrics"
	"github.com/joseph-ayodele/invoice-extractor/internal/validate"
)

// ResultKey is the object key of a task's export in the given format.
func ResultKey(taskID string, format constants.ExportFormat) string {
	return path.Join("results", taskID, "invoices."+format.Ext())
}

// aggregate validates, scores and serializes the settled outcomes, then
// persists the exports and the result. Any error fails the whole task and
// leaves no partial result behind.
func (c *Coordinator) aggregate(ctx context.Context, taskID string, created time.Time, outcomes []entity.FileOutcome) (res entity.TaskResult, err error) {
	start := time.Now()
	defer metrics.ObserveStage("aggregate", start)

	var written []string
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err == nil {
			return
		}
		for _, key := range written {
			_ = c.deps.Blobs.Delete(context.WithoutCancel(ctx), key)
		}
		err = fmt.Errorf("%w: %v", common.ErrAggregation, err)
	}()

	var records []*entity.ExtractedRecord
	var owners []int
	failed := 0
	for i, o := range outcomes {
		if o.Failed() {
			failed++
			continue
		}
		records = append(records, o.Record)
		owners = append(owners, i)
	}

	keys := validate.Keys(records)
	validation := validate.Batch(records, validate.Options{Now: created})
	for j, i := range owners {
		outcomes[i].Key = keys[j]
		outcomes[i].Warnings = validation[keys[j]]
	}

	anomalies := []entity.Anomaly{}
	if c.deps.Scorer != nil {
		if anomalies, err = c.deps.Scorer.Score(ctx, records, keys); err != nil {
			return entity.TaskResult{}, fmt.Errorf("score: %w", err)
		}
	}

	table, err := export.Aggregate(outcomes, anomalies)
	if err != nil {
		return entity.TaskResult{}, err
	}

	keysByFormat := map[constants.ExportFormat]string{}
	for _, format := range []constants.ExportFormat{constants.FormatCSV, constants.FormatExcel} {
		data, err := c.deps.Exporter.Render(table, format)
		if err != nil {
			return entity.TaskResult{}, err
		}
		key := ResultKey(taskID, format)
		if err := c.deps.Blobs.Put(ctx, key, data, format.ContentType()); err != nil {
			return entity.TaskResult{}, fmt.Errorf("store %s export: %w", format, err)
		}
		written = append(written, key)
		keysByFormat[format] = key
	}

	res = entity.TaskResult{
		TaskID:     taskID,
		Rows:       len(outcomes),
		Failed:     failed,
		CSVKey:     keysByFormat[constants.FormatCSV],
		XLSXKey:    keysByFormat[constants.FormatExcel],
		Validation: validation,
		Anomalies:  anomalies,
		CreatedAt:  c.now(),
	}
	if err := c.deps.Store.SaveResult(ctx, res); err != nil {
		return entity.TaskResult{}, fmt.Errorf("save result: %w", err)
	}

	if c.deps.Baseline != nil {
		if err := c.deps.Baseline.RecordInvoices(ctx, taskID, anomaly.InvoiceNumbers(records)); err != nil {
			c.logger.Warn("task.baseline.failed", "task_id", taskID, "error", err)
		}
	}

	c.logger.Info("task.aggregate.ok", "task_id", taskID, "rows", res.Rows, "failed", failed,
		"anomalies", len(anomalies), "elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}
