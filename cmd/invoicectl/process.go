package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/app"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ingest"
	"github.com/joseph-ayodele/invoice-extractor/internal/task"
)

var (
	outDir        string
	extensions    []string
	includeHidden bool
	workers       int
	waitTimeout   time.Duration
)

var processCmd = &cobra.Command{
	Use:   "process <path>...",
	Short: "Extract invoices from files or directories and write CSV/XLSX exports",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().StringVar(&outDir, "out", ".", "directory for invoices.csv and invoices.xlsx")
	processCmd.Flags().StringSliceVar(&extensions, "ext", nil, "extensions to pick up (default: every supported format)")
	processCmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "descend into hidden files and directories")
	processCmd.Flags().IntVar(&workers, "workers", 0, "worker override (default from config)")
	processCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Minute, "give up waiting for the task after this long")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Pipeline.Workers = workers
	}
	ctx := cmd.Context()

	ing := ingest.NewIngestor(ingest.Options{
		Extensions: extensions,
		SkipHidden: !includeHidden,
		MaxBytes:   cfg.Server.MaxUploadBytes,
	}, logger)

	var files []entity.SourceFile
	for _, path := range args {
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			srcs, _, stats, err := ing.IngestDirectory(ctx, path)
			if err != nil {
				return err
			}
			logger.Info("ingest.directory", "root", path, "matched", stats.Matched, "succeeded", stats.Succeeded,
				"deduplicated", stats.Deduplicated, "failed", stats.Failed)
			files = append(files, srcs...)
			continue
		}
		src, _, err := ing.IngestPath(ctx, path, filepath.Base(path))
		if err != nil {
			return err
		}
		if src != nil {
			files = append(files, *src)
		}
	}

	a, err := app.New(ctx, cfg, logger, appOptions...)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	id, err := a.Coordinator.Submit(ctx, files)
	if err != nil {
		return err
	}
	logger.Info("task submitted", "task_id", id, "files", len(files))

	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	view, err := waitTerminal(waitCtx, a.Coordinator, id, func(v entity.StatusView) {
		logger.Info("task.progress", "task_id", id, "status", v.Status, "progress", v.Progress, "message", v.Message)
	})
	if err != nil {
		if waitCtx.Err() != nil {
			_ = a.Coordinator.Cancel(context.Background(), id)
		}
		return err
	}
	if view.Status != constants.TaskStatusCompleted {
		return fmt.Errorf("task %s %s: %s", id, strings.ToLower(string(view.Status)), view.Message)
	}

	written, err := writeExports(ctx, a.Coordinator, id, outDir, "invoices")
	if err != nil {
		return err
	}
	for _, p := range written {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return printReport(ctx, cmd.OutOrStdout(), a.Coordinator, id)
}

// waitTerminal follows the task's status stream until it is terminal.
func waitTerminal(ctx context.Context, c *task.Coordinator, id string, onView func(entity.StatusView)) (entity.StatusView, error) {
	ch, unsubscribe, err := c.Subscribe(ctx, id)
	if err != nil {
		return entity.StatusView{}, err
	}
	defer unsubscribe()

	var last entity.StatusView
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case v, ok := <-ch:
			if !ok {
				return c.GetStatus(ctx, id)
			}
			last = v
			if onView != nil {
				onView(v)
			}
			if v.Status.IsTerminal() {
				return v, nil
			}
		}
	}
}

// writeExports stores both export formats as <dir>/<base>.csv and .xlsx.
func writeExports(ctx context.Context, c *task.Coordinator, id, dir, base string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	for _, format := range []constants.ExportFormat{constants.FormatCSV, constants.FormatExcel} {
		data, err := c.GetResult(ctx, id, format)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, base+"."+format.Ext())
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

type report struct {
	TaskID     string                  `json:"task_id"`
	Validation entity.ValidationResult `json:"validation"`
	Anomalies  []entity.Anomaly        `json:"anomalies"`
}

func printReport(ctx context.Context, w io.Writer, c *task.Coordinator, id string) error {
	validation, err := c.GetValidation(ctx, id)
	if err != nil {
		return err
	}
	anomalies, err := c.GetAnomalies(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report{TaskID: id, Validation: validation, Anomalies: anomalies})
}
