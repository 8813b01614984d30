package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/app"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ingest"
)

var (
	initialScan bool
	debounce    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Submit every new document dropped into the given directories",
	Long: `watch submits each new or rewritten document as its own task and writes
<out>/<task-id>.csv and .xlsx once the task completes. Ctrl-C stops
watching and drains in-flight tasks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&outDir, "out", ".", "directory for per-task exports")
	watchCmd.Flags().StringSliceVar(&extensions, "ext", nil, "extensions to pick up (default: every supported format)")
	watchCmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "watch hidden files and directories")
	watchCmd.Flags().BoolVar(&initialScan, "initial-scan", false, "also submit files already present")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a written file is submitted")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, appOptions...)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ing := ingest.NewIngestor(ingest.Options{
		Extensions: extensions,
		SkipHidden: !includeHidden,
		MaxBytes:   cfg.Server.MaxUploadBytes,
	}, logger)

	paths, errs, err := ingest.Watch(ctx, ingest.WatchConfig{
		Roots:       args,
		Allowed:     ing.Allowed,
		InitialScan: initialScan,
		Debounce:    debounce,
		SkipHidden:  !includeHidden,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info("watching", "roots", args, "out", outDir)

	// results are collected with a detached context so Ctrl-C drains them
	var g errgroup.Group
	for paths != nil || errs != nil {
		select {
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watch error", "error", err)
		case path, ok := <-paths:
			if !ok {
				paths = nil
				continue
			}
			src, res, err := ing.IngestPath(ctx, path, filepath.Base(path))
			if err != nil {
				logger.Warn("ingest failed", "path", path, "error", err)
				continue
			}
			if src == nil {
				logger.Info("duplicate skipped", "path", path, "sha256", res.HashHex)
				continue
			}
			id, err := a.Coordinator.Submit(ctx, []entity.SourceFile{*src})
			if err != nil {
				logger.Warn("submit failed", "path", path, "error", err)
				continue
			}
			logger.Info("task submitted", "task_id", id, "path", path)
			g.Go(func() error {
				view, err := waitTerminal(context.Background(), a.Coordinator, id, nil)
				if err != nil {
					logger.Warn("wait failed", "task_id", id, "error", err)
					return nil
				}
				if view.Status != constants.TaskStatusCompleted {
					logger.Warn("task did not complete", "task_id", id, "status", view.Status, "message", view.Message)
					return nil
				}
				written, err := writeExports(context.Background(), a.Coordinator, id, outDir, id)
				if err != nil {
					logger.Warn("export failed", "task_id", id, "error", err)
					return nil
				}
				logger.Info("task exported", "task_id", id, "path", path, "files", written)
				return nil
			})
		}
	}
	return g.Wait()
}
