// Package ingest loads source files from the local filesystem for the CLI.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Result is the per-file ingest outcome.
type Result struct {
	Path         string
	Name         string
	HashHex      string
	Size         int64
	Deduplicated bool // same content as an earlier file of the run
	Err          string
}

// Stats summarizes a directory ingest.
type Stats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Options controls which files are picked up. Zero values select the
// default extensions and no size limit.
type Options struct {
	Extensions []string
	SkipHidden bool
	MaxBytes   int64
}

// Ingestor turns paths into source files, skipping content it has already seen.
type Ingestor struct {
	exts   map[string]struct{}
	opts   Options
	seen   map[string]string // hash -> first path
	logger *slog.Logger
}

func NewIngestor(opts Options, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	exts := constants.AllowedExtensions
	if len(opts.Extensions) > 0 {
		exts = map[string]struct{}{}
		for _, e := range opts.Extensions {
			if e = constants.NormalizeExt(strings.TrimSpace(e)); e != "" {
				exts[e] = struct{}{}
			}
		}
	}
	return &Ingestor{exts: exts, opts: opts, seen: map[string]string{}, logger: logger}
}

// Allowed reports whether path has one of the selected extensions.
func (i *Ingestor) Allowed(path string) bool {
	_, ok := i.exts[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}

// IngestPath reads one file. name is the file name reported downstream.
// A nil SourceFile with a nil error means the content was a duplicate.
func (i *Ingestor) IngestPath(ctx context.Context, path, name string) (*entity.SourceFile, Result, error) {
	out := Result{Path: path, Name: name}
	if err := ctx.Err(); err != nil {
		return nil, out, err
	}
	if !i.Allowed(path) {
		return nil, out, fmt.Errorf("%s: extension %q: %w", path, filepath.Ext(path), common.ErrUnsupportedFormat)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, out, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			i.logger.Warn("ingest.close.failed", "path", path, "error", err)
		}
	}()

	var r io.Reader = f
	if i.opts.MaxBytes > 0 {
		r = io.LimitReader(f, i.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, out, fmt.Errorf("read %s: %w", path, err)
	}
	if i.opts.MaxBytes > 0 && int64(len(data)) > i.opts.MaxBytes {
		return nil, out, fmt.Errorf("%s exceeds %d bytes: %w", path, i.opts.MaxBytes, common.ErrInvalidInput)
	}

	sum := sha256.Sum256(data)
	out.HashHex = hex.EncodeToString(sum[:])
	out.Size = int64(len(data))
	if first, ok := i.seen[out.HashHex]; ok {
		out.Deduplicated = true
		i.logger.Info("ingest.file.duplicate", "path", path, "first", first)
		return nil, out, nil
	}
	i.seen[out.HashHex] = path

	return &entity.SourceFile{
		Name:     name,
		MIMEType: constants.MIMEForExt(filepath.Ext(path)),
		Data:     data,
	}, out, nil
}

// IngestDirectory walks root and ingests every matching file. File names are
// slash-separated paths relative to root, so entries in different folders
// stay distinct.
func (i *Ingestor) IngestDirectory(ctx context.Context, root string) ([]entity.SourceFile, []Result, Stats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, nil, Stats{}, errors.New("root path is required")
	}

	var files []entity.SourceFile
	var results []Result
	var stats Stats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if i.opts.SkipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !i.Allowed(path) {
			return nil
		}
		stats.Matched++

		name, err := filepath.Rel(root, path)
		if err != nil {
			name = filepath.Base(path)
		}
		src, r, err := i.IngestPath(ctx, path, filepath.ToSlash(name))
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
			return nil
		}
		files = append(files, *src)
		return nil
	})
	if err != nil {
		return files, results, stats, fmt.Errorf("walk: %w", err)
	}

	i.logger.Info("ingest.directory.ok", "root", root, "scanned", stats.Scanned, "matched", stats.Matched,
		"succeeded", stats.Succeeded, "deduplicated", stats.Deduplicated, "failed", stats.Failed)
	return files, results, stats, nil
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
