package decode

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"path"
	"sort"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

const maxEntryBytes = 64 << 20

type Config struct {
	MaxArchiveDepth int // nested zip levels, default 3
	MaxPages        int // per source file, 0 = no limit
}

// Result is the decoded form of one source file.
type Result struct {
	Kind     string
	Pages    []entity.Page
	Warnings []string
}

// Decoder turns a source file into ordered page rasters.
type Decoder struct {
	cfg    Config
	logger *slog.Logger
}

func NewDecoder(cfg Config, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxArchiveDepth <= 0 {
		cfg.MaxArchiveDepth = 3
	}
	return &Decoder{cfg: cfg, logger: logger}
}

// Decode produces the pages of src in document order. An archive yields the
// pages of every supported entry, entries sorted by path.
func (d *Decoder) Decode(ctx context.Context, src entity.SourceFile) (Result, error) {
	kind, err := Sniff(src.Data)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", src.Name, err)
	}
	st := &state{res: Result{Kind: kind}}
	if err := d.decode(ctx, st, kind, "", src.Data, 0); err != nil {
		return Result{Kind: kind, Warnings: st.res.Warnings}, err
	}
	if len(st.res.Pages) == 0 {
		if kind == constants.KindZIP {
			return st.res, fmt.Errorf("%s: archive yielded no pages: %w", src.Name, common.ErrEmptyBatch)
		}
		return st.res, fmt.Errorf("%s: no usable pages: %w", src.Name, common.ErrCorruptDocument)
	}
	d.logger.Debug("decode.ok", "file", src.Name, "kind", kind, "pages", len(st.res.Pages), "warnings", len(st.res.Warnings))
	return st.res, nil
}

type state struct {
	res     Result
	limited bool
}

func (s *state) warn(format string, args ...any) {
	s.res.Warnings = append(s.res.Warnings, fmt.Sprintf(format, args...))
}

func (d *Decoder) full(st *state) bool {
	if d.cfg.MaxPages <= 0 || len(st.res.Pages) < d.cfg.MaxPages {
		return false
	}
	if !st.limited {
		st.limited = true
		st.warn("page limit %d reached, remaining pages skipped", d.cfg.MaxPages)
	}
	return true
}

func (d *Decoder) addPage(st *state, entry string, img image.Image) {
	if d.full(st) {
		return
	}
	st.res.Pages = append(st.res.Pages, entity.Page{Index: len(st.res.Pages), Entry: entry, Image: img})
}

func (d *Decoder) decode(ctx context.Context, st *state, kind, entry string, data []byte, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch kind {
	case constants.KindJPEG, constants.KindPNG:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode %s image: %v: %w", kind, err, common.ErrCorruptDocument)
		}
		d.addPage(st, entry, img)
		return nil
	case constants.KindPDF:
		pages, warns, err := d.pdfPages(data)
		for _, w := range warns {
			st.warn("%s", prefixEntry(entry, w))
		}
		if err != nil {
			return err
		}
		for _, img := range pages {
			d.addPage(st, entry, img)
		}
		return nil
	case constants.KindZIP:
		return d.decodeArchive(ctx, st, entry, data, depth)
	}
	return common.ErrUnsupportedFormat
}

func (d *Decoder) decodeArchive(ctx context.Context, st *state, entry string, data []byte, depth int) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%v: %w", err, common.ErrCorruptArchive)
	}
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if !skipEntry(f) {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for _, f := range files {
		if d.full(st) {
			return nil
		}
		name := f.Name
		if entry != "" {
			name = entry + "/" + f.Name
		}
		b, err := readEntry(f)
		if err != nil {
			return fmt.Errorf("entry %s: %v: %w", name, err, common.ErrCorruptArchive)
		}
		kind, err := Sniff(b)
		if err != nil {
			st.warn("%s: unsupported entry skipped", name)
			continue
		}
		if kind == constants.KindZIP && depth+1 >= d.cfg.MaxArchiveDepth {
			st.warn("%s: nested archive exceeds depth %d, skipped", name, d.cfg.MaxArchiveDepth)
			continue
		}
		if err := d.decode(ctx, st, kind, name, b, depth+1); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			st.warn("%s: skipped: %v", name, err)
			d.logger.Warn("decode.entry.skipped", "entry", name, "error", err)
		}
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxEntryBytes {
		return nil, fmt.Errorf("entry larger than %d bytes", maxEntryBytes)
	}
	return b, nil
}

func prefixEntry(entry, msg string) string {
	if entry == "" {
		return msg
	}
	return path.Clean(entry) + ": " + msg
}
