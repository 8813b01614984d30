package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "eng"
	TessdataDir   string

	PSM int // e.g. 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	Preprocess    bool
	MaxImageWidth int    // downscale wider pages, 0 = keep
	TempDir       string // "" = os default
}

// Tesseract runs the tesseract CLI in TSV mode.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	return &Tesseract{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner, for tests.
func (t *Tesseract) WithRunner(r Runner) *Tesseract {
	t.runner = r
	return t
}

func (t *Tesseract) Recognize(ctx context.Context, page entity.Page) (Result, error) {
	if page.Image == nil {
		return Result{}, fmt.Errorf("page %d has no image", page.Index)
	}
	img := page.Image
	if t.cfg.Preprocess {
		img = Preprocess(img, t.cfg.MaxImageWidth)
	}

	path, cleanup, err := writeTempPNG(t.cfg.TempDir, img)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	return t.RecognizeFile(ctx, path)
}

// RecognizeFile runs tesseract on an image already on disk.
func (t *Tesseract) RecognizeFile(ctx context.Context, path string) (Result, error) {
	out, err := t.runner.Run(ctx, t.cfg.Tesseract, t.args(path)...)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Result{}, ctx.Err()
		case errors.Is(err, exec.ErrNotFound):
			return Result{}, fmt.Errorf("tesseract binary %q: %w", t.cfg.Tesseract, err)
		}
		return Result{}, common.Transient(err)
	}
	return parseTSV(string(out)), nil
}

// tesseract <file> stdout -l <lang> [--psm n] [--oem n] [--tessdata-dir d] tsv
func (t *Tesseract) args(path string) []string {
	args := []string{path, "stdout", "-l", t.cfg.TesseractLang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return append(args, "tsv")
}

func writeTempPNG(dir string, img image.Image) (string, func(), error) {
	f, err := os.CreateTemp(dir, "invoice-page-*.png")
	if err != nil {
		return "", nil, fmt.Errorf("create temp page: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("encode temp page: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

type lineKey struct{ block, par, line int }

// parseTSV groups word rows (level 5) into lines. The line confidence blends
// the mean word confidence with the content heuristic.
// Columns: level page_num block_num par_num line_num word_num left top width height conf text
func parseTSV(out string) Result {
	type acc struct {
		words []string
		sum   float64
		n     int
	}
	var order []lineKey
	lines := map[lineKey]*acc{}

	for i, ln := range strings.Split(out, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		k := lineKey{atoi(cols[2]), atoi(cols[3]), atoi(cols[4])}
		a, ok := lines[k]
		if !ok {
			a = &acc{}
			lines[k] = a
			order = append(order, k)
		}
		a.words = append(a.words, word)
		if c, err := strconv.ParseFloat(cols[10], 64); err == nil && c >= 0 {
			a.sum += c
			a.n++
		}
	}

	res := Result{Regions: make([]Region, 0, len(order))}
	for i, k := range order {
		a := lines[k]
		text := Normalize(strings.Join(a.words, " "))
		var engine float64
		if a.n > 0 {
			engine = a.sum / float64(a.n) / 100
		}
		res.Regions = append(res.Regions, Region{Text: text, Confidence: blendConfidence(engine, text), Line: i})
	}
	return res
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
