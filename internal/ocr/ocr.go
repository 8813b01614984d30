package ocr

import (
	"context"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Region is one recognised text line.
type Region struct {
	Text       string
	Confidence float64 // 0..1
	Line       int     // 0-based line index within the page
}

// Result is the recognised text of a single page.
type Result struct {
	Regions []Region
}

// Text joins region text in reading order.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Regions))
	for _, reg := range r.Regions {
		parts = append(parts, reg.Text)
	}
	return strings.Join(parts, "\n")
}

// Empty reports whether the page produced no text.
func (r Result) Empty() bool {
	for _, reg := range r.Regions {
		if strings.TrimSpace(reg.Text) != "" {
			return false
		}
	}
	return true
}

// Recognizer is the text-recognition capability. Implementations return an
// error wrapping common.ErrTransientExtraction for retryable failures.
type Recognizer interface {
	Recognize(ctx context.Context, page entity.Page) (Result, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, page entity.Page) (Result, error)

func (f RecognizerFunc) Recognize(ctx context.Context, page entity.Page) (Result, error) {
	return f(ctx, page)
}

type ctxKey string

const ctxKeyContentHash ctxKey = "ocr.content_hash_hex"

// WithContentHash stores the hex-encoded SHA256 of the source file for the cache.
func WithContentHash(ctx context.Context, hex string) context.Context {
	return context.WithValue(ctx, ctxKeyContentHash, hex)
}

func contentHashFromCtx(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyContentHash).(string)
	return v, ok && v != ""
}
