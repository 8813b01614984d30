package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t96\tINVOICE\n" +
	"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t90\tINV-001\n" +
	"5\t1\t1\t1\t2\t1\t0\t0\t10\t10\t80\tTotal:\n" +
	"5\t1\t1\t1\t2\t2\t0\t0\t10\t10\t-1\t$1,234.50\n" +
	"5\t1\t1\t1\t2\t3\t0\t0\t10\t10\t70\t \n"

type fakeRunner struct {
	out   string
	err   error
	calls int
	args  []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls++
	f.args = args
	if f.err != nil {
		return nil, &RunError{Cmd: name, Stderr: "stderr text", Err: f.err}
	}
	return []byte(f.out), nil
}

func page() entity.Page {
	return entity.Page{Index: 0, Image: image.NewGray(image.Rect(0, 0, 20, 10))}
}

func TestParseTSV(t *testing.T) {
	res := parseTSV(sampleTSV)
	require.Len(t, res.Regions, 2)

	assert.Equal(t, "INVOICE INV-001", res.Regions[0].Text)
	assert.Equal(t, 0, res.Regions[0].Line)
	assert.Equal(t, "Total: $1,234.50", res.Regions[1].Text)
	assert.Equal(t, 1, res.Regions[1].Line)

	// engine mean 0.93 blended with heuristic 0.3 (base + keyword)
	assert.InDelta(t, 0.7*0.93+0.3*0.3, res.Regions[0].Confidence, 1e-9)
	assert.Equal(t, "INVOICE INV-001\nTotal: $1,234.50", res.Text())
	assert.False(t, res.Empty())
	assert.True(t, parseTSV("header only\n").Empty())
}

func TestTesseractRecognize(t *testing.T) {
	r := &fakeRunner{out: sampleTSV}
	tess := NewTesseract(Config{PSM: 6, TempDir: t.TempDir(), Preprocess: true, MaxImageWidth: 10}, nil).WithRunner(r)

	res, err := tess.Recognize(context.Background(), page())
	require.NoError(t, err)
	assert.Len(t, res.Regions, 2)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, "tsv", r.args[len(r.args)-1])
	assert.Contains(t, strings.Join(r.args, " "), "--psm 6")
	assert.Contains(t, strings.Join(r.args, " "), "-l eng")
}

func TestTesseractErrors(t *testing.T) {
	t.Run("missing binary is permanent", func(t *testing.T) {
		r := &fakeRunner{err: &exec.Error{Name: "tesseract", Err: exec.ErrNotFound}}
		_, err := NewTesseract(Config{TempDir: t.TempDir()}, nil).WithRunner(r).Recognize(context.Background(), page())
		require.ErrorIs(t, err, exec.ErrNotFound)
		assert.False(t, errors.Is(err, common.ErrTransientExtraction))
	})
	t.Run("crash is transient", func(t *testing.T) {
		r := &fakeRunner{err: errors.New("exit status 1")}
		_, err := NewTesseract(Config{TempDir: t.TempDir()}, nil).WithRunner(r).Recognize(context.Background(), page())
		require.ErrorIs(t, err, common.ErrTransientExtraction)
		assert.Contains(t, err.Error(), "stderr text")
	})
	t.Run("nil image", func(t *testing.T) {
		_, err := NewTesseract(Config{}, nil).Recognize(context.Background(), entity.Page{})
		require.Error(t, err)
	})
}

func TestNormalize(t *testing.T) {
	in := "Invoice\t\tNo  42\r\n\r\n\r\n\r\n-----\nTotal   10.00   \n"
	assert.Equal(t, "Invoice No 42\n\nTotal 10.00", Normalize(in))
	assert.Equal(t, "", Normalize(""))
}

func TestHeuristicConfidence(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{text: "hello world", want: 0.2},
		{text: "Invoice date 2024-03-01", want: 0.5},
		{text: "Total USD 1,200.00", want: 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.InDelta(t, tt.want, heuristicConfidence(tt.text), 1e-9)
		})
	}
	assert.InDelta(t, 0.2, blendConfidence(0, "hello"), 1e-9)
}

func TestCached(t *testing.T) {
	var calls atomic.Int32
	inner := RecognizerFunc(func(_ context.Context, p entity.Page) (Result, error) {
		calls.Add(1)
		return Result{Regions: []Region{{Text: fmt.Sprintf("page %d", p.Index), Confidence: 0.9}}}, nil
	})
	c, err := NewCached(inner, 8, nil)
	require.NoError(t, err)

	ctx := WithContentHash(context.Background(), "abc")
	for i := 0; i < 3; i++ {
		res, err := c.Recognize(ctx, entity.Page{Index: 1})
		require.NoError(t, err)
		assert.Equal(t, "page 1", res.Text())
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())

	_, err = c.Recognize(ctx, entity.Page{Index: 2})
	require.NoError(t, err)
	_, err = c.Recognize(context.Background(), entity.Page{Index: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "new page and missing hash both reach the engine")
}

func TestCachedSkipsErrors(t *testing.T) {
	var calls atomic.Int32
	inner := RecognizerFunc(func(context.Context, entity.Page) (Result, error) {
		calls.Add(1)
		return Result{}, common.Transient(errors.New("busy"))
	})
	c, err := NewCached(inner, 0, nil)
	require.NoError(t, err)
	ctx := WithContentHash(context.Background(), "abc")
	_, err = c.Recognize(ctx, entity.Page{})
	require.Error(t, err)
	_, err = c.Recognize(ctx, entity.Page{})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestTailBufferKeepsEnd(t *testing.T) {
	tb := &tailBuffer{max: 5}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defgh\n"))
	assert.Equal(t, "efgh", tb.String())

	err := &RunError{Cmd: "tesseract", Stderr: "bad image", Err: errors.New("exit status 1")}
	assert.Equal(t, "tesseract: exit status 1: bad image", err.Error())
}
