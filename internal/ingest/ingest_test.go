package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), "pdf-a")
	writeFile(t, filepath.Join(root, "sub", "b.PNG"), "png-b")
	writeFile(t, filepath.Join(root, "sub", "copy.jpg"), "pdf-a")
	writeFile(t, filepath.Join(root, "notes.txt"), "skip")
	writeFile(t, filepath.Join(root, ".hidden", "c.pdf"), "hidden-c")
	writeFile(t, filepath.Join(root, ".d.png"), "hidden")

	tests := []struct {
		name      string
		opts      Options
		wantNames []string
		wantDedup uint32
		wantMatch uint32
	}{
		{
			name:      "skip hidden",
			opts:      Options{SkipHidden: true},
			wantNames: []string{"a.pdf", "sub/b.PNG"},
			wantDedup: 1,
			wantMatch: 3,
		},
		{
			name:      "include hidden",
			opts:      Options{},
			wantNames: []string{".d.png", ".hidden/c.pdf", "a.pdf", "sub/b.PNG"},
			wantDedup: 1,
			wantMatch: 5,
		},
		{
			name:      "extension filter",
			opts:      Options{Extensions: []string{".PNG"}, SkipHidden: true},
			wantNames: []string{"sub/b.PNG"},
			wantMatch: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, results, stats, err := NewIngestor(tt.opts, nil).IngestDirectory(context.Background(), root)
			require.NoError(t, err)

			var names []string
			for _, f := range files {
				names = append(names, f.Name)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantMatch, stats.Matched)
			assert.Equal(t, tt.wantDedup, stats.Deduplicated)
			assert.Zero(t, stats.Failed)
			assert.Len(t, results, int(tt.wantMatch))
		})
	}
}

func TestIngestPath(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "inv.pdf")
	writeFile(t, pdf, "0123456789")
	txt := filepath.Join(dir, "inv.txt")
	writeFile(t, txt, "x")

	ctx := context.Background()

	src, res, err := NewIngestor(Options{}, nil).IngestPath(ctx, pdf, "inv.pdf")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, constants.MIMEPDF, src.MIMEType)
	assert.Equal(t, src.Hash(), res.HashHex)
	assert.EqualValues(t, 10, res.Size)

	_, _, err = NewIngestor(Options{}, nil).IngestPath(ctx, txt, "inv.txt")
	assert.ErrorIs(t, err, common.ErrUnsupportedFormat)

	_, _, err = NewIngestor(Options{MaxBytes: 4}, nil).IngestPath(ctx, pdf, "inv.pdf")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, _, err = NewIngestor(Options{}, nil).IngestPath(ctx, filepath.Join(dir, "missing.pdf"), "missing.pdf")
	assert.Error(t, err)
}

func TestWatchEmitsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.pdf"), "old")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ing := NewIngestor(Options{}, nil)
	events, _, err := Watch(ctx, WatchConfig{
		Roots:       []string{root},
		Allowed:     ing.Allowed,
		InitialScan: true,
		Debounce:    20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no watch event")
			return ""
		}
	}
	assert.Equal(t, filepath.Join(root, "existing.pdf"), next())

	writeFile(t, filepath.Join(root, "ignored.txt"), "x")
	writeFile(t, filepath.Join(root, "new.png"), "new")
	assert.Equal(t, filepath.Join(root, "new.png"), next())

	cancel()
	for range events {
	}
}

func TestWatchRequiresRoots(t *testing.T) {
	_, _, err := Watch(context.Background(), WatchConfig{}, nil)
	assert.Error(t, err)
}
