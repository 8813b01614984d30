package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// fakeS3 serves path-style object requests for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/bucket/")
	switch r.Method {
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.objects[key] = b
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		b, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = w.Write(b)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func backends(t *testing.T) map[string]ObjectStorage {
	t.Helper()
	srv := httptest.NewServer(&fakeS3{objects: map[string][]byte{}})
	t.Cleanup(srv.Close)

	s3, err := New(context.Background(), Config{Type: TypeS3, S3: S3Config{
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "bucket",
		Prefix:    "exports",
	}})
	require.NoError(t, err)
	mem, err := New(context.Background(), Config{})
	require.NoError(t, err)
	return map[string]ObjectStorage{"memory": mem, "s3": s3}
}

func TestObjectStorage(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("a,b\n1,2\n")
			require.NoError(t, s.Put(ctx, "t-1/invoices.csv", data, "text/csv"))

			ok, err := s.Exists(ctx, "t-1/invoices.csv")
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get(ctx, "t-1/invoices.csv")
			require.NoError(t, err)
			assert.Equal(t, data, got)

			require.NoError(t, s.Delete(ctx, "t-1/invoices.csv"))
			ok, err = s.Exists(ctx, "t-1/invoices.csv")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, "t-1/invoices.csv")
			assert.ErrorIs(t, err, common.ErrNotFound)
		})
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "gcs"})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Type: TypeS3})
	assert.Error(t, err)
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "minio:9000", normalizeEndpoint("http://minio:9000/"))
	assert.Equal(t, "s3.example.com", normalizeEndpoint("https://s3.example.com/path"))
}
