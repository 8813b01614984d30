package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// fakeTasks serves one completed task "done" and one running task "busy".
type fakeTasks struct {
	mu        sync.Mutex
	submitted [][]entity.SourceFile
	cancelled []string
	submitErr error
}

var (
	doneView = entity.StatusView{TaskID: "done", Status: constants.TaskStatusCompleted, Progress: 100, Message: "completed: 1 of 1 files extracted"}
	busyView = entity.StatusView{TaskID: "busy", Status: constants.TaskStatusProcessing, Progress: 50, Message: "extracting b.pdf (1 pages)"}
)

func (f *fakeTasks) Submit(_ context.Context, files []entity.SourceFile) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if len(files) == 0 {
		return "", common.ErrEmptyBatch
	}
	f.submitted = append(f.submitted, files)
	return "new-task", nil
}

func (f *fakeTasks) view(id string) (entity.StatusView, error) {
	switch id {
	case "done":
		return doneView, nil
	case "busy":
		return busyView, nil
	}
	return entity.StatusView{}, fmt.Errorf("task %s: %w", id, common.ErrNotFound)
}

func (f *fakeTasks) GetStatus(_ context.Context, id string) (entity.StatusView, error) {
	return f.view(id)
}

func (f *fakeTasks) GetTask(_ context.Context, id string) (entity.Task, error) {
	v, err := f.view(id)
	if err != nil {
		return entity.Task{}, err
	}
	return entity.Task{ID: v.TaskID, Status: v.Status, Progress: v.Progress, Message: v.Message,
		Files: []entity.FileInfo{{Name: "a.pdf", State: constants.FileStateSucceeded}}}, nil
}

func (f *fakeTasks) ready(id string) error {
	v, err := f.view(id)
	if err != nil {
		return err
	}
	if v.Status != constants.TaskStatusCompleted {
		return fmt.Errorf("task %s is %s: %w", id, v.Status, common.ErrNotReady)
	}
	return nil
}

func (f *fakeTasks) GetResult(_ context.Context, id string, format constants.ExportFormat) ([]byte, error) {
	if err := f.ready(id); err != nil {
		return nil, err
	}
	return []byte("export:" + string(format)), nil
}

func (f *fakeTasks) GetValidation(_ context.Context, id string) (entity.ValidationResult, error) {
	if err := f.ready(id); err != nil {
		return nil, err
	}
	return entity.ValidationResult{"INV-1": {}, "INV-2": {"missing date"}}, nil
}

func (f *fakeTasks) GetAnomalies(_ context.Context, id string) ([]entity.Anomaly, error) {
	if err := f.ready(id); err != nil {
		return nil, err
	}
	return []entity.Anomaly{{InvoiceID: "INV-2", Source: "b.pdf", Flags: []string{"duplicate invoice number INV-2 (2 occurrences in batch)"}}}, nil
}

func (f *fakeTasks) Cancel(_ context.Context, id string) error {
	if _, err := f.view(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeTasks) Subscribe(_ context.Context, id string) (<-chan entity.StatusView, func(), error) {
	if _, err := f.view(id); err != nil {
		return nil, nil, err
	}
	ch := make(chan entity.StatusView, 3)
	ch <- entity.StatusView{TaskID: id, Status: constants.TaskStatusPending}
	ch <- busyView
	ch <- doneView
	close(ch)
	return ch, func() {}, nil
}

func newTestRouter(tasks Tasks, key string) http.Handler {
	return NewRouter(tasks, HTTPConfig{APIKey: key, Mode: "test", MaxUploadBytes: 1 << 20}, nil)
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestUpload(t *testing.T) {
	tasks := &fakeTasks{}
	router := newTestRouter(tasks, "")

	body, ct := multipartBody(t, map[string]string{"a.pdf": "%PDF-1.4"})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "new-task", resp.TaskID)
	assert.Equal(t, constants.TaskStatusPending, resp.Status)

	require.Len(t, tasks.submitted, 1)
	assert.Equal(t, "a.pdf", tasks.submitted[0][0].Name)
	assert.Equal(t, []byte("%PDF-1.4"), tasks.submitted[0][0].Data)
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name  string
		tasks *fakeTasks
		files map[string]string
		want  int
	}{
		{name: "no files", tasks: &fakeTasks{}, files: map[string]string{}, want: http.StatusBadRequest},
		{
			name:  "unsupported",
			tasks: &fakeTasks{submitErr: fmt.Errorf("notes.txt: %w", common.ErrUnsupportedFormat)},
			files: map[string]string{"notes.txt": "hello"},
			want:  http.StatusBadRequest,
		},
		{
			name:  "too large",
			tasks: &fakeTasks{},
			files: map[string]string{"big.pdf": strings.Repeat("x", 2<<20)},
			want:  http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.files)
			req := httptest.NewRequest(http.MethodPost, "/upload", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			newTestRouter(tt.tasks, "").ServeHTTP(rec, req)
			// a truncated body may surface as a plain parse error
			if tt.want == http.StatusRequestEntityTooLarge {
				assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
			} else {
				assert.Equal(t, tt.want, rec.Code)
			}
			assert.Empty(t, tt.tasks.submitted)
		})
	}
}

func TestReadRoutes(t *testing.T) {
	router := newTestRouter(&fakeTasks{}, "")

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, `"healthy"`},
		{"status", http.MethodGet, "/status/busy", http.StatusOK, `"progress":50`},
		{"status unknown", http.MethodGet, "/status/nope", http.StatusNotFound, "resource not found"},
		{"task", http.MethodGet, "/tasks/done", http.StatusOK, `"a.pdf"`},
		{"download csv", http.MethodGet, "/download/done", http.StatusOK, "export:csv"},
		{"download excel", http.MethodGet, "/download/done?format=excel", http.StatusOK, "export:excel"},
		{"download bad format", http.MethodGet, "/download/done?format=pdf", http.StatusBadRequest, "invalid format"},
		{"download not ready", http.MethodGet, "/download/busy", http.StatusConflict, "result not ready"},
		{"validation", http.MethodGet, "/validation/done", http.StatusOK, `"INV-2":["missing date"]`},
		{"validation not ready", http.MethodGet, "/validation/busy", http.StatusConflict, "result not ready"},
		{"anomalies", http.MethodGet, "/anomalies/done", http.StatusOK, `"invoice_id":"INV-2"`},
		{"anomalies unknown", http.MethodGet, "/anomalies/nope", http.StatusNotFound, "resource not found"},
		{"cancel", http.MethodPost, "/cancel/busy", http.StatusAccepted, `"task_id":"busy"`},
		{"cancel unknown", http.MethodPost, "/cancel/nope", http.StatusNotFound, "resource not found"},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "invoice_http_requests_total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestDownloadHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeTasks{}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/done?format=xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.FormatExcel.ContentType(), rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="done_invoices.xlsx"`, rec.Header().Get("Content-Disposition"))
}

func TestAPIKey(t *testing.T) {
	router := newTestRouter(&fakeTasks{}, "secret")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing key", "/status/done", "", http.StatusUnauthorized},
		{"wrong key", "/status/done", "nope", http.StatusUnauthorized},
		{"right key", "/status/done", "secret", http.StatusOK},
		{"query key", "/status/done?api_key=secret", "", http.StatusOK},
		{"health is open", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(apiKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWebsocketStreamsUntilTerminal(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(&fakeTasks{}, ""))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/busy"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	var statuses []constants.TaskStatus
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		assert.Equal(t, "status", msg.Type)
		statuses = append(statuses, msg.Payload.Status)
	}
	assert.Equal(t, []constants.TaskStatus{
		constants.TaskStatusPending, constants.TaskStatusProcessing, constants.TaskStatusCompleted,
	}, statuses)
}

func TestWebsocketUnknownTask(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(&fakeTasks{}, ""))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}
