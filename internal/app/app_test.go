package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func lines(texts ...string) ocr.Result {
	var res ocr.Result
	for i, txt := range texts {
		res.Regions = append(res.Regions, ocr.Region{Text: txt, Confidence: 0.9, Line: i})
	}
	return res
}

// byWidth tells the two test images apart by their width.
var byWidth = ocr.RecognizerFunc(func(_ context.Context, page entity.Page) (ocr.Result, error) {
	switch page.Image.Bounds().Dx() {
	case 10:
		return lines(
			"ACME Corporation",
			"Invoice No: INV-001",
			"Invoice Date: 2024-03-01",
			"Widget 2 50.00 100.00",
			"Subtotal 100.00",
			"Tax 10.00",
			"Total Due USD 110.00",
		), nil
	case 20:
		return lines(
			"Globex Ltd",
			"Invoice No: INV-002",
			"Invoice Date: 2024-03-05",
			"Total Due USD 99.00",
		), nil
	}
	return ocr.Result{}, nil
})

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := common.LoadConfig("")
	require.NoError(t, err)
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.RetryInitialBackoff = time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil, WithRecognizer(byWidth), WithTagger(nil))
	require.NoError(t, err)
	defer a.Close(ctx)
	require.NoError(t, a.HealthCheck(ctx))

	id, err := a.Coordinator.Submit(ctx, []entity.SourceFile{
		{Name: "a.png", Data: pngBytes(t, 10, 10)},
		{Name: "b.png", Data: pngBytes(t, 20, 10)},
		{Name: "blank.png", Data: pngBytes(t, 30, 10)},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := a.Coordinator.GetStatus(ctx, id)
		require.NoError(t, err)
		return v.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)

	v, err := a.Coordinator.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, constants.TaskStatusCompleted, v.Status, v.Message)

	data, err := a.Coordinator.GetResult(ctx, id, constants.FormatCSV)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"a.png", "SUCCEEDED", "", "INV-001"}, rows[1][:4])
	assert.Equal(t, []string{"b.png", "SUCCEEDED", "", "INV-002"}, rows[2][:4])
	assert.Equal(t, "FAILED", rows[3][1])
	assert.Contains(t, rows[3][2], "no text detected")

	validation, err := a.Coordinator.GetValidation(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, validation["INV-001"])
	assert.Empty(t, validation["INV-002"])

	// the task survives in the sql store after the live state is dropped
	stored, err := a.Store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusCompleted, stored.Status)
	seen, err := a.Store.SeenInvoices(ctx, []string{"INV-001", "INV-404"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"INV-001": id}, seen)
}

func TestNewRejectsBadStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "ftp"
	_, err := New(context.Background(), cfg, nil, WithRecognizer(byWidth))
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "STORAGE_INIT", appErr.Code)
}
