package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

func text(s string) *entity.Field {
	return &entity.Field{Value: entity.TextValue{Text: s}}
}

func money(v float64) *entity.Field {
	return &entity.Field{Value: entity.NumericValue{Amount: entity.AmountFromFloat(v)}}
}

func sampleOutcomes() []entity.FileOutcome {
	unit := entity.AmountFromFloat(12.5)
	rec := &entity.ExtractedRecord{
		Source:        "a.pdf",
		Pages:         2,
		InvoiceNumber: text("INV-1"),
		VendorName:    text("ACME, Inc."),
		Currency:      text("EUR"),
		Total:         money(25),
		LineItems: []entity.LineItem{
			{Description: "Bolts \"M8\"", Quantity: 2, UnitPrice: &unit, Amount: *money(25)},
		},
	}
	return []entity.FileOutcome{
		{
			File:     entity.FileInfo{Name: "a.pdf", State: constants.FileStateSucceeded, Pages: 2},
			Record:   rec,
			Key:      "INV-1",
			Warnings: []string{"missing date", "missing total"},
		},
		{
			File:    entity.FileInfo{Name: "broken.zip", State: constants.FileStateFailed},
			Failure: "corrupt archive: zip: not a valid zip file",
		},
	}
}

func TestAggregate(t *testing.T) {
	anomalies := []entity.Anomaly{{InvoiceID: "INV-1", Source: "a.pdf", Flags: []string{"dup", "outlier"}}}
	table, err := Aggregate(sampleOutcomes(), anomalies)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)

	ok := table.Rows[0]
	require.Len(t, ok, len(Columns))
	assert.Equal(t, "a.pdf", ok[0])
	assert.Equal(t, "SUCCEEDED", ok[1])
	assert.Equal(t, "INV-1", ok[3])
	assert.Equal(t, "EUR", ok[9])
	assert.Equal(t, "25.00", ok[12])
	assert.Equal(t, "25.00", ok[13])
	assert.Equal(t, "1", ok[14])
	assert.Equal(t, "2", ok[15])
	assert.Equal(t, "missing date; missing total", ok[16])
	assert.Equal(t, "dup; outlier", ok[17])

	failed := table.Rows[1]
	require.Len(t, failed, len(Columns))
	assert.Equal(t, "broken.zip", failed[0])
	assert.Equal(t, "FAILED", failed[1])
	assert.Equal(t, "corrupt archive: zip: not a valid zip file", failed[2])
	for _, cell := range failed[3:] {
		assert.Empty(t, cell)
	}

	require.Len(t, table.Items, 1)
	assert.Equal(t, []string{"a.pdf", "INV-1", "1", "Bolts \"M8\"", "2", "12.50", "25.00"}, table.Items[0])
}

func TestAggregateErrors(t *testing.T) {
	_, err := Aggregate(nil, nil)
	assert.ErrorIs(t, err, common.ErrEmptyResultSet)

	_, err = Aggregate([]entity.FileOutcome{{Failure: "x"}}, nil)
	assert.ErrorIs(t, err, common.ErrAggregation)
}

func TestAllFailedStillAggregates(t *testing.T) {
	outcomes := []entity.FileOutcome{
		{File: entity.FileInfo{Name: "a.png", State: constants.FileStateFailed}, Failure: "no text detected"},
		{File: entity.FileInfo{Name: "b.png", State: constants.FileStateFailed}, Failure: "no text detected"},
	}
	table, err := Aggregate(outcomes, nil)
	require.NoError(t, err)
	assert.Len(t, table.Rows, 2)
	assert.Empty(t, table.Items)
}

func TestCSVAndXLSXAgree(t *testing.T) {
	table, err := Aggregate(sampleOutcomes(), nil)
	require.NoError(t, err)
	svc := NewService(nil)

	csvBytes, err := svc.Render(table, constants.FormatCSV)
	require.NoError(t, err)
	csvRows, err := csv.NewReader(bytes.NewReader(csvBytes)).ReadAll()
	require.NoError(t, err)

	xlsxBytes, err := svc.Render(table, constants.FormatExcel)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(xlsxBytes))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{invoicesSheet, itemsSheet}, f.GetSheetList())
	xlsxRows, err := f.GetRows(invoicesSheet)
	require.NoError(t, err)

	require.Equal(t, len(csvRows), len(xlsxRows))
	assert.Equal(t, Columns, csvRows[0])
	for i := range csvRows {
		// GetRows drops trailing empty cells
		got := append(xlsxRows[i], make([]string, len(csvRows[i])-len(xlsxRows[i]))...)
		assert.Equal(t, csvRows[i], got, "row %d", i)
	}

	items, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ItemColumns, items[0])
	assert.Equal(t, "Bolts \"M8\"", items[1][3])
}

func TestLongCellsMatchAcrossFormats(t *testing.T) {
	outcomes := sampleOutcomes()
	outcomes[0].Warnings = []string{strings.Repeat("ü", maxCellLen+500)}
	table, err := Aggregate(outcomes, nil)
	require.NoError(t, err)
	cell := table.Rows[0][16]
	assert.Equal(t, maxCellLen, utf8.RuneCountInString(cell))
	assert.True(t, strings.HasSuffix(cell, "…"))

	svc := NewService(nil)
	csvBytes, err := svc.Render(table, constants.FormatCSV)
	require.NoError(t, err)
	csvRows, err := csv.NewReader(bytes.NewReader(csvBytes)).ReadAll()
	require.NoError(t, err)

	xlsxBytes, err := svc.Render(table, constants.FormatExcel)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(xlsxBytes))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	xcell, err := f.GetCellValue(invoicesSheet, "Q2")
	require.NoError(t, err)

	assert.Equal(t, cell, csvRows[1][16])
	assert.Equal(t, cell, xcell)
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := NewService(nil).Render(&Table{}, constants.ExportFormat("pdf"))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "a", truncate("abcdef", 1))
}
