package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

const (
	invoicesSheet = "Invoices"
	itemsSheet    = "Line Items"

	maxCellLen  = 32767 // excel's per-cell character limit
	minColWidth = 10
	maxColWidth = 60
)

// Service serializes an aggregated Table as CSV or XLSX bytes.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// Render serializes t in the requested format.
func (s *Service) Render(t *Table, format constants.ExportFormat) ([]byte, error) {
	switch format {
	case constants.FormatCSV:
		return s.CSV(t)
	case constants.FormatExcel:
		return s.XLSX(t)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// CSV writes the header and one record per row.
func (s *Service) CSV(t *Table) ([]byte, error) {
	start := time.Now()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, fmt.Errorf("csv write: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("csv write: %w", err)
	}
	s.logger.Info("export.csv.ok",
		"rows", len(t.Rows),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// XLSX returns a workbook with an "Invoices" sheet carrying the same rows
// as the CSV, and a "Line Items" sheet.
func (s *Service) XLSX(t *Table) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", invoicesSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	activeIndex, _ := f.GetSheetIndex(invoicesSheet)
	f.SetActiveSheet(activeIndex)

	if err := writeSheet(f, invoicesSheet, Columns, t.Rows); err != nil {
		return nil, err
	}
	if err := writeSheet(f, itemsSheet, ItemColumns, t.Items); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(t.Rows),
		"line_items", len(t.Items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]string) error {
	widths := make([]int, len(headers))
	write := func(col, row int, v string) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		v = truncate(v, maxCellLen)
		if n := utf8.RuneCountInString(v); n > widths[col-1] {
			widths[col-1] = n
		}
		return f.SetCellStr(sheet, cell, v)
	}

	for i, h := range headers {
		if err := write(i+1, 1, h); err != nil {
			return fmt.Errorf("xlsx header: %w", err)
		}
	}
	for r, row := range rows {
		for c, v := range row {
			if err := write(c+1, r+2, v); err != nil {
				return fmt.Errorf("xlsx row %d: %w", r+1, err)
			}
		}
	}

	// size columns to their content
	for i, w := range widths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		width := float64(min(max(w+2, minColWidth), maxColWidth))
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return fmt.Errorf("xlsx width: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
