package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Columns is the fixed column order shared by the CSV and XLSX outputs.
var Columns = []string{
	"Source File",
	"Status",
	"Failure Reason",
	"Invoice Number",
	"Vendor Name",
	"Vendor Address",
	"Customer Address",
	"Issue Date",
	"Due Date",
	"Currency",
	"Subtotal",
	"Tax",
	"Total",
	"Line Item Sum",
	"Line Items",
	"Pages",
	"Validation Warnings",
	"Anomaly Flags",
}

// ItemColumns is the column order of the line items sheet.
var ItemColumns = []string{
	"Source File",
	"Invoice Number",
	"Line",
	"Description",
	"Quantity",
	"Unit Price",
	"Amount",
}

const listSep = "; "

// Table is the aggregated result of a task: one row per submitted source file.
type Table struct {
	Rows  [][]string
	Items [][]string
}

// Aggregate builds the result table. Outcomes must be in submission order;
// failed files keep their row with empty fields and the failure reason.
func Aggregate(outcomes []entity.FileOutcome, anomalies []entity.Anomaly) (*Table, error) {
	if len(outcomes) == 0 {
		return nil, common.ErrEmptyResultSet
	}
	flags := make(map[string][]string, len(anomalies))
	for _, a := range anomalies {
		flags[a.InvoiceID] = append(flags[a.InvoiceID], a.Flags...)
	}

	t := &Table{}
	for i, o := range outcomes {
		if o.File.Name == "" {
			return nil, fmt.Errorf("%w: outcome %d has no source file", common.ErrAggregation, i)
		}
		if o.Failed() {
			row := make([]string, len(Columns))
			row[0] = o.File.Name
			row[1] = string(o.File.State)
			row[2] = o.Failure
			row[15] = pagesCell(o.File.Pages)
			t.Rows = append(t.Rows, row)
			continue
		}
		r := o.Record
		lineSum := ""
		if sum, ok := r.LineItemSum(); ok {
			lineSum = sum.String()
		}
		t.Rows = append(t.Rows, []string{
			o.File.Name,
			string(o.File.State),
			"",
			r.InvoiceNumber.String(),
			r.VendorName.String(),
			r.VendorAddress.String(),
			r.CustomerAddress.String(),
			r.IssueDate.String(),
			r.DueDate.String(),
			r.Currency.String(),
			r.Subtotal.String(),
			r.Tax.String(),
			r.Total.String(),
			lineSum,
			strconv.Itoa(len(r.LineItems)),
			pagesCell(r.Pages),
			strings.Join(o.Warnings, listSep),
			strings.Join(flags[o.Key], listSep),
		})
		for j, li := range r.LineItems {
			unit := ""
			if li.UnitPrice != nil {
				unit = li.UnitPrice.String()
			}
			qty := ""
			if li.Quantity > 0 {
				qty = strconv.FormatFloat(li.Quantity, 'f', -1, 64)
			}
			t.Items = append(t.Items, []string{
				o.File.Name,
				r.InvoiceNumber.String(),
				strconv.Itoa(j + 1),
				li.Description,
				qty,
				unit,
				li.Amount.String(),
			})
		}
	}
	capCells(t.Rows)
	capCells(t.Items)
	return t, nil
}

// capCells applies the spreadsheet cell limit to every cell so CSV and XLSX
// carry the same text.
func capCells(rows [][]string) {
	for _, row := range rows {
		for i, v := range row {
			row[i] = truncate(v, maxCellLen)
		}
	}
}

func pagesCell(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
