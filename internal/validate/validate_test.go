package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

func amount(v float64) *entity.Field {
	return &entity.Field{Value: entity.NumericValue{Amount: entity.AmountFromFloat(v)}, Confidence: 0.9}
}

func text(s string) *entity.Field {
	return &entity.Field{Value: entity.TextValue{Text: s}, Confidence: 0.9}
}

func date(s string) *entity.Field {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &entity.Field{Value: entity.DateValue{Date: d}, Confidence: 0.9}
}

func address(raw string) *entity.Field {
	a, _ := entity.ParseAddress(raw)
	return &entity.Field{Value: entity.AddressValue{Address: a}, Confidence: 0.8, Raw: raw}
}

func item(desc string, qty, unit, total float64) entity.LineItem {
	u := entity.AmountFromFloat(unit)
	return entity.LineItem{Description: desc, Quantity: qty, UnitPrice: &u, Amount: *amount(total)}
}

func cleanRecord() *entity.ExtractedRecord {
	return &entity.ExtractedRecord{
		Source:          "clean.pdf",
		InvoiceNumber:   text("INV-001"),
		IssueDate:       date("2024-03-01"),
		DueDate:         date("2024-03-31"),
		Subtotal:        amount(30),
		Tax:             amount(3),
		Total:           amount(33),
		Currency:        text("USD"),
		VendorName:      text("ACME Corporation"),
		VendorAddress:   address("12 Main Street\nSpringfield, IL 62704"),
		CustomerAddress: address("45 Oak Ave\nPortland, OR 97201"),
		LineItems: []entity.LineItem{
			item("Widget", 2, 10, 20),
			item("Gadget", 1, 10, 10),
		},
	}
}

func TestRecordClean(t *testing.T) {
	warnings := Record(cleanRecord(), Options{Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
	assert.Empty(t, warnings)
	assert.NotNil(t, warnings)
}

func TestRecordWarnings(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		mutate func(r *entity.ExtractedRecord)
		want   []string
	}{
		{
			name: "total mismatches line items",
			mutate: func(r *entity.ExtractedRecord) {
				r.Subtotal, r.Tax = nil, nil
				r.Total = amount(35)
			},
			want: []string{"total 35.00 does not match line items sum 30.00"},
		},
		{
			name: "total within tolerance",
			mutate: func(r *entity.ExtractedRecord) {
				r.Subtotal, r.Tax = nil, nil
				r.Total = amount(30.01)
			},
		},
		{
			name: "missing fields",
			mutate: func(r *entity.ExtractedRecord) {
				r.InvoiceNumber, r.Total, r.IssueDate, r.DueDate = nil, nil, nil, nil
			},
			want: []string{"missing invoice number", "missing total", "missing date"},
		},
		{
			name: "due date alone satisfies the date requirement",
			mutate: func(r *entity.ExtractedRecord) {
				r.IssueDate = nil
			},
		},
		{
			name: "due before issue",
			mutate: func(r *entity.ExtractedRecord) {
				r.DueDate = date("2024-02-01")
			},
			want: []string{"due date 2024-02-01 is before issue date 2024-03-01"},
		},
		{
			name: "unparsed address keeps raw value",
			mutate: func(r *entity.ExtractedRecord) {
				r.VendorAddress = address("somewhere")
			},
			want: []string{`vendor address could not be parsed: "somewhere"`},
		},
		{
			name: "subtotal plus tax",
			mutate: func(r *entity.ExtractedRecord) {
				r.Subtotal = amount(25)
			},
			want: []string{"subtotal 25.00 + tax 3.00 does not match total 33.00"},
		},
		{
			name: "line arithmetic",
			mutate: func(r *entity.ExtractedRecord) {
				r.LineItems[0] = item("Widget", 2, 9, 20)
			},
			want: []string{"line item 1 (Widget): 2 x 9.00 does not match amount 20.00"},
		},
		{
			name: "future issue date",
			mutate: func(r *entity.ExtractedRecord) {
				r.IssueDate = date("2024-07-01")
				r.DueDate = date("2024-07-31")
			},
			want: []string{"issue date 2024-07-01 is in the future"},
		},
		{
			name: "invalid currency",
			mutate: func(r *entity.ExtractedRecord) {
				r.Currency = text("XXZ")
			},
			want: []string{`invalid currency code "XXZ"`},
		},
		{
			name: "invoice number format",
			mutate: func(r *entity.ExtractedRecord) {
				r.InvoiceNumber = text("#1")
			},
			want: []string{`invoice number "#1" has unexpected format`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := cleanRecord()
			tt.mutate(r)
			got := Record(r, Options{Now: now})
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordIsPure(t *testing.T) {
	r := cleanRecord()
	r.Total = amount(99)
	r.VendorAddress = address("nowhere")
	before := *r
	beforeItems := append([]entity.LineItem(nil), r.LineItems...)

	opts := Options{Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	first := Record(r, opts)
	second := Record(r, opts)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, before, *r)
	assert.Equal(t, beforeItems, r.LineItems)
	assert.Empty(t, r.Warnings)
}

func TestRecordNil(t *testing.T) {
	assert.Empty(t, Record(nil, Options{}))
}

func TestKeys(t *testing.T) {
	a := cleanRecord()
	b := cleanRecord()
	b.Source, b.SourceIndex = "copy.pdf", 1
	c := cleanRecord()
	c.Source, c.SourceIndex, c.InvoiceNumber = "anon.png", 2, nil
	d := cleanRecord()
	d.Source, d.SourceIndex = "copy.pdf", 3

	keys := Keys([]*entity.ExtractedRecord{a, b, c, d})
	assert.Equal(t, []string{"INV-001", "INV-001#copy.pdf", "file:anon.png", "INV-001#copy.pdf#3"}, keys)
}

func TestBatch(t *testing.T) {
	a := cleanRecord()
	b := cleanRecord()
	b.Source = "mismatch.pdf"
	b.InvoiceNumber = text("INV-002")
	b.Subtotal, b.Tax = nil, nil
	b.Total = amount(35)
	b.AddWarning("page 2: no text detected")

	got := Batch([]*entity.ExtractedRecord{a, b}, Options{})
	require.Len(t, got, 2)
	assert.Empty(t, got["INV-001"])
	assert.Equal(t, []string{
		"total 35.00 does not match line items sum 30.00",
		"page 2: no text detected",
	}, got["INV-002"])
}
