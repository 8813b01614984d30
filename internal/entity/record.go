package entity

// LineItem is one billed line. Amount is the line total.
type LineItem struct {
	Description string
	Quantity    float64 // 0 when not printed
	UnitPrice   *Amount
	Amount      Field
}

// ExtractedRecord is the structured invoice data produced from one source file.
type ExtractedRecord struct {
	Source      string // source file name
	SourceIndex int    // position in the submitted batch
	Pages       int

	InvoiceNumber   *Field
	IssueDate       *Field
	DueDate         *Field
	Subtotal        *Field
	Tax             *Field
	Total           *Field // stated total
	VendorName      *Field
	VendorAddress   *Field
	CustomerAddress *Field
	Currency        *Field
	LineItems       []LineItem

	Warnings []string // decoder and extractor notes, append-only
}

// Key identifies the record in validation results and anomalies: the
// invoice number when present, the source file otherwise.
func (r *ExtractedRecord) Key() string {
	if n, ok := r.InvoiceNumber.Text(); ok && n != "" {
		return n
	}
	return "file:" + r.Source
}

// InvoiceNumberText returns the invoice number or "".
func (r *ExtractedRecord) InvoiceNumberText() string {
	n, _ := r.InvoiceNumber.Text()
	return n
}

// LineItemSum adds every parsed line amount. ok is false when no line item parsed.
func (r *ExtractedRecord) LineItemSum() (Amount, bool) {
	var sum Amount
	n := 0
	for _, li := range r.LineItems {
		if a, ok := li.Amount.Amount(); ok {
			sum += a
			n++
		}
	}
	return sum, n > 0
}

// ComputedTotal is the stated total when present, else the line-item sum.
func (r *ExtractedRecord) ComputedTotal() (Amount, bool) {
	if a, ok := r.Total.Amount(); ok {
		return a, true
	}
	return r.LineItemSum()
}

// AddWarning appends a note to the record.
func (r *ExtractedRecord) AddWarning(w string) {
	r.Warnings = append(r.Warnings, w)
}
