package nlp

import "context"

// InvoiceFields is the normalized shape we want from the tagger. Money is
// carried as decimal strings, dates as YYYY-MM-DD.
type InvoiceFields struct {
	InvoiceNumber   string          `json:"invoice_number,omitempty"`
	IssueDate       string          `json:"issue_date,omitempty"`
	DueDate         string          `json:"due_date,omitempty"`
	VendorName      string          `json:"vendor_name,omitempty"`
	VendorAddress   string          `json:"vendor_address,omitempty"`
	CustomerAddress string          `json:"customer_address,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	Subtotal        string          `json:"subtotal,omitempty"`
	Tax             string          `json:"tax,omitempty"`
	Total           string          `json:"total,omitempty"`
	LineItems       []LineItemField `json:"line_items,omitempty"`
	ModelConfidence float64         `json:"confidence,omitempty"` // optional (0..1)
}

type LineItemField struct {
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	UnitPrice   string  `json:"unit_price,omitempty"`
	Amount      string  `json:"amount"`
}

type TagRequest struct {
	Text            string // concatenated page text
	FilenameHint    string
	DefaultCurrency string
	DayFirst        bool
}

// FieldTagger is the optional NLP capability. Retryable failures wrap
// common.ErrTransientExtraction.
type FieldTagger interface {
	TagFields(ctx context.Context, req TagRequest) (InvoiceFields, []byte /*rawJSON*/, error)
}
