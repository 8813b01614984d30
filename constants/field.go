package constants

import (
	"strings"
)

// FieldName identifies a target invoice field.
type FieldName string

const (
	FieldInvoiceNumber   FieldName = "invoice_number"
	FieldIssueDate       FieldName = "issue_date"
	FieldDueDate         FieldName = "due_date"
	FieldSubtotal        FieldName = "subtotal"
	FieldTax             FieldName = "tax"
	FieldTotal           FieldName = "total"
	FieldVendorName      FieldName = "vendor_name"
	FieldVendorAddress   FieldName = "vendor_address"
	FieldCustomerAddress FieldName = "customer_address"
	FieldCurrency        FieldName = "currency"
	FieldLineItem        FieldName = "line_item"
)

var allFields = []FieldName{
	FieldInvoiceNumber,
	FieldIssueDate,
	FieldDueDate,
	FieldSubtotal,
	FieldTax,
	FieldTotal,
	FieldVendorName,
	FieldVendorAddress,
	FieldCustomerAddress,
	FieldCurrency,
	FieldLineItem,
}

// FieldNames returns every field name as strings, in declaration order.
func FieldNames() []string {
	result := make([]string, len(allFields))
	for i, f := range allFields {
		result[i] = string(f)
	}
	return result
}

// CanonicalField maps a tagger label onto a FieldName.
func CanonicalField(input string) (FieldName, bool) {
	if input == "" {
		return "", false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)

	// labels used by common document-AI processors
	synonyms := map[string]FieldName{
		"invoice_id":       FieldInvoiceNumber,
		"invoice_no":       FieldInvoiceNumber,
		"invoice_date":     FieldIssueDate,
		"date":             FieldIssueDate,
		"due":              FieldDueDate,
		"payment_due_date": FieldDueDate,
		"subtotal_amount":  FieldSubtotal,
		"net_amount":       FieldSubtotal,
		"total_tax_amount": FieldTax,
		"vat":              FieldTax,
		"total_amount":     FieldTotal,
		"amount_due":       FieldTotal,
		"grand_total":      FieldTotal,
		"supplier_name":    FieldVendorName,
		"vendor":           FieldVendorName,
		"supplier_address": FieldVendorAddress,
		"receiver_address": FieldCustomerAddress,
		"bill_to_address":  FieldCustomerAddress,
		"currency_code":    FieldCurrency,
		"line_item_amount": FieldLineItem,
		"line_items":       FieldLineItem,
	}

	if f, ok := synonyms[normalized]; ok {
		return f, true
	}
	for _, f := range allFields {
		if normalized == string(f) {
			return f, true
		}
	}
	return "", false
}
