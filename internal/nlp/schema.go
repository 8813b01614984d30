package nlp

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as a structured output constraint and also use it locally to validate.
func BuildInvoiceJSONSchema() map[string]any {
	lineItem := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"description": map[string]any{"type": "string"},
			"quantity":    map[string]any{"type": "number", "minimum": 0},
			"unit_price":  decimalProp(),
			"amount":      decimalProp(),
		},
		"required": []string{"amount"},
	}
	props := map[string]any{
		"invoice_number":   map[string]any{"type": "string", "minLength": 1},
		"issue_date":       dateProp(),
		"due_date":         dateProp(),
		"vendor_name":      map[string]any{"type": "string", "minLength": 1},
		"vendor_address":   map[string]any{"type": "string"},
		"customer_address": map[string]any{"type": "string"},
		"currency":         map[string]any{"type": "string", "pattern": `^[A-Z]{3}$`},
		"subtotal":         decimalProp(),
		"tax":              decimalProp(),
		"total":            decimalProp(),
		"line_items":       map[string]any{"type": "array", "items": lineItem},
		"confidence":       map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`, // credit notes carry negatives
	}
}

func dateProp() map[string]any {
	return map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`}
}
