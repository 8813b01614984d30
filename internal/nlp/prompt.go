package nlp

import (
	"strings"
)

const maxPromptText = 6000

// BuildSystemPrompt composes the system message with currency defaults and
// strict-but-practical formatting rules.
func BuildSystemPrompt(req TagRequest) string {
	defCur := strings.TrimSpace(req.DefaultCurrency)
	if defCur == "" {
		defCur = "USD"
	}
	dateHint := "If a date like 03/04/2024 is ambiguous, read it month-first."
	if req.DayFirst {
		dateHint = "If a date like 03/04/2024 is ambiguous, read it day-first."
	}

	parts := []string{
		"You are an invoice parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		dateHint,
		"Currency must be a 3-letter ISO 4217 code; default to " + defCur + " if uncertain.",
		"Money values are plain decimals with a dot separator and no currency symbols.",
		"'vendor_address' is the seller's postal address; 'customer_address' is the bill-to address. Keep line breaks as ', '.",
		"List every billed line under 'line_items' with description, quantity, unit_price and amount.",
		"'total' is the amount due including tax. Do not compute values that are not printed.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt wraps the OCR text and a filename hint.
func BuildUserPrompt(req TagRequest) string {
	var b strings.Builder
	b.WriteString("Filename: ")
	b.WriteString(req.FilenameHint)
	b.WriteString("\n\nOCR text:\n")
	if len(req.Text) > maxPromptText {
		b.WriteString(req.Text[:maxPromptText])
	} else {
		b.WriteString(req.Text)
	}
	return b.String()
}
