package nlp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strconv"
	"strings"
)

var reDecimal = regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`)

var allowedKeys = map[string]struct{}{
	"invoice_number": {}, "issue_date": {}, "due_date": {}, "vendor_name": {},
	"vendor_address": {}, "customer_address": {}, "currency": {}, "subtotal": {},
	"tax": {}, "total": {}, "line_items": {}, "confidence": {},
}

var moneyFields = []string{"subtotal", "tax", "total"}

// NormalizeAndSanitizeJSON
// - Renames known synonyms (invoice_no -> invoice_number, amount_due -> total, ...)
// - Drops null/empty optionals
// - Coerces numeric -> string for money fields
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	renamed("invoice_no", "invoice_number")
	renamed("invoice_id", "invoice_number")
	renamed("invoice_date", "issue_date")
	renamed("date", "issue_date")
	renamed("vendor", "vendor_name")
	renamed("supplier_name", "vendor_name")
	renamed("bill_to_address", "customer_address")
	renamed("currency_code", "currency")
	renamed("amount_due", "total")
	renamed("grand_total", "total")
	renamed("items", "line_items")

	for _, k := range moneyFields {
		if v, reason, ok := coerceMoney(m[k]); ok {
			m[k] = v
		} else if _, present := m[k]; present {
			delete(m, k)
			dropped = append(dropped, k+"("+reason+")")
		}
	}

	if v, ok := m["currency"].(string); ok {
		m["currency"] = strings.ToUpper(strings.TrimSpace(v))
	}

	if items, ok := m["line_items"].([]any); ok {
		kept := make([]any, 0, len(items))
		for i, it := range items {
			li, ok := sanitizeLineItem(it)
			if !ok {
				dropped = append(dropped, fmt.Sprintf("line_items[%d]", i))
				continue
			}
			kept = append(kept, li)
		}
		m["line_items"] = kept
	} else if _, present := m["line_items"]; present {
		delete(m, "line_items")
		dropped = append(dropped, "line_items(type)")
	}

	for k := range maps.Clone(m) {
		if _, ok := allowedKeys[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	for _, k := range []string{"invoice_number", "issue_date", "due_date", "vendor_name", "vendor_address", "customer_address", "currency"} {
		switch v := m[k].(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" || strings.EqualFold(s, "null") {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		case nil:
			if _, present := m[k]; present {
				delete(m, k)
				dropped = append(dropped, k+"(null)")
			}
		default:
			delete(m, k)
			dropped = append(dropped, k+"(type)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("nlp.tag.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

// coerceMoney normalizes a money value to a two-decimal string.
func coerceMoney(v any) (string, string, bool) {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', 2, 64), "", true
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			return "", "empty", false
		}
		s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(s)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 2, 64), "", true
		}
		return "", "format", false
	case nil:
		return "", "null", false
	}
	return "", "type", false
}

func sanitizeLineItem(v any) (map[string]any, bool) {
	in, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := in["amount"]; !ok {
		if t, ok := in["total"]; ok {
			in["amount"] = t
		}
	}
	amt, _, ok := coerceMoney(in["amount"])
	if !ok || !reDecimal.MatchString(amt) {
		return nil, false
	}
	out := map[string]any{"amount": amt}
	if d, ok := in["description"].(string); ok && strings.TrimSpace(d) != "" {
		out["description"] = strings.TrimSpace(d)
	}
	switch q := in["quantity"].(type) {
	case float64:
		if q >= 0 {
			out["quantity"] = q
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(q), 64); err == nil && f >= 0 {
			out["quantity"] = f
		}
	}
	if up, _, ok := coerceMoney(in["unit_price"]); ok {
		out["unit_price"] = up
	}
	return out, true
}
