// Package validate runs the consistency checks over an extracted invoice.
// Every check is a pure function of the record and Options.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/extract"
)

// Tolerance is the largest difference between two amounts still treated as equal.
const Tolerance entity.Amount = 1

var reInvoiceNumber = regexp.MustCompile(`^[A-Za-z0-9\-/]{3,}$`)

// Options carries the inputs that are not part of the record.
type Options struct {
	// Now is the reference for the future-date check. Zero disables the check.
	Now time.Time
}

// Record returns the ordered warnings for rec. It never fails and never
// mutates rec. A nil record yields no warnings.
func Record(rec *entity.ExtractedRecord, opts Options) []string {
	if rec == nil {
		return []string{}
	}
	warnings := []string{}
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	number := strings.TrimSpace(rec.InvoiceNumberText())
	total, hasTotal := rec.Total.Amount()
	issue, hasIssue := rec.IssueDate.Date()
	due, hasDue := rec.DueDate.Date()

	if number == "" {
		warn("missing invoice number")
	}
	if !hasTotal {
		warn("missing total")
	}
	if !hasIssue && !hasDue {
		warn("missing date")
	}

	if sum, ok := rec.LineItemSum(); ok && hasTotal {
		tax, _ := rec.Tax.Amount()
		if !within(total, sum) && !within(total, sum+tax) {
			warn("total %s does not match line items sum %s", total, sum)
		}
	}

	subtotal, hasSubtotal := rec.Subtotal.Amount()
	tax, hasTax := rec.Tax.Amount()
	if hasSubtotal && hasTax && hasTotal && !within(total, subtotal+tax) {
		warn("subtotal %s + tax %s does not match total %s", subtotal, tax, total)
	}

	for i, li := range rec.LineItems {
		amount, ok := li.Amount.Amount()
		if !ok || li.UnitPrice == nil || li.Quantity <= 0 {
			continue
		}
		expected := entity.AmountFromFloat(li.Quantity * li.UnitPrice.Float())
		if !within(amount, expected) {
			warn("line item %d (%s): %s x %s does not match amount %s",
				i+1, li.Description, formatQuantity(li.Quantity), *li.UnitPrice, amount)
		}
	}

	if hasIssue && hasDue && due.Before(issue) {
		warn("due date %s is before issue date %s", due.Format(time.DateOnly), issue.Format(time.DateOnly))
	}
	if hasIssue && !opts.Now.IsZero() && issue.After(dayOf(opts.Now)) {
		warn("issue date %s is in the future", issue.Format(time.DateOnly))
	}

	if code, ok := rec.Currency.Text(); ok {
		if _, valid := extract.NormalizeCurrency(code); !valid {
			warn("invalid currency code %q", code)
		}
	}
	if number != "" && !reInvoiceNumber.MatchString(number) {
		warn("invoice number %q has unexpected format", number)
	}

	checkAddress := func(label string, f *entity.Field) {
		a, ok := f.Address()
		if ok && !a.Parsed {
			warn("%s could not be parsed: %q", label, a.Raw)
		}
	}
	checkAddress("vendor address", rec.VendorAddress)
	checkAddress("customer address", rec.CustomerAddress)

	return warnings
}

// Keys assigns the validation key of every record, in order. Records that
// share a key after the first get "#<source>" appended, and a positional
// suffix if that still collides.
func Keys(records []*entity.ExtractedRecord) []string {
	keys := make([]string, len(records))
	used := make(map[string]struct{}, len(records))
	for i, rec := range records {
		key := rec.Key()
		if _, dup := used[key]; dup {
			key = key + "#" + rec.Source
			if _, dup := used[key]; dup {
				key = fmt.Sprintf("%s#%d", key, rec.SourceIndex)
			}
		}
		used[key] = struct{}{}
		keys[i] = key
	}
	return keys
}

// Batch validates every record and returns the mapping keyed by Keys. Each
// entry lists the validator warnings followed by the record's own decode and
// extraction notes.
func Batch(records []*entity.ExtractedRecord, opts Options) entity.ValidationResult {
	keys := Keys(records)
	out := make(entity.ValidationResult, len(records))
	for i, rec := range records {
		out[keys[i]] = append(Record(rec, opts), rec.Warnings...)
	}
	return out
}

func within(a, b entity.Amount) bool {
	return (a - b).Abs() <= Tolerance
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatQuantity(q float64) string {
	if q == math.Trunc(q) {
		return fmt.Sprintf("%d", int64(q))
	}
	return fmt.Sprintf("%g", q)
}
