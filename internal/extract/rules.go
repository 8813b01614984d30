package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

type line struct {
	text string
	conf float64
	page int
	idx  int
}

type labelRule struct {
	field   constants.FieldName
	re      *regexp.Regexp
	weight  float64
	exclude *regexp.Regexp
}

var amountRules = []labelRule{
	{
		field:  constants.FieldTotal,
		re:     regexp.MustCompile(`(?i)\b(grand\s+total|total\s+due|amount\s+due|balance\s+due|total\s+amount|invoice\s+total|amount\s+payable|total\s+payable)\b`),
		weight: 0.95,
	},
	{
		field:   constants.FieldTotal,
		re:      regexp.MustCompile(`(?i)\btotal\b`),
		weight:  0.8,
		exclude: regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total\s+(tax|vat|gst|net)|tax\s+total|total\s+(items?|qty|quantity|pages?|hours?))\b`),
	},
	{
		field:  constants.FieldSubtotal,
		re:     regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|net\s+(amount|total)|total\s+net)\b`),
		weight: 0.9,
	},
	{
		field:   constants.FieldTax,
		re:      regexp.MustCompile(`(?i)\b(sales\s+tax|total\s+tax|tax\s+total|tax|vat|gst|hst)\b`),
		weight:  0.85,
		exclude: regexp.MustCompile(`(?i)\b(tax|vat|gst)\s*(id|no\.?|number|reg|registration|#)|\b(excl|incl|including|excluding)\.?\s*(of\s+)?(tax|vat|gst)\b|sub\s*-?\s*total|pre-tax`),
	},
}

var dateRules = []labelRule{
	{
		field:  constants.FieldDueDate,
		re:     regexp.MustCompile(`(?i)\b(due\s+date|payment\s+due|due\s+by|due\s+on|pay\s+by)\b`),
		weight: 0.95,
	},
	{
		field:  constants.FieldDueDate,
		re:     regexp.MustCompile(`(?i)\bdue\b`),
		weight: 0.8,
	},
	{
		field:   constants.FieldIssueDate,
		re:      regexp.MustCompile(`(?i)\b(invoice\s+date|date\s+of\s+issue|issue\s+date|issued(\s+on)?|billing\s+date|tax\s+point)\b`),
		weight:  0.95,
		exclude: regexp.MustCompile(`(?i)\bdue\b`),
	},
	{
		field:   constants.FieldIssueDate,
		re:      regexp.MustCompile(`(?i)\bdate\b`),
		weight:  0.7,
		exclude: regexp.MustCompile(`(?i)\b(due|delivery|ship(ping|ped)?|order|period|service|start|end)\b`),
	},
}

var (
	reInvoiceLabeled = regexp.MustCompile(`(?i)\b(?:invoice|inv|bill)\s*(?:no\.?|number|num\.?|#|id)\s*[:.#]?\s*([A-Za-z0-9][A-Za-z0-9\-/_.]*\d[A-Za-z0-9\-/_]*)`)
	reInvoiceBare    = regexp.MustCompile(`(?i)\binvoice\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9\-/_]*\d[A-Za-z0-9\-/_]*)`)
	reReference      = regexp.MustCompile(`(?i)\b(?:ref|reference)\s*(?:no\.?|#)?\s*[:#]\s*([A-Za-z0-9][A-Za-z0-9\-/_]*\d[A-Za-z0-9\-/_]*)`)

	reVendorLabel   = regexp.MustCompile(`(?i)^\s*(?:from|vendor|supplier|seller|sold\s+by|bill\s+from|issued\s+by|payee)\s*[:\-]\s*(.*)$`)
	reVendorAddr    = regexp.MustCompile(`(?i)^\s*(?:vendor|supplier|seller|from|remit)\s+(?:address|to)\s*[:\-]\s*(.+)$`)
	reCustomerLabel = regexp.MustCompile(`(?i)^\s*(?:(?:bill(?:ed)?\s+to|invoice\s+to|sold\s+to)\s*[:\-]?|(?:customer|client)(?:\s+address)?\s*[:\-])\s*(.*)$`)
	reCustomerNoise = regexp.MustCompile(`(?i)^\s*(customer|client)\s*(id|no\.?|number|#|ref|reference|account)\b`)
	reAmountOnly    = regexp.MustCompile(`^\(?-?(?:[A-Z]{3}\s?|[$€£¥₹]\s?)?\d[\d.,' ]*(?:\s?[$€£¥₹]|\s?[A-Z]{3})?\)?$`)
	reCompany       = regexp.MustCompile(`(?i)\b(inc|llc|ltd|limited|gmbh|corp|corporation|co|company|s\.?a|b\.?v|ag|plc|pty|srl|sarl)\b\.?$`)
	reStopLine      = regexp.MustCompile(`(?i)\b(invoice|date|due|total|subtotal|tax|vat|bill(ed)?\s+to|ship\s+to|sold\s+to|from|description|qty|quantity|amount|page\s+\d|terms|phone|tel|email|e-mail|fax|customer|client)\b|www\.|https?:|@`)
	reHasLetter     = regexp.MustCompile(`\p{L}`)
	reHasDigit      = regexp.MustCompile(`\d`)

	reItemsHeader = regexp.MustCompile(`(?i)\b(description|item|product|service|details)s?\b.*\b(amount|total|price|qty|quantity|rate)\b`)
	reItemsEnd    = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total|tax|vat|balance|amount\s+due)\b`)
	reItem4       = regexp.MustCompile(`^(.+?)\s+(\d+(?:[.,]\d+)?)\s*(?:x|@)?\s+(\S*\d[\d.,']*)\s+(\S*\d[\d.,']*)$`)
	reItem2       = regexp.MustCompile(`^(.+?)\s+(\S*\d[\d.,']*\d)$`)
)

// ruleCandidates applies every field rule to the recognised pages.
func ruleCandidates(pages []PageText, dayFirst bool) ([]Candidate, []entity.LineItem) {
	lines := flatten(pages)
	var out []Candidate
	for i, ln := range lines {
		out = append(out, invoiceNumberCandidates(ln)...)
		out = append(out, amountCandidates(lines, i)...)
		out = append(out, dateCandidates(lines, i, dayFirst)...)
		if c, raw, conf, ok := detectCurrency(ln.text); ok {
			out = append(out, Candidate{Field: constants.FieldCurrency, Value: entity.TextValue{Text: c}, Raw: raw, Confidence: conf * ln.conf, Page: ln.page, Line: ln.idx})
		}
	}
	out = append(out, partyCandidates(lines)...)
	return out, lineItems(lines)
}

func flatten(pages []PageText) []line {
	var out []line
	for _, p := range pages {
		for _, r := range p.Result.Regions {
			t := strings.TrimSpace(r.Text)
			if t == "" {
				continue
			}
			out = append(out, line{text: t, conf: r.Confidence, page: p.Page, idx: r.Line})
		}
	}
	return out
}

func invoiceNumberCandidates(ln line) []Candidate {
	var out []Candidate
	add := func(m []string, weight float64) {
		if m == nil {
			return
		}
		v := strings.TrimRight(m[1], ".-/_")
		if len(v) < 2 {
			return
		}
		if _, isDate := ParseDate(v, false); isDate {
			return
		}
		out = append(out, Candidate{Field: constants.FieldInvoiceNumber, Value: entity.TextValue{Text: v}, Raw: m[0], Confidence: weight * ln.conf, Page: ln.page, Line: ln.idx})
	}
	if m := reInvoiceLabeled.FindStringSubmatch(ln.text); m != nil {
		add(m, 0.95)
		return out
	}
	add(reInvoiceBare.FindStringSubmatch(ln.text), 0.8)
	add(reReference.FindStringSubmatch(ln.text), 0.6)
	return out
}

func amountCandidates(lines []line, i int) []Candidate {
	ln := lines[i]
	var out []Candidate
	for _, r := range amountRules {
		if !r.re.MatchString(ln.text) || (r.exclude != nil && r.exclude.MatchString(ln.text)) {
			continue
		}
		weight := r.weight
		amt, raw, ok := lastAmount(ln.text[r.re.FindStringIndex(ln.text)[1]:])
		if !ok && nextOnSamePage(lines, i) {
			// value printed under the label
			if next := lines[i+1]; reAmountOnly.MatchString(next.text) {
				amt, raw, ok = lastAmount(next.text)
				weight *= 0.9
			}
		}
		if !ok {
			continue
		}
		out = append(out, Candidate{Field: r.field, Value: entity.NumericValue{Amount: amt}, Raw: raw, Confidence: weight * ln.conf, Page: ln.page, Line: ln.idx})
		break
	}
	return out
}

func dateCandidates(lines []line, i int, dayFirst bool) []Candidate {
	ln := lines[i]
	var out []Candidate
	for _, r := range dateRules {
		loc := r.re.FindStringIndex(ln.text)
		if loc == nil || (r.exclude != nil && r.exclude.MatchString(ln.text)) {
			continue
		}
		weight := r.weight
		d, raw, ok := findDate(ln.text[loc[1]:], dayFirst)
		if !ok && nextOnSamePage(lines, i) {
			d, raw, ok = findDate(lines[i+1].text, dayFirst)
			weight *= 0.9
		}
		if !ok {
			continue
		}
		out = append(out, Candidate{Field: r.field, Value: entity.DateValue{Date: d}, Raw: raw, Confidence: weight * ln.conf, Page: ln.page, Line: ln.idx})
		break
	}
	return out
}

func nextOnSamePage(lines []line, i int) bool {
	return i+1 < len(lines) && lines[i+1].page == lines[i].page
}

// partyCandidates finds vendor name, vendor address and customer address.
func partyCandidates(lines []line) []Candidate {
	var out []Candidate
	vendorLine := -1
	for i, ln := range lines {
		if m := reVendorAddr.FindStringSubmatch(ln.text); m != nil {
			out = append(out, addressCandidate(constants.FieldVendorAddress, []string{m[1]}, ln, 0.9))
			continue
		}
		if m := reVendorLabel.FindStringSubmatch(ln.text); m != nil {
			name := strings.TrimSpace(m[1])
			start := i + 1
			if name == "" && nextOnSamePage(lines, i) {
				name = lines[i+1].text
				start = i + 2
			}
			if name != "" {
				out = append(out, Candidate{Field: constants.FieldVendorName, Value: entity.TextValue{Text: name}, Raw: ln.text, Confidence: 0.9 * ln.conf, Page: ln.page, Line: ln.idx})
				if block := addressBlock(lines, start, ln.page, 3); len(block) > 0 {
					out = append(out, addressCandidate(constants.FieldVendorAddress, block, ln, 0.8))
				}
				vendorLine = i
			}
			continue
		}
		if m := reCustomerLabel.FindStringSubmatch(ln.text); m != nil && !reCustomerNoise.MatchString(ln.text) {
			var block []string
			if rest := strings.TrimSpace(m[1]); rest != "" {
				block = append(block, rest)
			}
			block = append(block, addressBlock(lines, i+1, ln.page, 4)...)
			if len(block) > 0 {
				out = append(out, addressCandidate(constants.FieldCustomerAddress, block, ln, 0.85))
			}
		}
	}

	if vendorLine < 0 {
		out = append(out, letterheadCandidates(lines)...)
	}
	return out
}

// letterheadCandidates guesses the vendor from the top of the first page:
// the first text-only line, followed by its address block.
func letterheadCandidates(lines []line) []Candidate {
	var out []Candidate
	for i, ln := range lines {
		if ln.page != lines[0].page || i >= 8 {
			break
		}
		if reHasDigit.MatchString(ln.text) || !reHasLetter.MatchString(ln.text) || reStopLine.MatchString(ln.text) {
			continue
		}
		weight := 0.5
		if reCompany.MatchString(ln.text) {
			weight = 0.7
		}
		out = append(out, Candidate{Field: constants.FieldVendorName, Value: entity.TextValue{Text: ln.text}, Raw: ln.text, Confidence: weight * ln.conf, Page: ln.page, Line: ln.idx})
		if block := addressBlock(lines, i+1, ln.page, 3); len(block) > 0 {
			out = append(out, addressCandidate(constants.FieldVendorAddress, block, ln, weight))
		}
		break
	}
	return out
}

// addressBlock collects up to max lines from start that continue an address.
func addressBlock(lines []line, start, page, max int) []string {
	var block []string
	for j := start; j < len(lines) && len(block) < max; j++ {
		l := lines[j]
		if l.page != page || reStopLine.MatchString(l.text) {
			break
		}
		if reAmountOnly.MatchString(l.text) {
			break
		}
		block = append(block, l.text)
	}
	return block
}

func addressCandidate(field constants.FieldName, block []string, ln line, weight float64) Candidate {
	raw := strings.Join(block, "\n")
	addr, _ := entity.ParseAddress(raw)
	return Candidate{Field: field, Value: entity.AddressValue{Address: addr}, Raw: raw, Confidence: weight * ln.conf, Page: ln.page, Line: ln.idx}
}

// lineItems reads billed lines: anything shaped "desc qty unit amount" whose
// arithmetic holds, plus "desc amount" rows inside an items table.
func lineItems(lines []line) []entity.LineItem {
	var out []entity.LineItem
	inTable := false
	for _, ln := range lines {
		switch {
		case reItemsHeader.MatchString(ln.text):
			inTable = true
			continue
		case inTable && reItemsEnd.MatchString(ln.text):
			inTable = false
			continue
		}

		if m := reItem4.FindStringSubmatch(ln.text); m != nil && reHasLetter.MatchString(m[1]) {
			qty, qerr := strconv.ParseFloat(strings.Replace(m[2], ",", ".", 1), 64)
			unit, uok := ParseAmount(m[3])
			amt, aok := ParseAmount(m[4])
			if qerr == nil && uok && aok {
				consistent := (entity.AmountFromFloat(qty*unit.Float()) - amt).Abs() <= 1
				if inTable || consistent {
					u := unit
					out = append(out, entity.LineItem{
						Description: strings.TrimSpace(m[1]),
						Quantity:    qty,
						UnitPrice:   &u,
						Amount:      entity.Field{Value: entity.NumericValue{Amount: amt}, Confidence: ln.conf, Page: ln.page, Raw: m[4]},
					})
					continue
				}
			}
		}
		if !inTable {
			continue
		}
		if m := reItem2.FindStringSubmatch(ln.text); m != nil && reHasLetter.MatchString(m[1]) {
			if amt, ok := ParseAmount(m[2]); ok {
				out = append(out, entity.LineItem{
					Description: strings.TrimSpace(m[1]),
					Amount:      entity.Field{Value: entity.NumericValue{Amount: amt}, Confidence: ln.conf * 0.8, Page: ln.page, Raw: m[2]},
				})
			}
		}
	}
	return out
}
