package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate    = regexp.MustCompile(`\b\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}\b|\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2}`)
	reCurr    = regexp.MustCompile(`\b(usd|eur|gbp|cad|aud|inr|jpy|chf)\b|[$£€¥]`)
	reAmount  = regexp.MustCompile(`\b\d{1,3}([,.' ]\d{3})*[.,]\d{2}\b`)
	reKeyword = regexp.MustCompile(`\b(invoice|total|subtotal|tax|vat|due|bill to|amount)\b`)
)

// heuristicConfidence scores a line by how much it looks like invoice content.
// Used when tesseract reports no word confidence.
func heuristicConfidence(txt string) float64 {
	txtL := strings.ToLower(txt)
	score := 0.2
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reKeyword.MatchString(txtL) {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// blendConfidence weights the engine score over the heuristic when present.
func blendConfidence(engine float64, txt string) float64 {
	heur := heuristicConfidence(txt)
	if engine <= 0 {
		return heur
	}
	c := 0.7*engine + 0.3*heur
	if c > 1.0 {
		c = 1.0
	}
	return c
}
