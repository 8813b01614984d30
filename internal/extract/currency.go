package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/currency"
)

var symbolCurrency = map[string]string{
	"$":   "USD",
	"US$": "USD",
	"€":   "EUR",
	"£":   "GBP",
	"¥":   "JPY",
	"₹":   "INR",
	"C$":  "CAD",
	"A$":  "AUD",
	"R$":  "BRL",
}

var (
	reCurrencyLabel = regexp.MustCompile(`(?i)\bcurrency\s*[:\-]?\s*([A-Za-z]{3})\b`)
	reCodeAmount    = regexp.MustCompile(`\b([A-Z]{3})\s?-?\d|\d\s?([A-Z]{3})\b`)
	reSymbol        = regexp.MustCompile(`US\$|[CAR]\$|[$€£¥₹]`)
)

// NormalizeCurrency returns the canonical ISO 4217 code for code, or false
// when it is not a recognised currency.
func NormalizeCurrency(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", false
	}
	u, err := currency.ParseISO(code)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// currencyFromSymbol maps a printed symbol to its most likely ISO code.
func currencyFromSymbol(sym string) (string, bool) {
	c, ok := symbolCurrency[sym]
	return c, ok
}

// detectCurrency finds a currency on one line with a rule confidence:
// an explicit label beats a code next to an amount, which beats a symbol.
func detectCurrency(line string) (string, string, float64, bool) {
	if m := reCurrencyLabel.FindStringSubmatch(line); m != nil {
		if c, ok := NormalizeCurrency(m[1]); ok {
			return c, m[0], 0.95, true
		}
	}
	for _, m := range reCodeAmount.FindAllStringSubmatch(line, -1) {
		code := m[1]
		if code == "" {
			code = m[2]
		}
		if c, ok := NormalizeCurrency(code); ok {
			return c, code, 0.85, true
		}
	}
	if sym := reSymbol.FindString(line); sym != "" {
		if c, ok := currencyFromSymbol(sym); ok {
			return c, sym, 0.6, true
		}
	}
	return "", "", 0, false
}
