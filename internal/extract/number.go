package extract

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// amountToken finds money-looking substrings inside a line. Plain spaces
// never group digits here: "2 500.00" in a line item is a quantity and a price.
var amountToken = regexp.MustCompile(`\(?-?(?:[A-Z]{3}\s?|[$€£¥₹]\s?)?(?:\d{1,3}(?:['\x{00a0}\x{202f}]\d{3})+(?:[.,]\d{1,2})?|\d[\d.,]*\d|\d)(?:\s?[$€£¥₹])?\)?`)

var reDecimalTail = regexp.MustCompile(`[.,]\d{2}\b|[$€£¥₹]`)

var currencyNoise = strings.NewReplacer(
	"$", "", "€", "", "£", "", "¥", "", "₹", "",
	"'", "", " ", "", " ", "", " ", "",
)

var reISOPrefix = regexp.MustCompile(`^[A-Z]{3}|[A-Z]{3}$`)

// ParseAmount parses a locale-formatted money value such as "$1,234.56",
// "1.234,56 €", "1 234,56", "CHF 1'234.50" or "(12.00)". The last '.' or ','
// is the decimal separator unless it is the only separator and is followed
// by exactly three digits, in which case it groups thousands.
func ParseAmount(s string) (entity.Amount, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasSuffix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "-"))
	}
	s = reISOPrefix.ReplaceAllString(s, "")
	s = currencyNoise.Replace(s)
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return 0, false
		}
	}

	canon, ok := canonicalDecimal(s)
	if !ok {
		return 0, false
	}
	a, err := entity.ParsePlainAmount(canon)
	if err != nil {
		return 0, false
	}
	if neg {
		a = -a
	}
	return a, true
}

// canonicalDecimal rewrites digits with '.'/',' separators into "1234.56".
func canonicalDecimal(s string) (string, bool) {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	if lastDot < 0 && lastComma < 0 {
		return s, true
	}
	if s[0] == '.' || s[0] == ',' || s[len(s)-1] == '.' || s[len(s)-1] == ',' {
		return "", false
	}

	sepIdx := max(lastDot, lastComma)
	sep := s[sepIdx]
	intPart, frac := s[:sepIdx], s[sepIdx+1:]

	mixed := lastDot >= 0 && lastComma >= 0
	if !mixed {
		count := strings.Count(s, string(sep))
		leadingZero := intPart == "0"
		if count > 1 || (len(frac) == 3 && !leadingZero) {
			// thousands grouping only: 1,234 / 1.234.567
			return strings.ReplaceAll(s, string(sep), ""), true
		}
	} else if strings.ContainsRune(frac, ',') || strings.ContainsRune(frac, '.') {
		return "", false
	}

	other := byte(',')
	if sep == ',' {
		other = '.'
	}
	if strings.IndexByte(intPart, sep) >= 0 {
		return "", false
	}
	intPart = strings.ReplaceAll(intPart, string(other), "")
	return intPart + "." + frac, true
}

// lastAmount returns the right-most money token in line. Tokens with cents
// or a currency symbol are preferred over bare integers.
func lastAmount(line string) (entity.Amount, string, bool) {
	toks := amountToken.FindAllString(line, -1)
	var fallback string
	for i := len(toks) - 1; i >= 0; i-- {
		tok := strings.TrimSpace(toks[i])
		if _, ok := ParseAmount(tok); !ok {
			continue
		}
		if reDecimalTail.MatchString(tok) {
			a, _ := ParseAmount(tok)
			return a, tok, true
		}
		if fallback == "" {
			fallback = tok
		}
	}
	if fallback != "" {
		a, _ := ParseAmount(fallback)
		return a, fallback, true
	}
	return 0, "", false
}
