package entity

import (
	"regexp"
	"strings"
)

// Address is a postal address. Raw is always preserved; the components are
// filled only when the structural parse succeeds.
type Address struct {
	Raw        string `json:"raw"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Parsed     bool   `json:"parsed"`
}

var (
	reStreetNumber = regexp.MustCompile(`^\d+[A-Za-z]?\s+\S+`)
	reStreetSuffix = regexp.MustCompile(`(?i)\b(st|street|ave|avenue|rd|road|blvd|boulevard|ln|lane|dr|drive|way|ct|court|pl|place|hwy|highway|str|strasse|straße|rue|via|calle)\b\.?`)
	rePOBox        = regexp.MustCompile(`(?i)^p\.?\s*o\.?\s*box\b`)
	rePostal       = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`),                  // US, DE, FR
		regexp.MustCompile(`\b[A-Z]\d[A-Z]\s?\d[A-Z]\d\b`),          // CA
		regexp.MustCompile(`\b[A-Z]{1,2}\d[A-Z\d]?\s?\d[A-Z]{2}\b`), // UK
		regexp.MustCompile(`\b\d{4}\b`),                             // AU, NL, CH
	}
	reRegionTail = regexp.MustCompile(`^(.*?)[\s,]*\b([A-Z]{2})$`)
	reWordsOnly  = regexp.MustCompile(`^[\p{L}][\p{L} .'\-]*$`)
)

// ParseAddress runs the structural parse. It succeeds when a street line
// and either a postal code or a locality can be identified.
func ParseAddress(raw string) (Address, bool) {
	a := Address{Raw: strings.TrimSpace(raw)}
	parts := splitAddress(a.Raw)
	if len(parts) < 2 {
		return a, false
	}

	streetIdx := -1
	for i, p := range parts {
		if rePOBox.MatchString(p) || reStreetNumber.MatchString(p) || reStreetSuffix.MatchString(p) {
			a.Street = p
			streetIdx = i
			break
		}
	}
	if streetIdx < 0 {
		return a, false
	}

	for i := streetIdx + 1; i < len(parts); i++ {
		p := parts[i]
		if a.PostalCode == "" {
			if pc := findPostal(p); pc != "" {
				a.PostalCode = pc
				rest := strings.Trim(strings.Replace(p, pc, "", 1), " ,")
				if m := reRegionTail.FindStringSubmatch(rest); m != nil {
					if m[1] != "" && a.City == "" {
						a.City = strings.Trim(m[1], " ,")
					}
					a.Region = m[2]
				} else if rest != "" && a.City == "" {
					a.City = rest
				}
				continue
			}
		}
		if !reWordsOnly.MatchString(p) {
			continue
		}
		switch {
		case a.City == "":
			a.City = p
		case a.Region == "" && len(p) == 2:
			a.Region = p
		case i == len(parts)-1:
			a.Country = p
		}
	}

	a.Parsed = a.PostalCode != "" || a.City != ""
	if !a.Parsed {
		return Address{Raw: a.Raw}, false
	}
	return a, true
}

func splitAddress(raw string) []string {
	sep := "\n"
	if !strings.Contains(raw, "\n") {
		sep = ","
	}
	var out []string
	for _, p := range strings.Split(raw, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func findPostal(s string) string {
	for _, re := range rePostal {
		if m := re.FindString(s); m != "" {
			return m
		}
	}
	return ""
}

// String renders parsed components, or the raw value when unparsed.
func (a Address) String() string {
	if !a.Parsed {
		return a.Raw
	}
	var parts []string
	for _, p := range []string{a.Street, a.City, strings.TrimSpace(a.Region + " " + a.PostalCode), a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Equivalent compares two addresses ignoring case, punctuation and spacing.
func (a Address) Equivalent(b Address) bool {
	return normalizeText(a.String()) == normalizeText(b.String())
}

var reNonAlnum = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func normalizeText(s string) string {
	return reNonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

// SameName compares party names ignoring case, punctuation and spacing.
func SameName(a, b string) bool {
	return normalizeText(a) == normalizeText(b)
}
