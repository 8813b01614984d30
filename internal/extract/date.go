package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reOrdinal = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	reSpaces  = regexp.MustCompile(`\s+`)
	reNumeric = regexp.MustCompile(`^(\d{1,4})[-/.](\d{1,2})[-/.](\d{1,4})$`)

	// dateToken finds date-looking substrings inside a line.
	dateToken = regexp.MustCompile(`(?i)\b\d{4}[-/.]\d{1,2}[-/.]\d{1,2}\b|\b\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}\b|\b\d{1,2}(?:st|nd|rd|th)?[ -](?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?[ -]\d{2,4}\b|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.? \d{1,2}(?:st|nd|rd|th)?,? \d{4}\b`)
)

var textLayouts = []string{
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2-Jan-2006",
	"2-Jan-06",
	"2 Jan 06",
}

// ParseDate parses numeric and textual invoice dates. Ambiguous numeric
// dates (03/04/2024) resolve by dayFirst unless one component exceeds 12.
func ParseDate(s string, dayFirst bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if m := reNumeric.FindStringSubmatch(s); m != nil {
		return parseNumericDate(m[1], m[2], m[3], dayFirst)
	}

	s = reOrdinal.ReplaceAllString(s, "$1")
	s = strings.NewReplacer(",", " ", ".", " ").Replace(s)
	s = reSpaces.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.Replace(strings.Replace(s, "Sept ", "Sep ", 1), "sept ", "sep ", 1)
	for _, layout := range textLayouts {
		if t, err := time.Parse(layout, s); err == nil && plausibleYear(t.Year()) {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNumericDate(a, b, c string, dayFirst bool) (time.Time, bool) {
	x, _ := strconv.Atoi(a)
	y, _ := strconv.Atoi(b)
	z, _ := strconv.Atoi(c)

	var year, month, day int
	switch {
	case len(a) == 4:
		year, month, day = x, y, z
	case len(c) == 4 || len(c) == 2:
		year = z
		if len(c) == 2 {
			year += 2000
		}
		switch {
		case x > 12 && y <= 12:
			day, month = x, y
		case y > 12 && x <= 12:
			month, day = x, y
		case dayFirst:
			day, month = x, y
		default:
			month, day = x, y
		}
	default:
		return time.Time{}, false
	}
	return makeDate(year, month, day)
}

func makeDate(year, month, day int) (time.Time, bool) {
	if !plausibleYear(year) || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false // 31/02 rolled over
	}
	return t, true
}

func plausibleYear(y int) bool { return y >= 1900 && y <= 2100 }

// findDate returns the first parseable date token in line.
func findDate(line string, dayFirst bool) (time.Time, string, bool) {
	for _, tok := range dateToken.FindAllString(line, -1) {
		if t, ok := ParseDate(tok, dayFirst); ok {
			return t, tok, true
		}
	}
	return time.Time{}, "", false
}
