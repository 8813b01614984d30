package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a monetary value in minor units (hundredths).
type Amount int64

// ErrAmountRange reports a value that does not fit in an Amount.
var ErrAmountRange = errors.New("amount out of range")

// maxMajor bounds |f| so that f*100 stays inside int64.
const maxMajor = float64(math.MaxInt64/100) - 1

// AmountFromFloat rounds f half away from zero to the nearest hundredth.
// Values outside the representable range saturate.
func AmountFromFloat(f float64) Amount {
	a, err := amountFromFloat(f)
	if err != nil {
		if f < 0 {
			return Amount(math.MinInt64 + 1)
		}
		return Amount(math.MaxInt64)
	}
	return a
}

func amountFromFloat(f float64) (Amount, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxMajor {
		return 0, fmt.Errorf("%v: %w", f, ErrAmountRange)
	}
	return Amount(math.Round(f * 100)), nil
}

// Float returns the amount in major units.
func (a Amount) Float() float64 { return float64(a) / 100 }

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// String renders the amount with exactly two decimals, e.g. "-1234.50".
func (a Amount) String() string {
	sign := ""
	v := uint64(a)
	if a < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParsePlainAmount parses a canonical decimal ("1234.5", "-3.25") exactly,
// rounding half away from zero past the second decimal. Locale-formatted
// input goes through extract.ParseAmount instead.
func ParsePlainAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("parse amount %q: no digits", s)
	}
	for _, part := range []string{whole, frac} {
		if strings.IndexFunc(part, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return 0, fmt.Errorf("parse amount %q: invalid syntax", s)
		}
	}

	var units uint64
	if whole != "" {
		w, err := strconv.ParseUint(whole, 10, 64)
		if err != nil || w > math.MaxInt64/100 {
			return 0, fmt.Errorf("%q: %w", s, ErrAmountRange)
		}
		units = w * 100
	}
	frac += "000"
	cents := uint64(frac[0]-'0')*10 + uint64(frac[1]-'0')
	if frac[2] >= '5' {
		cents++
	}
	units += cents
	if units > math.MaxInt64 {
		return 0, fmt.Errorf("%q: %w", s, ErrAmountRange)
	}
	if neg {
		return -Amount(units), nil
	}
	return Amount(units), nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var f float64
		if err2 := json.Unmarshal(b, &f); err2 != nil {
			return err
		}
		v, err := amountFromFloat(f)
		if err != nil {
			return err
		}
		*a = v
		return nil
	}
	v, err := ParsePlainAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Sum adds amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}
