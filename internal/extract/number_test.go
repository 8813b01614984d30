package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want entity.Amount
		ok   bool
	}{
		{in: "1234.56", want: 123456, ok: true},
		{in: "$1,234.56", want: 123456, ok: true},
		{in: "1.234,56 €", want: 123456, ok: true},
		{in: "1 234,56", want: 123456, ok: true},
		{in: "CHF 1'234.50", want: 123450, ok: true},
		{in: "USD 121.00", want: 12100, ok: true},
		{in: "1,000", want: 100000, ok: true},
		{in: "1.000", want: 100000, ok: true},
		{in: "1,234,567", want: 123456700, ok: true},
		{in: "1.234.567,89", want: 123456789, ok: true},
		{in: "1,23,456.00", want: 12345600, ok: true},
		{in: "12,5", want: 1250, ok: true},
		{in: "0.125", want: 13, ok: true},
		{in: "(12.00)", want: -1200, ok: true},
		{in: "-5", want: -500, ok: true},
		{in: "12.50-", want: -1250, ok: true},
		{in: "£7", want: 700, ok: true},
		{in: "", ok: false},
		{in: "USD", ok: false},
		{in: "abc", ok: false},
		{in: "12a", ok: false},
		{in: "1.", ok: false},
		{in: ",5", ok: false},
		{in: "0.005", want: 1, ok: true},
		{in: "92233720368547758.07", want: 9223372036854775807, ok: true},
		{in: "92233720368547758.08", ok: false},
		{in: "99999999999999999999.00", ok: false},
		{in: "$1,000,000,000,000,000,000.00", ok: false},
		{in: "123456789012345678.91", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLastAmount(t *testing.T) {
	tests := []struct {
		line string
		want entity.Amount
		ok   bool
	}{
		{line: "Total Due USD 121.00", want: 12100, ok: true},
		{line: "VAT 19% 19.00", want: 1900, ok: true},
		{line: "Total: $1,234.50", want: 123450, ok: true},
		{line: "Total 42", want: 4200, ok: true},
		{line: "Total", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, _, ok := lastAmount(tt.line)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		in       string
		dayFirst bool
		want     time.Time
		ok       bool
	}{
		{in: "2024-03-01", want: day(2024, 3, 1), ok: true},
		{in: "2024/3/1", want: day(2024, 3, 1), ok: true},
		{in: "03/04/2024", want: day(2024, 3, 4), ok: true},
		{in: "03/04/2024", dayFirst: true, want: day(2024, 4, 3), ok: true},
		{in: "13/04/2024", want: day(2024, 4, 13), ok: true},
		{in: "04/13/2024", dayFirst: true, want: day(2024, 4, 13), ok: true},
		{in: "01.03.24", dayFirst: true, want: day(2024, 3, 1), ok: true},
		{in: "March 1, 2024", want: day(2024, 3, 1), ok: true},
		{in: "Jan. 5, 2024", want: day(2024, 1, 5), ok: true},
		{in: "1st March 2024", want: day(2024, 3, 1), ok: true},
		{in: "02-Jan-2024", want: day(2024, 1, 2), ok: true},
		{in: "12 Sept 2023", want: day(2023, 9, 12), ok: true},
		{in: "31/02/2024", dayFirst: true, ok: false},
		{in: "2024-13-01", ok: false},
		{in: "INV-001", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in, tt.dayFirst)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestCurrency(t *testing.T) {
	code, ok := NormalizeCurrency("eur")
	require.True(t, ok)
	assert.Equal(t, "EUR", code)

	_, ok = NormalizeCurrency("ABC")
	assert.False(t, ok)
	_, ok = NormalizeCurrency("EURO")
	assert.False(t, ok)

	tests := []struct {
		line string
		want string
		conf float64
	}{
		{line: "Currency: gbp", want: "GBP", conf: 0.95},
		{line: "Total Due USD 121.00", want: "USD", conf: 0.85},
		{line: "Amount 99.00 CAD", want: "CAD", conf: 0.85},
		{line: "Total €45,00", want: "EUR", conf: 0.6},
		{line: "TAX 10.00", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, _, conf, ok := detectCurrency(tt.line)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.InDelta(t, tt.conf, conf, 1e-9)
		})
	}
}
