package anomaly

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

func record(source, number string, total float64) *entity.ExtractedRecord {
	r := &entity.ExtractedRecord{Source: source}
	if number != "" {
		r.InvoiceNumber = &entity.Field{Value: entity.TextValue{Text: number}, Confidence: 0.9}
	}
	if total != 0 {
		r.Total = &entity.Field{Value: entity.NumericValue{Amount: entity.AmountFromFloat(total)}, Confidence: 0.9}
	}
	return r
}

func withVendor(r *entity.ExtractedRecord, name, addr string) *entity.ExtractedRecord {
	r.VendorName = &entity.Field{Value: entity.TextValue{Text: name}}
	a, _ := entity.ParseAddress(addr)
	r.VendorAddress = &entity.Field{Value: entity.AddressValue{Address: a}}
	return r
}

func keysOf(records []*entity.ExtractedRecord) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = fmt.Sprintf("%s#%d", r.Key(), i)
	}
	return keys
}

func score(t *testing.T, s *Scorer, records []*entity.ExtractedRecord) []entity.Anomaly {
	t.Helper()
	out, err := s.Score(context.Background(), records, keysOf(records))
	require.NoError(t, err)
	return out
}

func TestDuplicateInvoiceNumber(t *testing.T) {
	records := []*entity.ExtractedRecord{
		record("a.pdf", "INV-7", 100),
		record("b.pdf", "INV-8", 100),
		record("c.pdf", "inv-7", 100),
	}
	out := score(t, NewScorer(DefaultConfig(), nil, nil), records)

	require.Len(t, out, 2)
	assert.Equal(t, "a.pdf", out[0].Source)
	assert.Equal(t, []string{"duplicate invoice number INV-7 (2 occurrences in batch)"}, out[0].Flags)
	assert.Equal(t, "c.pdf", out[1].Source)
	assert.Equal(t, []string{"duplicate invoice number inv-7 (2 occurrences in batch)"}, out[1].Flags)
}

func TestOutlier(t *testing.T) {
	var records []*entity.ExtractedRecord
	for i := 0; i < 9; i++ {
		records = append(records, record(fmt.Sprintf("f%d.pdf", i), fmt.Sprintf("INV-%d", i), 100))
	}
	records = append(records, record("big.pdf", "INV-BIG", 1000))

	out := score(t, NewScorer(DefaultConfig(), nil, nil), records)
	require.Len(t, out, 1)
	assert.Equal(t, "big.pdf", out[0].Source)
	assert.Equal(t, "INV-BIG#9", out[0].InvoiceID)
	assert.Equal(t, []string{"amount 1000.00 is 3.00 standard deviations from batch mean 190.00"}, out[0].Flags)
}

func TestOutlierSkipped(t *testing.T) {
	tests := []struct {
		name    string
		amounts []float64
	}{
		{name: "below minimum batch size", amounts: []float64{100, 100, 100, 10000}},
		{name: "zero variance", amounts: []float64{50, 50, 50, 50, 50, 50}},
		{name: "no amounts", amounts: []float64{0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []*entity.ExtractedRecord
			for i, a := range tt.amounts {
				records = append(records, record(fmt.Sprintf("f%d.pdf", i), fmt.Sprintf("N-%d", i), a))
			}
			assert.Empty(t, score(t, NewScorer(DefaultConfig(), nil, nil), records))
		})
	}
}

func TestInconsistentVendor(t *testing.T) {
	records := []*entity.ExtractedRecord{
		withVendor(record("a.pdf", "INV-1", 10), "ACME Corp", "1 Main St\nSpringfield, IL 62704"),
		withVendor(record("b.pdf", "INV-1", 10), "Globex", "1 Main St\nSpringfield, IL 62704"),
		withVendor(record("c.pdf", "INV-2", 10), "ACME Corp", "1 Main St\nSpringfield, IL 62704"),
		withVendor(record("d.pdf", "INV-2", 10), "acme corp.", "1 Main St\nSpringfield, IL 62704"),
	}
	out := score(t, NewScorer(DefaultConfig(), nil, nil), records)

	require.Len(t, out, 4)
	assert.Equal(t, []string{
		"duplicate invoice number INV-1 (2 occurrences in batch)",
		"invoice number INV-1 has conflicting vendor or address across files",
	}, out[0].Flags)
	assert.Equal(t, out[0].Flags, out[1].Flags)
	assert.Equal(t, []string{"duplicate invoice number INV-2 (2 occurrences in batch)"}, out[2].Flags)
	assert.Equal(t, out[2].Flags, out[3].Flags)
}

func TestDeterministicOrdering(t *testing.T) {
	records := []*entity.ExtractedRecord{
		record("a.pdf", "X-1", 10),
		record("b.pdf", "X-1", 20),
		record("c.pdf", "X-2", 30),
		record("d.pdf", "X-2", 40),
		record("e.pdf", "X-3", 50),
		record("f.pdf", "X-3", 5000),
	}
	s := NewScorer(Config{StdDevThreshold: 2, MinBatchSize: 5}, nil, nil)
	first := score(t, s, records)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, score(t, s, records))
	}
	last := first[len(first)-1]
	assert.Equal(t, "f.pdf", last.Source)
	require.Len(t, last.Flags, 2)
	assert.Contains(t, last.Flags[0], "duplicate")
	assert.Contains(t, last.Flags[1], "standard deviations")
}

type mapBaseline map[string]string

func (m mapBaseline) SeenInvoices(_ context.Context, numbers []string) (map[string]string, error) {
	out := map[string]string{}
	for _, n := range numbers {
		if id, ok := m[n]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func (m mapBaseline) RecordInvoices(_ context.Context, taskID string, numbers []string) error {
	for _, n := range numbers {
		m[n] = taskID
	}
	return nil
}

func TestHistoricalBaseline(t *testing.T) {
	b := mapBaseline{"INV-100": "task-1", "INV-200": "task-2"}

	records := []*entity.ExtractedRecord{
		record("a.pdf", "INV-100", 10),
		record("b.pdf", "INV-300", 10),
	}
	out := score(t, NewScorer(DefaultConfig(), b, nil), records)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"invoice number INV-100 already seen in task task-1"}, out[0].Flags)
}

type failingBaseline struct{}

func (failingBaseline) SeenInvoices(context.Context, []string) (map[string]string, error) {
	return nil, errors.New("db down")
}

func (failingBaseline) RecordInvoices(context.Context, string, []string) error { return nil }

func TestBaselineError(t *testing.T) {
	_, err := NewScorer(DefaultConfig(), failingBaseline{}, nil).Score(context.Background(),
		[]*entity.ExtractedRecord{record("a.pdf", "INV-1", 1)}, []string{"INV-1"})
	require.Error(t, err)
}

func TestKeyCountMismatch(t *testing.T) {
	_, err := NewScorer(DefaultConfig(), nil, nil).Score(context.Background(),
		[]*entity.ExtractedRecord{record("a.pdf", "INV-1", 1)}, nil)
	require.Error(t, err)
}

func TestInvoiceNumbers(t *testing.T) {
	records := []*entity.ExtractedRecord{
		record("a", "b-2", 0),
		record("b", "", 0),
		record("c", "A-1", 0),
		record("d", "B-2", 0),
	}
	assert.Equal(t, []string{"A-1", "B-2"}, InvoiceNumbers(records))
}
