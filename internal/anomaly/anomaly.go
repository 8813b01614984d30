// Package anomaly flags suspicious records once a whole batch is known.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/metrics"
)

// Config tunes the outlier check.
type Config struct {
	StdDevThreshold float64 // N in "more than N standard deviations"
	MinBatchSize    int     // outlier check is skipped below this many amounts
}

// DefaultConfig returns N=2 over batches of at least 5 amounts.
func DefaultConfig() Config {
	return Config{StdDevThreshold: 2.0, MinBatchSize: 5}
}

const minStdDev = 1e-9

// Baseline remembers invoice numbers from earlier completed tasks.
type Baseline interface {
	// SeenInvoices returns, for each known number, the task it was first seen in.
	SeenInvoices(ctx context.Context, numbers []string) (map[string]string, error)
	RecordInvoices(ctx context.Context, taskID string, numbers []string) error
}

// Scorer runs the batch checks. The baseline is optional.
type Scorer struct {
	cfg      Config
	baseline Baseline
	logger   *slog.Logger
}

func NewScorer(cfg Config, baseline Baseline, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StdDevThreshold <= 0 {
		cfg.StdDevThreshold = DefaultConfig().StdDevThreshold
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = DefaultConfig().MinBatchSize
	}
	return &Scorer{cfg: cfg, baseline: baseline, logger: logger}
}

// Score returns one Anomaly per flagged record, in record order. keys are
// the validation keys of records, index for index. Records must be in
// submission order; the result depends on nothing else.
func (s *Scorer) Score(ctx context.Context, records []*entity.ExtractedRecord, keys []string) ([]entity.Anomaly, error) {
	if len(keys) != len(records) {
		return nil, fmt.Errorf("anomaly: %d keys for %d records", len(keys), len(records))
	}
	flags := make([][]string, len(records))

	groups := groupByNumber(records)
	for i, rec := range records {
		n := normalizeNumber(rec.InvoiceNumberText())
		if n == "" {
			continue
		}
		if c := len(groups[n]); c > 1 {
			flags[i] = append(flags[i], fmt.Sprintf("duplicate invoice number %s (%d occurrences in batch)", rec.InvoiceNumberText(), c))
			metrics.AnomaliesFlagged.WithLabelValues("duplicate").Inc()
		}
	}

	s.outliers(records, flags)

	for _, idx := range groups {
		if len(idx) < 2 || !inconsistent(records, idx) {
			continue
		}
		for _, i := range idx {
			flags[i] = append(flags[i], fmt.Sprintf("invoice number %s has conflicting vendor or address across files", records[i].InvoiceNumberText()))
			metrics.AnomaliesFlagged.WithLabelValues("inconsistent").Inc()
		}
	}

	if err := s.historical(ctx, records, flags); err != nil {
		return nil, err
	}

	out := []entity.Anomaly{}
	for i, f := range flags {
		if len(f) == 0 {
			continue
		}
		out = append(out, entity.Anomaly{InvoiceID: keys[i], Source: records[i].Source, Flags: f})
	}
	s.logger.Debug("anomaly.score.ok", "records", len(records), "flagged", len(out))
	return out, nil
}

func (s *Scorer) outliers(records []*entity.ExtractedRecord, flags [][]string) {
	var values []float64
	var owners []int
	for i, rec := range records {
		if a, ok := rec.ComputedTotal(); ok {
			values = append(values, a.Float())
			owners = append(owners, i)
		}
	}
	if len(values) < s.cfg.MinBatchSize {
		return
	}
	mean, std := meanStdDev(values)
	if std < minStdDev {
		return
	}
	for j, v := range values {
		z := math.Abs(v-mean) / std
		if z > s.cfg.StdDevThreshold {
			i := owners[j]
			flags[i] = append(flags[i], fmt.Sprintf("amount %.2f is %.2f standard deviations from batch mean %.2f", v, z, mean))
			metrics.AnomaliesFlagged.WithLabelValues("outlier").Inc()
		}
	}
}

func (s *Scorer) historical(ctx context.Context, records []*entity.ExtractedRecord, flags [][]string) error {
	if s.baseline == nil {
		return nil
	}
	numbers := InvoiceNumbers(records)
	if len(numbers) == 0 {
		return nil
	}
	seen, err := s.baseline.SeenInvoices(ctx, numbers)
	if err != nil {
		return fmt.Errorf("anomaly baseline: %w", err)
	}
	for i, rec := range records {
		n := normalizeNumber(rec.InvoiceNumberText())
		if taskID, ok := seen[n]; ok && n != "" {
			flags[i] = append(flags[i], fmt.Sprintf("invoice number %s already seen in task %s", rec.InvoiceNumberText(), taskID))
			metrics.AnomaliesFlagged.WithLabelValues("historical").Inc()
		}
	}
	return nil
}

// InvoiceNumbers returns the distinct normalized invoice numbers of records, sorted.
func InvoiceNumbers(records []*entity.ExtractedRecord) []string {
	set := map[string]struct{}{}
	for _, rec := range records {
		if n := normalizeNumber(rec.InvoiceNumberText()); n != "" {
			set[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func groupByNumber(records []*entity.ExtractedRecord) map[string][]int {
	groups := map[string][]int{}
	for i, rec := range records {
		if n := normalizeNumber(rec.InvoiceNumberText()); n != "" {
			groups[n] = append(groups[n], i)
		}
	}
	return groups
}

// inconsistent reports whether any two records in idx disagree on a vendor
// name or address that both of them carry.
func inconsistent(records []*entity.ExtractedRecord, idx []int) bool {
	for a := 0; a < len(idx); a++ {
		for b := a + 1; b < len(idx); b++ {
			ra, rb := records[idx[a]], records[idx[b]]
			na, okA := ra.VendorName.Text()
			nb, okB := rb.VendorName.Text()
			if okA && okB && !entity.SameName(na, nb) {
				return true
			}
			aa, okA := ra.VendorAddress.Address()
			ab, okB := rb.VendorAddress.Address()
			if okA && okB && !aa.Equivalent(ab) {
				return true
			}
		}
	}
	return false
}

func normalizeNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
