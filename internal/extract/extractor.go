package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/metrics"
	"github.com/joseph-ayodele/invoice-extractor/internal/nlp"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

const defaultTaggerConfidence = 0.75

type Config struct {
	DayFirst        bool
	DefaultCurrency string // applied at low confidence when nothing is printed
	Retry           RetryPolicy
}

// Extractor turns decoded pages into an ExtractedRecord.
type Extractor struct {
	ocr    ocr.Recognizer
	tagger nlp.FieldTagger
	cfg    Config
	logger *slog.Logger
}

// NewExtractor wires the recognizer and an optional tagger (nil disables it).
func NewExtractor(rec ocr.Recognizer, tagger nlp.FieldTagger, cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Extractor{ocr: rec, tagger: tagger, cfg: cfg, logger: logger}
}

// Extract recognises every page, applies the field rules and the tagger, and
// keeps the best candidate per field. ctx cancellation is honoured between
// pages and before tagging.
func (e *Extractor) Extract(ctx context.Context, source string, pages []entity.Page) (*entity.ExtractedRecord, error) {
	rec := &entity.ExtractedRecord{Source: source, Pages: len(pages)}

	texts := make([]PageText, 0, len(pages))
	empty := 0
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		res, err := Retry(ctx, e.cfg.Retry, e.logger, "ocr", func(ctx context.Context) (ocr.Result, error) {
			return e.ocr.Recognize(ctx, p)
		})
		metrics.ObserveStage("ocr", start)
		if err != nil {
			return nil, fmt.Errorf("ocr page %d: %w", p.Index+1, err)
		}
		if res.Empty() {
			empty++
			rec.AddWarning(fmt.Sprintf("page %d: no text detected", p.Index+1))
		}
		texts = append(texts, PageText{Page: p.Index, Result: res})
	}
	if empty == len(pages) {
		return nil, fmt.Errorf("%s: %w", source, common.ErrNoTextDetected)
	}

	cands, items := ruleCandidates(texts, e.cfg.DayFirst)

	if e.tagger != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		req := nlp.TagRequest{
			Text:            documentText(texts),
			FilenameHint:    source,
			DefaultCurrency: e.cfg.DefaultCurrency,
			DayFirst:        e.cfg.DayFirst,
		}
		fields, err := Retry(ctx, e.cfg.Retry, e.logger, "nlp", func(ctx context.Context) (nlp.InvoiceFields, error) {
			f, _, err := e.tagger.TagFields(ctx, req)
			return f, err
		})
		metrics.ObserveStage("nlp", start)
		switch {
		case err == nil:
			tc, titems := taggerCandidates(fields, e.cfg.DayFirst)
			cands = append(cands, tc...)
			if len(items) == 0 {
				items = titems
			}
		case common.IsTransient(err) || ctx.Err() != nil:
			return nil, err
		default:
			// the tagger is optional; rules alone still produce a record
			e.logger.Warn("pipeline.extract.tagger_failed", "file", source, "error", err)
			rec.AddWarning("nlp tagger: " + err.Error())
		}
	}

	e.assemble(rec, Select(cands), items)
	e.logger.Debug("pipeline.extract.ok", "file", source, "pages", len(pages), "candidates", len(cands), "line_items", len(items))
	return rec, nil
}

func (e *Extractor) assemble(rec *entity.ExtractedRecord, best map[constants.FieldName]Candidate, items []entity.LineItem) {
	pick := func(f constants.FieldName) *entity.Field {
		if c, ok := best[f]; ok {
			return c.field()
		}
		return nil
	}
	rec.InvoiceNumber = pick(constants.FieldInvoiceNumber)
	rec.IssueDate = pick(constants.FieldIssueDate)
	rec.DueDate = pick(constants.FieldDueDate)
	rec.Subtotal = pick(constants.FieldSubtotal)
	rec.Tax = pick(constants.FieldTax)
	rec.Total = pick(constants.FieldTotal)
	rec.VendorName = pick(constants.FieldVendorName)
	rec.VendorAddress = pick(constants.FieldVendorAddress)
	rec.CustomerAddress = pick(constants.FieldCustomerAddress)
	rec.Currency = pick(constants.FieldCurrency)
	rec.LineItems = items

	if rec.Currency == nil && e.cfg.DefaultCurrency != "" {
		if code, ok := NormalizeCurrency(e.cfg.DefaultCurrency); ok {
			rec.Currency = &entity.Field{Value: entity.TextValue{Text: code}, Confidence: 0.1}
			rec.AddWarning("currency not printed, assumed " + code)
		}
	}
}

func documentText(pages []PageText) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Result.Text())
	}
	return strings.Join(parts, "\n\f\n")
}

// taggerCandidates converts tagger output into document-level candidates.
// Values that do not parse are dropped.
func taggerCandidates(f nlp.InvoiceFields, dayFirst bool) ([]Candidate, []entity.LineItem) {
	conf := f.ModelConfidence
	if conf <= 0 {
		conf = defaultTaggerConfidence
	}
	var out []Candidate
	add := func(field constants.FieldName, v entity.Value, raw string) {
		out = append(out, Candidate{Field: field, Value: v, Raw: raw, Confidence: conf, Page: -1, Line: -1})
	}
	text := func(field constants.FieldName, s string) {
		if s = strings.TrimSpace(s); s != "" {
			add(field, entity.TextValue{Text: s}, s)
		}
	}
	amount := func(field constants.FieldName, s string) {
		if a, ok := ParseAmount(s); ok {
			add(field, entity.NumericValue{Amount: a}, s)
		}
	}
	date := func(field constants.FieldName, s string) {
		if d, ok := ParseDate(s, dayFirst); ok {
			add(field, entity.DateValue{Date: d}, s)
		}
	}
	address := func(field constants.FieldName, s string) {
		if s = strings.TrimSpace(s); s != "" {
			a, _ := entity.ParseAddress(s)
			add(field, entity.AddressValue{Address: a}, s)
		}
	}

	text(constants.FieldInvoiceNumber, f.InvoiceNumber)
	text(constants.FieldVendorName, f.VendorName)
	date(constants.FieldIssueDate, f.IssueDate)
	date(constants.FieldDueDate, f.DueDate)
	amount(constants.FieldSubtotal, f.Subtotal)
	amount(constants.FieldTax, f.Tax)
	amount(constants.FieldTotal, f.Total)
	address(constants.FieldVendorAddress, f.VendorAddress)
	address(constants.FieldCustomerAddress, f.CustomerAddress)
	if c, ok := NormalizeCurrency(f.Currency); ok {
		add(constants.FieldCurrency, entity.TextValue{Text: c}, f.Currency)
	}

	var items []entity.LineItem
	for _, li := range f.LineItems {
		amt, ok := ParseAmount(li.Amount)
		if !ok {
			continue
		}
		item := entity.LineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			Amount:      entity.Field{Value: entity.NumericValue{Amount: amt}, Confidence: conf, Raw: li.Amount},
		}
		if u, ok := ParseAmount(li.UnitPrice); ok {
			item.UnitPrice = &u
		}
		items = append(items, item)
	}
	return out, items
}
