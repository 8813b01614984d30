package extract

import (
	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
)

// PageText is the recognised text of one page, as handed to the field rules.
type PageText struct {
	Page   int
	Result ocr.Result
}

// Candidate is one proposed value for a field.
type Candidate struct {
	Field      constants.FieldName
	Value      entity.Value
	Raw        string
	Confidence float64
	Page       int // -1 for document-level candidates (tagger)
	Line       int
}

// beats reports whether c wins over other: higher confidence, then the later
// page, then the later line.
func (c Candidate) beats(other Candidate) bool {
	if c.Confidence != other.Confidence {
		return c.Confidence > other.Confidence
	}
	if c.Page != other.Page {
		return c.Page > other.Page
	}
	return c.Line > other.Line
}

// Select picks the winning candidate per field.
func Select(cands []Candidate) map[constants.FieldName]Candidate {
	out := make(map[constants.FieldName]Candidate)
	for _, c := range cands {
		if cur, ok := out[c.Field]; !ok || c.beats(cur) {
			out[c.Field] = c
		}
	}
	return out
}

func (c Candidate) field() *entity.Field {
	page := c.Page
	if page < 0 {
		page = 0
	}
	return &entity.Field{Value: c.Value, Confidence: c.Confidence, Page: page, Raw: c.Raw}
}
