package entity

import "time"

// FieldKind tags the variant carried by a Field.
type FieldKind int

const (
	KindNumeric FieldKind = iota + 1
	KindDate
	KindText
	KindAddress
)

func (k FieldKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindDate:
		return "date"
	case KindText:
		return "text"
	case KindAddress:
		return "address"
	}
	return "unknown"
}

// Value is one of NumericValue, DateValue, TextValue or AddressValue.
type Value interface {
	Kind() FieldKind
}

type NumericValue struct{ Amount Amount }
type DateValue struct{ Date time.Time }
type TextValue struct{ Text string }
type AddressValue struct{ Address Address }

func (NumericValue) Kind() FieldKind { return KindNumeric }
func (DateValue) Kind() FieldKind    { return KindDate }
func (TextValue) Kind() FieldKind    { return KindText }
func (AddressValue) Kind() FieldKind { return KindAddress }

// Field is an extracted value with the confidence of the candidate it came from.
type Field struct {
	Value      Value
	Confidence float64
	Page       int    // 0-based page the winning candidate was found on
	Raw        string // source text before conversion
}

// Present reports whether the field carries a value.
func (f *Field) Present() bool { return f != nil && f.Value != nil }

// Amount returns the numeric value, if the field is numeric.
func (f *Field) Amount() (Amount, bool) {
	if !f.Present() {
		return 0, false
	}
	v, ok := f.Value.(NumericValue)
	return v.Amount, ok
}

// Date returns the date value, if the field is a date.
func (f *Field) Date() (time.Time, bool) {
	if !f.Present() {
		return time.Time{}, false
	}
	v, ok := f.Value.(DateValue)
	return v.Date, ok
}

// Text returns the text value, if the field is text.
func (f *Field) Text() (string, bool) {
	if !f.Present() {
		return "", false
	}
	v, ok := f.Value.(TextValue)
	return v.Text, ok
}

// Address returns the address value, if the field is an address.
func (f *Field) Address() (Address, bool) {
	if !f.Present() {
		return Address{}, false
	}
	v, ok := f.Value.(AddressValue)
	return v.Address, ok
}

// String renders the value for exports; absent fields render empty.
func (f *Field) String() string {
	if !f.Present() {
		return ""
	}
	switch v := f.Value.(type) {
	case NumericValue:
		return v.Amount.String()
	case DateValue:
		return v.Date.Format("2006-01-02")
	case TextValue:
		return v.Text
	case AddressValue:
		return v.Address.String()
	}
	return f.Raw
}
