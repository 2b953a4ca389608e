package dataset

import (
	"time"

	"github.com/guregu/null/v6"
)

// Record is one persistence-ready row keyed by (Code, Period).
//
// Values is aligned with Schema.Fields. A nil entry means the provider did
// not supply the field; assigned entries hold null.Float, null.Int,
// null.String or null.Time and may themselves be null.
type Record struct {
	Schema *Schema
	Code   string
	Name   null.String
	Period time.Time
	Values []any
}

// NewRecord returns an empty record for schema with every value unset.
func NewRecord(schema *Schema, code string, period time.Time) Record {
	return Record{
		Schema: schema,
		Code:   code,
		Period: period,
		Values: make([]any, len(schema.Fields)),
	}
}

// Assigned reports whether the value at position i was supplied.
func (r Record) Assigned(i int) bool {
	return i >= 0 && i < len(r.Values) && r.Values[i] != nil
}

// AssignedCount returns how many value columns were supplied.
func (r Record) AssignedCount() int {
	n := 0
	for _, v := range r.Values {
		if v != nil {
			n++
		}
	}
	return n
}

// Value returns the value for a named column and whether it was supplied.
func (r Record) Value(name string) (any, bool) {
	i, ok := r.Schema.FieldIndex(name)
	if !ok || !r.Assigned(i) {
		return nil, false
	}
	return r.Values[i], true
}

// Float returns a float column, null when absent or not a float column.
func (r Record) Float(name string) null.Float {
	v, _ := r.Value(name)
	f, _ := v.(null.Float)
	return f
}

// Int returns an int column, null when absent or not an int column.
func (r Record) Int(name string) null.Int {
	v, _ := r.Value(name)
	i, _ := v.(null.Int)
	return i
}

// Text returns a text column, null when absent or not a text column.
func (r Record) Text(name string) null.String {
	v, _ := r.Value(name)
	s, _ := v.(null.String)
	return s
}

// Date returns a date column, null when absent or not a date column.
func (r Record) Date(name string) null.Time {
	v, _ := r.Value(name)
	t, _ := v.(null.Time)
	return t
}
