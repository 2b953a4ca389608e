// Package dataset describes the per-kind record schemas and converts
// provider rows into persistence-ready records.
package dataset

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/stocksync/internal/stock"
)

// FieldType is the storage type of a schema column.
type FieldType int

// Column types.
const (
	Float FieldType = iota
	Int
	Text
	Date
)

// String implements fmt.Stringer.
func (t FieldType) String() string {
	switch t {
	case Float:
		return "float"
	case Int:
		return "int"
	case Text:
		return "text"
	case Date:
		return "date"
	default:
		return "unknown"
	}
}

// Field is one non-key column of a dataset.
type Field struct {
	Name    string
	Type    FieldType
	Indexed bool
}

// Column names shared by every dataset.
const (
	CodeColumn = "ts_code"
	NameColumn = "name"
)

// Schema describes one dataset kind end to end: provider API, table, key
// and typed value columns.
type Schema struct {
	Kind    stock.Kind
	Table   string
	APIName string
	// PeriodKey is the date column that, with ts_code, keys a record.
	PeriodKey string
	// HasName marks tables that carry the entity display name.
	HasName bool
	Fields  []Field
	// DefaultLookbackDays bounds the first sync of an entity.
	DefaultLookbackDays int

	index map[string]int
}

func newSchema(s Schema) *Schema {
	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.index[f.Name] = i
	}
	return &s
}

// FieldIndex returns the position of a value column.
func (s *Schema) FieldIndex(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// APIFields lists the provider fields requested for this dataset.
func (s *Schema) APIFields() []string {
	out := make([]string, 0, len(s.Fields)+2)
	out = append(out, CodeColumn, s.PeriodKey)
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

var registry = map[stock.Kind]*Schema{}

func register(s Schema) {
	registry[s.Kind] = newSchema(s)
}

// Lookup returns the schema registered for kind.
func Lookup(kind stock.Kind) (*Schema, error) {
	s, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown dataset %q", stock.ErrConfiguration, kind)
	}
	return s, nil
}

// MustLookup is Lookup for kinds known at compile time.
func MustLookup(kind stock.Kind) *Schema {
	s, err := Lookup(kind)
	if err != nil {
		panic(err)
	}
	return s
}

// Schemas returns every registered schema in default kind order.
func Schemas() []*Schema {
	out := make([]*Schema, 0, len(registry))
	for _, k := range stock.AllKinds() {
		if s, ok := registry[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

var aliases = map[string]stock.Kind{
	"daily":          stock.KindDaily,
	"fina":           stock.KindFinancialIndicator,
	"fina_indicator": stock.KindFinancialIndicator,
	"financial":      stock.KindFinancialIndicator,
	"forecast":       stock.KindForecast,
	"express":        stock.KindExpress,
	"moneyflow":      stock.KindMoneyFlow,
	"money_flow":     stock.KindMoneyFlow,
}

// ParseSelection turns a comma separated dataset list (or "all") into kinds,
// preserving order and dropping duplicates.
func ParseSelection(raw string) ([]stock.Kind, error) {
	parts := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == ',' || r == ' '
	})
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no dataset selected", stock.ErrConfiguration)
	}
	seen := make(map[stock.Kind]bool, len(parts))
	var out []stock.Kind
	for _, p := range parts {
		if p == "all" {
			for _, k := range stock.AllKinds() {
				if !seen[k] {
					seen[k] = true
					out = append(out, k)
				}
			}
			continue
		}
		k, ok := aliases[p]
		if !ok {
			return nil, fmt.Errorf("%w: wrong job type %q", stock.ErrConfiguration, p)
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}
