package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"

	"github.com/JakeFAU/stocksync/internal/stock"
)

// ErrMissingPeriod is returned when a row cannot be keyed.
var ErrMissingPeriod = errors.New("row has no usable period key")

// Map converts one provider row into a fresh record for entity. Fields the
// schema does not know are ignored; NaN and unparseable values become
// explicit nulls.
func Map(row Row, schema *Schema, entity stock.Entity) (Record, error) {
	raw, ok := row[schema.PeriodKey]
	if !ok {
		return Record{}, fmt.Errorf("%s %s: %w", schema.Kind, entity.Code, ErrMissingPeriod)
	}
	period := coerceDate(raw)
	if !period.Valid {
		return Record{}, fmt.Errorf("%s %s: %w (%v)", schema.Kind, entity.Code, ErrMissingPeriod, raw)
	}

	rec := NewRecord(schema, entity.Code, period.Time)
	if schema.HasName {
		rec.Name = null.NewString(entity.Name, entity.Name != "")
	}
	for i, f := range schema.Fields {
		v, present := row[f.Name]
		if !present {
			continue
		}
		rec.Values[i] = coerce(f.Type, v)
	}
	return rec, nil
}

func coerce(t FieldType, v any) any {
	switch t {
	case Float:
		return coerceFloat(v)
	case Int:
		return coerceInt(v)
	case Date:
		return coerceDate(v)
	default:
		return coerceText(v)
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func coerceFloat(v any) null.Float {
	f, ok := toFloat(v)
	return null.NewFloat(f, ok)
}

func coerceInt(v any) null.Int {
	f, ok := toFloat(v)
	if !ok || f > math.MaxInt64 || f < math.MinInt64 {
		return null.Int{}
	}
	return null.IntFrom(int64(math.Round(f)))
}

func coerceText(v any) null.String {
	switch x := v.(type) {
	case nil:
		return null.String{}
	case string:
		return null.StringFrom(x)
	case float64:
		if math.IsNaN(x) {
			return null.String{}
		}
		return null.StringFrom(strconv.FormatFloat(x, 'f', -1, 64))
	default:
		return null.StringFrom(fmt.Sprint(x))
	}
}

func coerceDate(v any) null.Time {
	var raw string
	switch x := v.(type) {
	case string:
		raw = x
	case json.Number:
		raw = x.String()
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return null.Time{}
		}
		raw = strconv.FormatFloat(x, 'f', 0, 64)
	default:
		return null.Time{}
	}
	if strings.TrimSpace(raw) == "" {
		return null.Time{}
	}
	t, err := stock.ParseDate(raw)
	if err != nil {
		return null.Time{}
	}
	return null.TimeFrom(t)
}
