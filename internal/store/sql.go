package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
)

// Dialect captures the differences between supported SQL engines.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Types maps value column types to column definitions.
	Types map[dataset.FieldType]string
	// KeyType is the column type of ts_code and name.
	KeyType string
	// MaxPeriodExpr wraps the max() aggregate so it scans as a date string.
	MaxPeriodExpr func(column string) string
	// BindDate converts a civil date to a driver value.
	BindDate func(time.Time) any
}

// Postgres is the dialect for PostgreSQL.
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Types: map[dataset.FieldType]string{
		dataset.Float: "DOUBLE PRECISION",
		dataset.Int:   "BIGINT",
		dataset.Text:  "TEXT",
		dataset.Date:  "DATE",
	},
	KeyType: "VARCHAR(64)",
	MaxPeriodExpr: func(column string) string {
		return fmt.Sprintf("COALESCE(to_char(max(%s), 'YYYYMMDD'), '')", column)
	},
	BindDate: func(t time.Time) any { return t },
}

// SQLite is the dialect for SQLite. Dates are stored as ISO text so that
// lexical and chronological order agree.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Types: map[dataset.FieldType]string{
		dataset.Float: "REAL",
		dataset.Int:   "INTEGER",
		dataset.Text:  "TEXT",
		dataset.Date:  "TEXT",
	},
	KeyType: "TEXT",
	MaxPeriodExpr: func(column string) string {
		return fmt.Sprintf("COALESCE(max(%s), '')", column)
	},
	BindDate: func(t time.Time) any { return t.Format(time.DateOnly) },
}

// Quote renders an identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// CreateTable returns the DDL for schema's table.
func (d Dialect) CreateTable(s *dataset.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", Quote(s.Table))
	fmt.Fprintf(&b, "\t%s %s NOT NULL,\n", Quote(dataset.CodeColumn), d.KeyType)
	fmt.Fprintf(&b, "\t%s %s NOT NULL,\n", Quote(s.PeriodKey), d.Types[dataset.Date])
	if s.HasName {
		fmt.Fprintf(&b, "\t%s %s,\n", Quote(dataset.NameColumn), d.KeyType)
	}
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "\t%s %s,\n", Quote(f.Name), d.Types[f.Type])
	}
	fmt.Fprintf(&b, "\tPRIMARY KEY (%s, %s)\n)", Quote(dataset.CodeColumn), Quote(s.PeriodKey))
	return b.String()
}

// CreateIndexes returns the DDL for schema's secondary indexes.
func (d Dialect) CreateIndexes(s *dataset.Schema) []string {
	var out []string
	for _, f := range s.Fields {
		if !f.Indexed {
			continue
		}
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			Quote("ix_"+s.Table+"_"+f.Name), Quote(s.Table), Quote(f.Name)))
	}
	return out
}

// MaxPeriod returns the query for the newest period key of one entity.
func (d Dialect) MaxPeriod(s *dataset.Schema) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		d.MaxPeriodExpr(Quote(s.PeriodKey)), Quote(s.Table), Quote(dataset.CodeColumn), d.Placeholder(1))
}

// ParseMaxPeriod interprets the scanned MaxPeriod result.
func ParseMaxPeriod(raw string) (time.Time, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, false, nil
	}
	t, err := stock.ParseDate(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Upsert returns the statement and arguments that write rec. Only assigned
// columns are inserted or updated so a partial row never clears stored data.
func (d Dialect) Upsert(rec dataset.Record) (string, []any) {
	s := rec.Schema
	cols := []string{Quote(dataset.CodeColumn), Quote(s.PeriodKey)}
	args := []any{rec.Code, d.BindDate(rec.Period)}
	var updates []string

	if s.HasName && rec.Name.Valid {
		cols = append(cols, Quote(dataset.NameColumn))
		args = append(args, d.bind(rec.Name))
		updates = append(updates, Quote(dataset.NameColumn))
	}
	for i, f := range s.Fields {
		if !rec.Assigned(i) {
			continue
		}
		cols = append(cols, Quote(f.Name))
		args = append(args, d.bind(rec.Values[i]))
		updates = append(updates, Quote(f.Name))
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = d.Placeholder(i + 1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, %s) ",
		Quote(s.Table), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		Quote(dataset.CodeColumn), Quote(s.PeriodKey))
	if len(updates) == 0 {
		b.WriteString("DO NOTHING")
		return b.String(), args
	}
	sets := make([]string, len(updates))
	for i, c := range updates {
		sets[i] = c + " = excluded." + c
	}
	b.WriteString("DO UPDATE SET " + strings.Join(sets, ", "))
	return b.String(), args
}

func (d Dialect) bind(v any) any {
	switch x := v.(type) {
	case null.Float:
		if !x.Valid {
			return nil
		}
		return x.Float64
	case null.Int:
		if !x.Valid {
			return nil
		}
		return x.Int64
	case null.String:
		if !x.Valid {
			return nil
		}
		return x.String
	case null.Time:
		if !x.Valid {
			return nil
		}
		return d.BindDate(x.Time)
	default:
		return v
	}
}
