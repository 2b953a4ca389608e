// Package window computes the incremental fetch range for one entity and
// dataset.
package window

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
	"github.com/JakeFAU/stocksync/internal/store"
)

// Overrides are operator supplied bounds; nil fields are resolved.
type Overrides struct {
	Start *time.Time
	End   *time.Time
}

// Resolver turns persisted state and overrides into a SyncWindow.
type Resolver struct {
	clock    stock.Clock
	location *time.Location
	lookback map[stock.Kind]int
	logger   *zap.Logger
}

// NewResolver constructs a Resolver. "Today" is taken from clock in loc;
// lookback overrides each schema's default first-sync depth.
func NewResolver(clock stock.Clock, loc *time.Location, lookback map[stock.Kind]int, logger *zap.Logger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{clock: clock, location: loc, lookback: lookback, logger: logger}
}

// Today returns the current civil date in the resolver's location.
func (r *Resolver) Today() time.Time {
	return stock.CivilDate(r.clock.Now().In(r.location))
}

// LookbackDays returns the first-sync depth for schema.
func (r *Resolver) LookbackDays(schema *dataset.Schema) int {
	if days, ok := r.lookback[schema.Kind]; ok && days > 0 {
		return days
	}
	return schema.DefaultLookbackDays
}

// Resolve computes the window for code. An explicit start is used verbatim;
// otherwise the day after the newest stored period, or today minus the
// lookback when nothing is stored. A failing lookup is treated as nothing
// stored.
func (r *Resolver) Resolve(ctx context.Context, q store.PeriodQuerier, schema *dataset.Schema, code string, o Overrides) stock.SyncWindow {
	today := r.Today()
	var w stock.SyncWindow

	switch {
	case o.Start != nil:
		w.Start = stock.CivilDate(*o.Start)
	default:
		latest, found, err := q.MaxPeriodKey(ctx, schema, code)
		if err != nil {
			r.logger.Warn("latest period lookup failed, using lookback",
				zap.String("code", code),
				zap.String("dataset", schema.Kind.String()),
				zap.Error(err),
			)
			found = false
		}
		if found {
			w.Start = stock.AddDays(latest, 1)
		} else {
			w.Start = stock.AddDays(today, -r.LookbackDays(schema))
		}
	}

	if o.End != nil {
		w.End = stock.CivilDate(*o.End)
	} else {
		w.End = today
	}
	return w
}
