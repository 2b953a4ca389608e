package window

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeQuerier struct {
	latest map[string]time.Time
	err    error
	calls  int
}

func (f *fakeQuerier) MaxPeriodKey(_ context.Context, _ *dataset.Schema, code string) (time.Time, bool, error) {
	f.calls++
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	t, ok := f.latest[code]
	return t, ok, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func shanghaiNoon(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 4, 0, 0, 0, time.UTC)
}

var daily = dataset.MustLookup(stock.KindDaily)

func TestResolveFirstSyncUsesLookback(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CST", 8*3600)
	r := NewResolver(fixedClock{now: shanghaiNoon(2024, 3, 1)}, loc, nil, nil)

	w := r.Resolve(context.Background(), &fakeQuerier{}, daily, "E1", Overrides{})
	assert.Equal(t, date(2023, 6, 5), w.Start)
	assert.Equal(t, date(2024, 3, 1), w.End)
}

func TestResolveStartsDayAfterLatest(t *testing.T) {
	t.Parallel()

	r := NewResolver(fixedClock{now: shanghaiNoon(2024, 3, 1)}, time.UTC, nil, nil)
	q := &fakeQuerier{latest: map[string]time.Time{"E1": date(2024, 2, 29)}}

	w := r.Resolve(context.Background(), q, daily, "E1", Overrides{})
	assert.Equal(t, date(2024, 3, 1), w.Start)
	assert.False(t, w.Empty())

	q.latest["E1"] = date(2024, 3, 1)
	w = r.Resolve(context.Background(), q, daily, "E1", Overrides{})
	assert.True(t, w.Empty(), "up to date entity yields an empty window")
}

func TestResolveExplicitOverridesSkipLookup(t *testing.T) {
	t.Parallel()

	r := NewResolver(fixedClock{now: shanghaiNoon(2024, 3, 1)}, time.UTC, nil, nil)
	q := &fakeQuerier{latest: map[string]time.Time{"E1": date(2024, 2, 29)}}
	start, end := date(2020, 1, 1), date(2020, 12, 31)

	w := r.Resolve(context.Background(), q, daily, "E1", Overrides{Start: &start, End: &end})
	assert.Equal(t, stock.SyncWindow{Start: start, End: end}, w)
	assert.Zero(t, q.calls)
}

func TestResolveTreatsLookupErrorAsNoRecord(t *testing.T) {
	t.Parallel()

	r := NewResolver(fixedClock{now: shanghaiNoon(2024, 3, 1)}, time.UTC,
		map[stock.Kind]int{stock.KindDaily: 10}, nil)

	w := r.Resolve(context.Background(), &fakeQuerier{err: errors.New("db down")}, daily, "E1", Overrides{})
	assert.Equal(t, date(2024, 2, 20), w.Start)
	assert.Equal(t, date(2024, 3, 1), w.End)
}

func TestTodayUsesMarketTimeZone(t *testing.T) {
	t.Parallel()

	// 18:00 UTC on Feb 29 is already Mar 1 in Shanghai.
	loc := time.FixedZone("CST", 8*3600)
	r := NewResolver(fixedClock{now: time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC)}, loc, nil, nil)
	assert.Equal(t, date(2024, 3, 1), r.Today())
}

func TestLookbackDaysPrefersOverride(t *testing.T) {
	t.Parallel()

	r := NewResolver(fixedClock{}, nil, map[stock.Kind]int{stock.KindForecast: 30}, nil)
	assert.Equal(t, 30, r.LookbackDays(dataset.MustLookup(stock.KindForecast)))
	assert.Equal(t, 270, r.LookbackDays(daily))
}
