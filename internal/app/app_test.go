package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/stocksync/internal/app"
	"github.com/JakeFAU/stocksync/internal/config"
	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/notify/memory"
	"github.com/JakeFAU/stocksync/internal/stock"
	"github.com/JakeFAU/stocksync/internal/store/sqlite"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeProvider struct {
	mu      sync.Mutex
	listing map[string]dataset.RowSet
	rows    map[stock.Kind]dataset.RowSet
	fail    bool
	windows []stock.SyncWindow
}

func (f *fakeProvider) ListEntities(_ context.Context, venue string) (dataset.RowSet, error) {
	return f.listing[venue], nil
}

func (f *fakeProvider) Fetch(_ context.Context, schema *dataset.Schema, _ string, w stock.SyncWindow) (dataset.RowSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, w)
	if f.fail {
		return dataset.RowSet{}, errors.New("provider unavailable")
	}
	return f.rows[schema.Kind], nil
}

func e1Provider() *fakeProvider {
	return &fakeProvider{
		listing: map[string]dataset.RowSet{
			stock.VenueSSE: {
				Fields: []string{"ts_code", "name"},
				Items:  [][]any{{"E1", "Entity One"}},
			},
		},
		rows: map[stock.Kind]dataset.RowSet{
			stock.KindDaily: {
				Fields: []string{"ts_code", "trade_date", "open", "close", "vol", "exotic"},
				Items: [][]any{
					{"E1", "20240227", 9.9, 10.0, 1000.0, "drop me"},
					{"E1", "20240228", 10.0, 10.4, 1100.0, "drop me"},
					{"E1", "20240229", 10.4, 10.2, 900.0, "drop me"},
				},
			},
		},
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DB.Driver = config.DriverSQLite
	cfg.DB.DSN = filepath.Join(t.TempDir(), "stocks.db")
	cfg.Notify = config.NotifyConfig{Kind: config.NotifyLog, Topic: "runs"}
	cfg.Sync.Datasets = "daily"
	cfg.Sync.Exchange = "all"
	cfg.Sync.Concurrency = 2
	return cfg
}

func newApp(t *testing.T, cfg config.Config, p *fakeProvider, logger *zap.Logger, opts ...app.Option) (*app.App, *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, sqlite.Config{DSN: cfg.DB.DSN})
	require.NoError(t, err)

	opts = append([]app.Option{
		app.WithStore(st),
		app.WithProvider(p),
		app.WithClock(fixedClock{now: time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)}),
		app.WithRetrySleep(func(context.Context, time.Duration) error { return nil }),
	}, opts...)
	a, err := app.New(ctx, cfg, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, st
}

func TestSyncEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	p := e1Provider()
	pub := memory.New(0, nil)
	a, st := newApp(t, cfg, p, nil, app.WithPublisher(pub))

	summary, err := a.Sync(ctx, cfg.Sync)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 3, summary.Records)

	require.Len(t, p.windows, 1)
	assert.Equal(t, "20230605-20240301", p.windows[0].String())

	rows, err := st.DB().QueryContext(ctx,
		`SELECT ts_code, trade_date, open, close, vol FROM stock_daily ORDER BY trade_date`)
	require.NoError(t, err)
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var code, date string
		var open, closePx, vol float64
		require.NoError(t, rows.Scan(&code, &date, &open, &closePx, &vol))
		assert.Equal(t, "E1", code)
		assert.Positive(t, closePx)
		dates = append(dates, date)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29"}, dates)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "runs", msgs[0].Topic)
	var report app.Report
	require.NoError(t, pub.Decode(0, &report))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Summary.Records)
	assert.Equal(t, []string{"daily"}, report.Datasets)
}

func TestSyncResumesFromLatestPeriod(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	p := e1Provider()
	a, _ := newApp(t, cfg, p, nil)

	_, err := a.Sync(ctx, cfg.Sync)
	require.NoError(t, err)
	summary, err := a.Sync(ctx, cfg.Sync)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, p.windows, 2)
	assert.Equal(t, "20240301-20240301", p.windows[1].String())
}

func TestSyncReportsEntityFailures(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Sync.MaxAttempts = 2
	p := e1Provider()
	p.fail = true
	pub := memory.New(0, nil)
	a, _ := newApp(t, cfg, p, nil, app.WithPublisher(pub))

	summary, err := a.Sync(context.Background(), cfg.Sync)
	require.NoError(t, err, "entity failures are not fatal")

	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.OK())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "E1", summary.Failures[0].Code)
	assert.Len(t, p.windows, 2)
	assert.Len(t, pub.Messages(), 1)
}

func TestSyncRejectsBadSelection(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, _ := newApp(t, cfg, e1Provider(), nil)

	params := cfg.Sync
	params.Datasets = "ticks"
	_, err := a.Sync(context.Background(), params)
	assert.ErrorIs(t, err, stock.ErrConfiguration)

	params = cfg.Sync
	params.Exchange = "hk"
	_, err = a.Sync(context.Background(), params)
	assert.ErrorIs(t, err, stock.ErrConfiguration)
}

func TestSyncWithoutTokenIsConfigurationError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	a, err := app.New(ctx, cfg, nil, app.WithPublisher(memory.New(0, nil)))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Sync(ctx, cfg.Sync)
	assert.ErrorIs(t, err, stock.ErrConfiguration)
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	a, st := newApp(t, cfg, e1Provider(), nil)

	require.NoError(t, a.Migrate(ctx))

	for _, schema := range dataset.Schemas() {
		var name string
		err := st.DB().QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, schema.Table).Scan(&name)
		require.NoError(t, err, schema.Table)
	}
}

func TestNewFailsOnUnusableStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.DB.Driver = config.DriverPostgres
	cfg.DB.DSN = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"

	_, err := app.New(context.Background(), cfg, nil, app.WithPublisher(memory.New(0, nil)))
	assert.ErrorIs(t, err, stock.ErrConfiguration)
}

func TestLogNotifierWritesReport(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	cfg := testConfig(t)
	a, _ := newApp(t, cfg, e1Provider(), zap.New(core))

	_, err := a.Sync(context.Background(), cfg.Sync)
	require.NoError(t, err)

	entries := logs.FilterMessage("run report").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "runs", entries[0].ContextMap()["topic"])
	assert.Contains(t, entries[0].ContextMap()["payload"], `"run_id"`)
}

func TestSyncWarnsWhenConcurrencyExceedsPool(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig(t)
	cfg.DB.MaxConns = 1
	cfg.Sync.Concurrency = 4
	a, _ := newApp(t, cfg, e1Provider(), zap.New(core))

	summary, err := a.Sync(context.Background(), cfg.Sync)
	require.NoError(t, err)
	assert.True(t, summary.OK())

	entries := logs.FilterMessageSnippet("exceeds db.max_conns").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ContextMap()["max_conns"])
}
