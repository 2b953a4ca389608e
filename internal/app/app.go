// Package app wires configuration into long-lived services and runs the
// sync, migrate and schedule operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/archive"
	"github.com/JakeFAU/stocksync/internal/archive/gcs"
	"github.com/JakeFAU/stocksync/internal/archive/local"
	"github.com/JakeFAU/stocksync/internal/clock/system"
	"github.com/JakeFAU/stocksync/internal/config"
	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/dispatcher"
	"github.com/JakeFAU/stocksync/internal/id/uuid"
	"github.com/JakeFAU/stocksync/internal/metrics"
	"github.com/JakeFAU/stocksync/internal/notify"
	"github.com/JakeFAU/stocksync/internal/notify/memory"
	notifypubsub "github.com/JakeFAU/stocksync/internal/notify/pubsub"
	"github.com/JakeFAU/stocksync/internal/policy/ratelimit"
	"github.com/JakeFAU/stocksync/internal/provider"
	"github.com/JakeFAU/stocksync/internal/provider/tushare"
	"github.com/JakeFAU/stocksync/internal/scheduler"
	"github.com/JakeFAU/stocksync/internal/stock"
	"github.com/JakeFAU/stocksync/internal/store"
	"github.com/JakeFAU/stocksync/internal/store/postgres"
	"github.com/JakeFAU/stocksync/internal/store/sqlite"
	"github.com/JakeFAU/stocksync/internal/window"
	"github.com/JakeFAU/stocksync/internal/worker"
)

// Report is published after every run.
type Report struct {
	RunID    string             `json:"run_id"`
	Exchange string             `json:"exchange"`
	Datasets []string           `json:"datasets"`
	Summary  dispatcher.Summary `json:"summary"`
}

// Option overrides a service normally built from configuration.
type Option func(*App)

// WithStore injects the relational store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithProvider injects the market data provider.
func WithProvider(p provider.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithPublisher injects the run summary publisher.
func WithPublisher(p notify.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithClock replaces the wall clock.
func WithClock(c stock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithRetrySleep replaces the delay used between provider retries.
func WithRetrySleep(sleep func(context.Context, time.Duration) error) Option {
	return func(a *App) { a.retrySleep = sleep }
}

// App holds the shared services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store      store.Store
	provider   provider.Provider
	archiver   *archive.Archiver
	publisher  notify.Publisher
	clock      stock.Clock
	ids        *uuid.Generator
	retrySleep func(context.Context, time.Duration) error
	metrics    *metrics.Server

	closers []func() error
}

// New builds an App. Failing to open the store is fatal and reported as
// ErrConfiguration. The provider is created on first use so migrate works
// without credentials.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, ids: uuid.New()}
	for _, opt := range opts {
		opt(a)
	}

	if a.clock == nil {
		loc, err := cfg.Sync.Location()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", stock.ErrConfiguration, err)
		}
		a.clock = system.New(loc)
	}

	if a.store == nil {
		st, err := openStore(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("%w: open store: %w", stock.ErrConfiguration, err)
		}
		a.store = st
	}
	a.closers = append(a.closers, func() error { a.store.Close(); return nil })

	if err := a.initArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Metrics.Addr != "" {
		a.metrics = metrics.NewServer(cfg.Metrics.Addr, logger)
		a.metrics.Start()
	}

	logger.Info("application services initialized",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("archive", cfg.Archive.Kind),
		zap.String("notify", a.cfg.Notify.Kind),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.DBConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
	case config.DriverSQLite:
		return sqlite.Open(ctx, sqlite.Config{DSN: cfg.DSN, MaxConns: int(cfg.MaxConns)})
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

func (a *App) initArchive(ctx context.Context) error {
	var blobs archive.BlobStore
	switch a.cfg.Archive.Kind {
	case "", config.ArchiveNone:
		return nil
	case config.ArchiveLocal:
		bs, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		blobs = bs
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		bs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.Bucket, Gzip: a.cfg.Archive.Gzip})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		blobs = bs
	default:
		return fmt.Errorf("%w: unknown archive kind %q", stock.ErrConfiguration, a.cfg.Archive.Kind)
	}
	a.archiver = archive.New(blobs, a.cfg.Archive.Prefix)
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.publisher != nil {
		return nil
	}
	switch a.cfg.Notify.Kind {
	case "", config.NotifyNone:
		return nil
	case config.NotifyLog:
		a.publisher = memory.New(a.cfg.Notify.Retain, a.logger)
		return nil
	case config.NotifyPubSub:
		client, err := gpubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		p := notifypubsub.New(client)
		a.closers = append(a.closers, p.Close)
		a.publisher = p
		return nil
	default:
		return fmt.Errorf("%w: unknown notify kind %q", stock.ErrConfiguration, a.cfg.Notify.Kind)
	}
}

func (a *App) providerFor() (provider.Provider, error) {
	if a.provider != nil {
		return a.provider, nil
	}
	pc := a.cfg.Provider
	limiter := ratelimit.New(ratelimit.Config{PerMinute: float64(pc.RatePerMinute)})
	client, err := tushare.New(tushare.Config{
		Endpoint: pc.Endpoint,
		Token:    pc.Token,
		Timeout:  pc.Timeout,
		PageSize: pc.PageSize,
	}, limiter, a.logger)
	if err != nil {
		return nil, err
	}
	a.provider = client
	return client, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Migrate creates any missing dataset tables and indexes.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.store.CreateSchemaIfAbsent(ctx, dataset.Schemas()); err != nil {
		return fmt.Errorf("%w: create schema: %w", stock.ErrConfiguration, err)
	}
	a.logger.Info("schema ready", zap.Int("tables", len(dataset.Schemas())))
	return nil
}

// Sync runs one synchronization with params. The returned error is non-nil
// only for fatal setup failures; per-entity failures are in the Summary.
func (a *App) Sync(ctx context.Context, params config.SyncConfig) (dispatcher.Summary, error) {
	if err := params.Validate(); err != nil {
		if !errors.Is(err, stock.ErrConfiguration) {
			err = fmt.Errorf("%w: %w", stock.ErrConfiguration, err)
		}
		return dispatcher.Summary{}, err
	}
	kinds, _ := dataset.ParseSelection(params.Datasets)
	exchange, _ := stock.ParseExchange(params.Exchange)
	loc, _ := params.Location()
	start, end, _ := params.Bounds()
	lookback, _ := params.Lookback()

	p, err := a.providerFor()
	if err != nil {
		return dispatcher.Summary{}, err
	}
	if err := a.Migrate(ctx); err != nil {
		return dispatcher.Summary{}, err
	}

	runID, err := a.ids.NewID()
	if err != nil {
		return dispatcher.Summary{}, err
	}
	log := a.logger.With(zap.String("run_id", runID))

	retrier := provider.NewRetrier(provider.RetryConfig{
		Delay:       params.RetryDelay,
		MaxAttempts: params.MaxAttempts,
	}, log)
	if a.retrySleep != nil {
		retrier = retrier.WithSleep(a.retrySleep)
	}

	entities, err := provider.Universe(ctx, p, retrier, exchange)
	if err != nil {
		return dispatcher.Summary{}, fmt.Errorf("list entities: %w", err)
	}
	a.checkPoolSize(log, params.Concurrency)
	log.Info("sync started",
		zap.String("exchange", string(exchange)),
		zap.Stringers("datasets", kinds),
		zap.Int("entities", len(entities)),
		zap.Int("concurrency", params.Concurrency),
	)

	resolver := window.NewResolver(a.clock, loc, lookback, log)
	var arch worker.Archiver
	if a.archiver != nil {
		arch = a.archiver
	}
	w := worker.New(a.store, p, retrier, resolver, arch,
		worker.Config{Overrides: window.Overrides{Start: start, End: end}}, log)
	summary := dispatcher.New(w, params.Concurrency, log).Dispatch(ctx, entities, kinds)

	result := "success"
	if !summary.OK() {
		result = "failure"
	}
	metrics.ObserveRun(result, summary.Finished)

	a.publish(ctx, log, Report{
		RunID:    runID,
		Exchange: string(exchange),
		Datasets: kindNames(kinds),
		Summary:  summary,
	})
	return summary, nil
}

// checkPoolSize warns when more workers are requested than the store can
// serve; each worker holds one connection for its whole run.
func (a *App) checkPoolSize(log *zap.Logger, concurrency int) {
	limit := int(a.cfg.DB.MaxConns)
	if limit <= 0 || concurrency <= limit {
		return
	}
	log.Warn("sync.concurrency exceeds db.max_conns; workers will queue for connections",
		zap.Int("concurrency", concurrency),
		zap.Int("max_conns", limit),
	)
}

func (a *App) publish(ctx context.Context, log *zap.Logger, r Report) {
	if a.publisher == nil {
		return
	}
	id, err := a.publisher.Publish(ctx, a.cfg.Notify.Topic, r)
	if err != nil {
		log.Warn("publish run report failed", zap.Error(err))
		return
	}
	log.Info("run report published", zap.String("message_id", id))
}

// Schedule runs Sync with params on the configured cron spec until ctx ends.
func (a *App) Schedule(ctx context.Context, params config.SyncConfig) error {
	loc, err := params.Location()
	if err != nil {
		return fmt.Errorf("%w: %w", stock.ErrConfiguration, err)
	}
	s := scheduler.New(loc, a.logger)
	job := scheduler.JobFunc{JobName: "sync", Fn: func(ctx context.Context) error {
		summary, err := a.Sync(ctx, params)
		if err != nil {
			return err
		}
		if !summary.OK() {
			return fmt.Errorf("%d of %d entities failed", summary.Failed, summary.Total)
		}
		return nil
	}}
	if err := s.AddJob(a.cfg.Schedule.Spec, job); err != nil {
		return fmt.Errorf("%w: %w", stock.ErrConfiguration, err)
	}
	if next, ok := s.Next(); ok {
		a.logger.Info("next sync scheduled", zap.Time("at", next))
	}
	s.Run(ctx)
	return nil
}

// Close releases every service in reverse order of creation.
func (a *App) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown metrics server", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func kindNames(kinds []stock.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}
