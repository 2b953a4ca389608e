// Package worker syncs every selected dataset of one entity.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/metrics"
	"github.com/JakeFAU/stocksync/internal/provider"
	"github.com/JakeFAU/stocksync/internal/stock"
	"github.com/JakeFAU/stocksync/internal/store"
	"github.com/JakeFAU/stocksync/internal/window"
)

// Archiver keeps a copy of raw provider payloads.
type Archiver interface {
	Put(ctx context.Context, kind stock.Kind, code string, w stock.SyncWindow, rows dataset.RowSet) (string, error)
}

// Config controls Worker behavior.
type Config struct {
	// Overrides pins the window bounds for every entity of the run.
	Overrides window.Overrides
}

// Worker resolves, fetches, maps and persists datasets for one entity at a
// time. A Worker holds no per-entity state and may serve many goroutines.
type Worker struct {
	store    store.Store
	provider provider.Provider
	retrier  *provider.Retrier
	resolver *window.Resolver
	archiver Archiver
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. archiver may be nil.
func New(
	st store.Store,
	p provider.Provider,
	retrier *provider.Retrier,
	resolver *window.Resolver,
	archiver Archiver,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    st,
		provider: p,
		retrier:  retrier,
		resolver: resolver,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger.Named("worker"),
	}
}

// Run syncs kinds for entity in order. A failing kind is logged and skipped;
// the result is a failure if any kind failed.
func (w *Worker) Run(ctx context.Context, entity stock.Entity, kinds []stock.Kind) stock.JobResult {
	log := w.logger.With(zap.String("code", entity.Code), zap.String("name", entity.Name))
	result := stock.JobResult{Code: entity.Code, Name: entity.Name, Outcome: stock.OutcomeSuccess}

	sess, err := w.store.Acquire(ctx)
	if err != nil {
		log.Error("acquire store session failed", zap.Error(err))
		result.Outcome = stock.OutcomeFailure
		result.Failed = append(result.Failed, kinds...)
		result.Err = err
		return result
	}
	defer sess.Release()

	for i, kind := range kinds {
		if ctx.Err() != nil {
			result.Failed = append(result.Failed, kinds[i:]...)
			if result.Err == nil {
				result.Err = ctx.Err()
			}
			break
		}
		n, err := w.syncKind(ctx, sess, entity, kind, log)
		result.Records += n
		if err != nil {
			metrics.ObserveDatasetFailure(kind.String())
			log.Error("dataset sync failed",
				zap.String("dataset", kind.String()),
				zap.Int("rows", n),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, kind)
			if result.Err == nil {
				result.Err = err
			}
		}
	}
	if len(result.Failed) > 0 {
		result.Outcome = stock.OutcomeFailure
	}
	return result
}

func (w *Worker) syncKind(ctx context.Context, sess store.Session, entity stock.Entity, kind stock.Kind, log *zap.Logger) (int, error) {
	schema, err := dataset.Lookup(kind)
	if err != nil {
		return 0, err
	}
	log = log.With(zap.String("dataset", kind.String()))

	win := w.resolver.Resolve(ctx, sess, schema, entity.Code, w.cfg.Overrides)
	if win.Empty() {
		log.Debug("dataset already up to date", zap.String("start", stock.FormatDate(win.Start)))
		return 0, nil
	}

	rows, err := w.retrier.FetchUntilSuccess(ctx, schema.APIName, func(ctx context.Context) (dataset.RowSet, error) {
		return w.provider.Fetch(ctx, schema, entity.Code, win)
	})
	if err != nil {
		return 0, err
	}

	if w.archiver != nil && rows.Len() > 0 {
		if uri, err := w.archiver.Put(ctx, kind, entity.Code, win, rows); err != nil {
			log.Warn("archive raw payload failed", zap.Error(err))
		} else if uri != "" {
			log.Debug("raw payload archived", zap.String("uri", uri))
		}
	}

	written := 0
	for i := 0; i < rows.Len(); i++ {
		rec, err := dataset.Map(rows.Row(i), schema, entity)
		if err != nil {
			metrics.ObserveUpserts(kind.String(), written)
			return written, fmt.Errorf("map row %d: %w", i, err)
		}
		if err := sess.Upsert(ctx, rec); err != nil {
			metrics.ObserveUpserts(kind.String(), written)
			if !errors.Is(err, stock.ErrPersistence) {
				err = fmt.Errorf("%w: %w", stock.ErrPersistence, err)
			}
			return written, err
		}
		written++
	}
	metrics.ObserveUpserts(kind.String(), written)

	log.Info("dataset synced",
		zap.String("start", stock.FormatDate(win.Start)),
		zap.String("end", stock.FormatDate(win.End)),
		zap.Int("rows", written),
	)
	return written, nil
}
