package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/metrics"
	"github.com/JakeFAU/stocksync/internal/stock"
)

// DefaultRetryDelay is the fixed pause between failed provider calls.
const DefaultRetryDelay = 20 * time.Second

// RetryConfig controls the fetch loop.
type RetryConfig struct {
	Delay time.Duration
	// MaxAttempts caps the number of calls. Zero retries forever.
	MaxAttempts int
}

// Retrier repeats a provider call with a fixed delay until it succeeds.
type Retrier struct {
	cfg    RetryConfig
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

// NewRetrier constructs a Retrier.
func NewRetrier(cfg RetryConfig, logger *zap.Logger) *Retrier {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{cfg: cfg, sleep: sleepContext, logger: logger}
}

// WithSleep replaces the delay function (primarily for testing).
func (r *Retrier) WithSleep(sleep func(context.Context, time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

// FetchUntilSuccess runs call until it returns without error. Every failure
// is logged and followed by the configured delay. It only gives up when ctx
// ends or MaxAttempts is reached.
func (r *Retrier) FetchUntilSuccess(ctx context.Context, api string, call Call) (dataset.RowSet, error) {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		rows, err := call(ctx)
		if err == nil {
			metrics.ObserveFetch(api, time.Since(start))
			return rows, nil
		}
		if ctx.Err() != nil {
			return dataset.RowSet{}, fmt.Errorf("fetch %s: %w", api, ctx.Err())
		}
		metrics.ObserveFetchRetry(api)
		r.logger.Error("provider call failed",
			zap.String("api", api),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", r.cfg.Delay),
			zap.Error(err),
		)
		if r.cfg.MaxAttempts > 0 && attempt >= r.cfg.MaxAttempts {
			return dataset.RowSet{}, fmt.Errorf("%w: %s gave up after %d attempts: %w",
				stock.ErrTransientFetch, api, attempt, err)
		}
		if err := r.sleep(ctx, r.cfg.Delay); err != nil {
			return dataset.RowSet{}, fmt.Errorf("fetch %s: %w", api, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
