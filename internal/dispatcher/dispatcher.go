// Package dispatcher fans entities out to a bounded pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/metrics"
	"github.com/JakeFAU/stocksync/internal/stock"
)

// Runner processes every selected kind for one entity.
type Runner interface {
	Run(ctx context.Context, entity stock.Entity, kinds []stock.Kind) stock.JobResult
}

// Failure describes one entity that did not sync cleanly.
type Failure struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Datasets []string `json:"datasets,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Summary aggregates the results of one Dispatch call.
type Summary struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Records   int       `json:"records"`
	Failures  []Failure `json:"failures,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// OK reports whether every admitted entity succeeded and none were skipped.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Skipped == 0
}

func (s *Summary) add(res stock.JobResult) {
	s.Records += res.Records
	if res.Succeeded() {
		s.Succeeded++
		return
	}
	s.Failed++
	f := Failure{Code: res.Code, Name: res.Name}
	for _, k := range res.Failed {
		f.Datasets = append(f.Datasets, k.String())
	}
	if res.Err != nil {
		f.Error = res.Err.Error()
	}
	s.Failures = append(s.Failures, f)
}

// Dispatcher runs at most limit entities at once.
type Dispatcher struct {
	runner Runner
	limit  int
	logger *zap.Logger
}

// New constructs a Dispatcher. A limit below one is treated as one.
func New(runner Runner, limit int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{runner: runner, limit: limit, logger: logger.Named("dispatcher")}
}

// Limit returns the concurrency bound.
func (d *Dispatcher) Limit() int {
	return d.limit
}

// Dispatch runs kinds for every entity and blocks until all admitted work has
// completed. Once ctx is cancelled no further entities are admitted.
func (d *Dispatcher) Dispatch(ctx context.Context, entities []stock.Entity, kinds []stock.Kind) Summary {
	summary := Summary{Total: len(entities), Started: time.Now().UTC()}
	if d.limit == 1 {
		d.sequential(ctx, entities, kinds, &summary)
	} else {
		d.concurrent(ctx, entities, kinds, &summary)
	}
	summary.Finished = time.Now().UTC()

	d.logger.Info("dispatch finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("records", summary.Records),
		zap.Duration("elapsed", summary.Finished.Sub(summary.Started)),
	)
	return summary
}

func (d *Dispatcher) sequential(ctx context.Context, entities []stock.Entity, kinds []stock.Kind, summary *Summary) {
	for i, e := range entities {
		if ctx.Err() != nil {
			d.skip(summary, len(entities)-i)
			return
		}
		metrics.IncActiveWorkers()
		res := d.runSafe(ctx, e, kinds)
		metrics.DecActiveWorkers()
		d.complete(summary, res)
	}
}

func (d *Dispatcher) concurrent(ctx context.Context, entities []stock.Entity, kinds []stock.Kind, summary *Summary) {
	results := make(chan stock.JobResult, d.limit)
	outstanding := 0

	for i, e := range entities {
		if outstanding == d.limit {
			d.complete(summary, <-results)
			outstanding--
		}
		if ctx.Err() != nil {
			d.skip(summary, len(entities)-i)
			break
		}
		outstanding++
		metrics.IncActiveWorkers()
		go func(e stock.Entity) {
			defer metrics.DecActiveWorkers()
			results <- d.runSafe(ctx, e, kinds)
		}(e)
	}

	for ; outstanding > 0; outstanding-- {
		d.complete(summary, <-results)
	}
}

// runSafe converts a worker panic into a failed result.
func (d *Dispatcher) runSafe(ctx context.Context, e stock.Entity, kinds []stock.Kind) (res stock.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			res = stock.JobResult{
				Code:    e.Code,
				Name:    e.Name,
				Outcome: stock.OutcomeFailure,
				Failed:  append([]stock.Kind(nil), kinds...),
				Err:     fmt.Errorf("%w: %s: %v", stock.ErrWorker, e.Code, r),
			}
		}
	}()
	return d.runner.Run(ctx, e, kinds)
}

func (d *Dispatcher) complete(summary *Summary, res stock.JobResult) {
	metrics.ObserveJob(string(res.Outcome))
	summary.add(res)
	log := d.logger.With(zap.String("code", res.Code), zap.String("name", res.Name))
	if res.Succeeded() {
		log.Info("entity synced", zap.Int("rows", res.Records))
		return
	}
	datasets := make([]string, 0, len(res.Failed))
	for _, k := range res.Failed {
		datasets = append(datasets, k.String())
	}
	log.Error("entity failed", zap.Strings("dataset", datasets), zap.Error(res.Err))
}

func (d *Dispatcher) skip(summary *Summary, n int) {
	summary.Skipped += n
	d.logger.Warn("dispatch cancelled; entities not admitted", zap.Int("skipped", n))
}
