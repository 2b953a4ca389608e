// Package scheduler runs sync jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (j JobFunc) Name() string { return j.JobName }

// Run implements Job.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Scheduler wraps a cron runner. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
}

// New creates a Scheduler that evaluates schedules in loc.
func New(loc *time.Location, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{s: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// AddJob registers job under a standard five-field cron spec or a
// descriptor such as "@daily".
//
//	"30 17 * * MON-FRI" - 17:30 on weekdays
//	"@every 6h"         - every six hours
func (s *Scheduler) AddJob(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.logger.Info("job started", zap.String("job", job.Name()))
		if err := job.Run(s.ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
			return
		}
		s.logger.Info("job completed", zap.String("job", job.Name()), zap.Duration("elapsed", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("add job %s with schedule %q: %w", job.Name(), spec, err)
	}
	s.logger.Info("job registered", zap.String("job", job.Name()), zap.String("schedule", spec))
	return nil
}

// Next returns when the earliest registered job fires next.
func (s *Scheduler) Next() (time.Time, bool) {
	now := time.Now().In(s.cron.Location())
	var next time.Time
	for _, e := range s.cron.Entries() {
		t := e.Schedule.Next(now)
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next, !next.IsZero()
}

// Run starts the scheduler and blocks until ctx is done. Jobs receive ctx and
// in-flight jobs are awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.logger.Info("running job immediately", zap.String("job", job.Name()))
	return job.Run(ctx)
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
