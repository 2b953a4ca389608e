package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/stock"
)

var kinds = []stock.Kind{stock.KindDaily}

func entities(n int) []stock.Entity {
	out := make([]stock.Entity, n)
	for i := range out {
		out[i] = stock.Entity{Code: fmt.Sprintf("%06d.SZ", i), Name: fmt.Sprintf("E%d", i)}
	}
	return out
}

type gaugeRunner struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	calls   atomic.Int32
	delay   time.Duration
	fail    map[string]bool
	panicOn string
}

func (g *gaugeRunner) Run(_ context.Context, e stock.Entity, k []stock.Kind) stock.JobResult {
	g.calls.Add(1)
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		cur := g.maxSeen.Load()
		if n <= cur || g.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(g.delay)
	if e.Code == g.panicOn {
		panic("boom")
	}
	if g.fail[e.Code] {
		return stock.JobResult{Code: e.Code, Name: e.Name, Outcome: stock.OutcomeFailure, Failed: k, Err: errors.New("fetch failed")}
	}
	return stock.JobResult{Code: e.Code, Name: e.Name, Outcome: stock.OutcomeSuccess, Records: 2}
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	t.Parallel()

	r := &gaugeRunner{delay: 5 * time.Millisecond}
	d := New(r, 3, zap.NewNop())

	sum := d.Dispatch(context.Background(), entities(20), kinds)

	assert.Equal(t, int32(20), r.calls.Load())
	assert.LessOrEqual(t, r.maxSeen.Load(), int32(3))
	assert.Equal(t, 20, sum.Succeeded)
	assert.Equal(t, 40, sum.Records)
	assert.True(t, sum.OK())
}

type blockingRunner struct {
	blockCode string
	release   chan struct{}
	finished  atomic.Int32
}

func (b *blockingRunner) Run(_ context.Context, e stock.Entity, _ []stock.Kind) stock.JobResult {
	if e.Code == b.blockCode {
		<-b.release
	}
	b.finished.Add(1)
	return stock.JobResult{Code: e.Code, Name: e.Name, Outcome: stock.OutcomeSuccess}
}

func TestDispatchRefillsFreedSlotImmediately(t *testing.T) {
	t.Parallel()

	list := entities(5)
	r := &blockingRunner{blockCode: list[0].Code, release: make(chan struct{})}
	d := New(r, 2, zap.NewNop())

	done := make(chan Summary, 1)
	go func() { done <- d.Dispatch(context.Background(), list, kinds) }()

	// Entity 0 holds one slot; the other four must cycle through the second.
	require.Eventually(t, func() bool { return r.finished.Load() == 4 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("dispatch returned while entity 0 was still running")
	default:
	}

	close(r.release)
	sum := <-done
	assert.Equal(t, 5, sum.Succeeded)
}

func TestDispatchSequentialRunsOneAtATime(t *testing.T) {
	t.Parallel()

	r := &gaugeRunner{}
	d := New(r, 1, nil)

	sum := d.Dispatch(context.Background(), entities(5), kinds)

	assert.Equal(t, int32(1), r.maxSeen.Load())
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 5, sum.Succeeded)
}

func TestDispatchZeroLimitFallsBackToSequential(t *testing.T) {
	t.Parallel()

	d := New(&gaugeRunner{}, 0, nil)
	assert.Equal(t, 1, d.Limit())
}

func TestDispatchRecoversPanics(t *testing.T) {
	t.Parallel()

	list := entities(4)
	r := &gaugeRunner{panicOn: list[2].Code}
	d := New(r, 2, zap.NewNop())

	sum := d.Dispatch(context.Background(), list, kinds)

	require.Equal(t, 1, sum.Failed)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, list[2].Code, sum.Failures[0].Code)
	assert.Contains(t, sum.Failures[0].Error, stock.ErrWorker.Error())
	assert.Equal(t, []string{"daily"}, sum.Failures[0].Datasets)
}

func TestDispatchCollectsFailures(t *testing.T) {
	t.Parallel()

	list := entities(6)
	r := &gaugeRunner{fail: map[string]bool{list[0].Code: true, list[5].Code: true}}
	d := New(r, 4, nil)

	sum := d.Dispatch(context.Background(), list, kinds)

	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 4, sum.Succeeded)
	assert.False(t, sum.OK())
	assert.False(t, sum.Finished.Before(sum.Started))
}

type cancellingRunner struct {
	mu     sync.Mutex
	seen   int
	after  int
	cancel context.CancelFunc
}

func (c *cancellingRunner) Run(ctx context.Context, e stock.Entity, _ []stock.Kind) stock.JobResult {
	c.mu.Lock()
	c.seen++
	if c.seen == c.after {
		c.cancel()
	}
	c.mu.Unlock()
	<-ctx.Done()
	return stock.JobResult{Code: e.Code, Outcome: stock.OutcomeFailure, Err: ctx.Err()}
}

func TestDispatchStopsAdmittingAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &cancellingRunner{after: 2, cancel: cancel}
	d := New(r, 2, zap.NewNop())

	done := make(chan Summary, 1)
	go func() { done <- d.Dispatch(ctx, entities(10), kinds) }()

	var sum Summary
	require.Eventually(t, func() bool {
		select {
		case sum = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, sum.Failed, "in-flight entities are drained")
	assert.Equal(t, 8, sum.Skipped)
	assert.Equal(t, 2, r.seen)
}

func TestDispatchEmptyInput(t *testing.T) {
	t.Parallel()

	sum := New(&gaugeRunner{}, 4, nil).Dispatch(context.Background(), nil, kinds)
	assert.Zero(t, sum.Total)
	assert.True(t, sum.OK())
}
