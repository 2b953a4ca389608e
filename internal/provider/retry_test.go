package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
)

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func failingCall(fails int, calls *int) Call {
	return func(context.Context) (dataset.RowSet, error) {
		*calls++
		if *calls <= fails {
			return dataset.RowSet{}, errors.New("upstream unavailable")
		}
		return dataset.RowSet{Fields: []string{"ts_code"}, Items: [][]any{{"600000.SH"}}}, nil
	}
}

func TestFetchUntilSuccessRetriesWithFixedDelay(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleep{}
	r := NewRetrier(RetryConfig{}, zap.NewNop()).WithSleep(sleeper.sleep)

	calls := 0
	rows, err := r.FetchUntilSuccess(context.Background(), "daily", failingCall(3, &calls))
	require.NoError(t, err)

	assert.Equal(t, 4, calls)
	assert.Equal(t, 1, rows.Len())
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay, DefaultRetryDelay}, sleeper.delays)
}

func TestFetchUntilSuccessFirstTry(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleep{}
	r := NewRetrier(RetryConfig{Delay: time.Second}, nil).WithSleep(sleeper.sleep)

	calls := 0
	_, err := r.FetchUntilSuccess(context.Background(), "daily", failingCall(0, &calls))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestFetchUntilSuccessHonorsMaxAttempts(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleep{}
	r := NewRetrier(RetryConfig{Delay: time.Millisecond, MaxAttempts: 2}, nil).WithSleep(sleeper.sleep)

	calls := 0
	_, err := r.FetchUntilSuccess(context.Background(), "daily", failingCall(5, &calls))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stock.ErrTransientFetch))
	assert.Equal(t, 2, calls)
	assert.Len(t, sleeper.delays, 1)
}

func TestFetchUntilSuccessStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(RetryConfig{Delay: time.Hour}, nil)

	done := make(chan error, 1)
	go func() {
		calls := 0
		_, err := r.FetchUntilSuccess(ctx, "daily", failingCall(1000, &calls))
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("retrier did not stop after cancel")
	}
}
