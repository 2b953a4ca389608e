package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if syncJobsTotal == nil || syncRecordsUpsertedTotal == nil ||
		syncFetchRetriesTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	beforeJobs := testutil.ToFloat64(syncJobsTotal.WithLabelValues("success"))
	ObserveJob("success")
	if got := testutil.ToFloat64(syncJobsTotal.WithLabelValues("success")); got != beforeJobs+1 {
		t.Errorf("expected job counter to grow by 1, got %f -> %f", beforeJobs, got)
	}

	beforeRecords := testutil.ToFloat64(syncRecordsUpsertedTotal.WithLabelValues("daily"))
	ObserveUpserts("daily", 3)
	ObserveUpserts("daily", 0)
	if got := testutil.ToFloat64(syncRecordsUpsertedTotal.WithLabelValues("daily")); got != beforeRecords+3 {
		t.Errorf("expected records to grow by 3, got %f -> %f", beforeRecords, got)
	}

	beforeActive := testutil.ToFloat64(syncActiveWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(syncActiveWorkers); got != beforeActive+1 {
		t.Errorf("expected active workers %f, got %f", beforeActive+1, got)
	}
	DecActiveWorkers()

	finished := time.Unix(1709251200, 0)
	ObserveRun("success", finished)
	if got := testutil.ToFloat64(syncLastRunTimestamp.WithLabelValues("success")); got != 1709251200 {
		t.Errorf("expected last run timestamp, got %f", got)
	}

	ObserveFetch("daily", 250*time.Millisecond)
	if n := testutil.CollectAndCount(syncFetchDurationSeconds); n <= 0 {
		t.Errorf("expected fetch duration to be observed, got %d", n)
	}
}
