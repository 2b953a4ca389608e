package stock

import (
	"fmt"
	"strings"
	"time"
)

// Entity is one listed security that datasets are synced for.
type Entity struct {
	// Code is the provider's security identifier (e.g. 600000.SH).
	Code string
	// Name is the display name attached to records that carry one.
	Name string
}

// Kind identifies one dataset family.
type Kind string

// Dataset kinds, in their default processing order.
const (
	KindDaily              Kind = "daily"
	KindFinancialIndicator Kind = "fina"
	KindForecast           Kind = "forecast"
	KindExpress            Kind = "express"
	KindMoneyFlow          Kind = "moneyflow"
)

// AllKinds lists every kind in default order.
func AllKinds() []Kind {
	return []Kind{KindDaily, KindFinancialIndicator, KindForecast, KindExpress, KindMoneyFlow}
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// SyncWindow is an inclusive range of civil dates to fetch.
type SyncWindow struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window contains no dates.
func (w SyncWindow) Empty() bool {
	return w.Start.After(w.End)
}

// String renders the window as YYYYMMDD-YYYYMMDD.
func (w SyncWindow) String() string {
	return FormatDate(w.Start) + "-" + FormatDate(w.End)
}

// Outcome is the terminal state of a job.
type Outcome string

// Job outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// JobResult is reported by a worker for one entity.
type JobResult struct {
	Code    string
	Name    string
	Outcome Outcome
	// Failed lists the kinds that did not complete.
	Failed []Kind
	// Err holds the first failure, if any.
	Err error
	// Records counts the records written across all kinds.
	Records int
}

// Succeeded reports whether every kind completed.
func (r JobResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Exchange selects which listing venues form the run's universe.
type Exchange string

// Supported exchange selections.
const (
	ExchangeAll      Exchange = "all"
	ExchangeShanghai Exchange = "sh"
	ExchangeShenzhen Exchange = "sz"
)

// Venue codes understood by the provider.
const (
	VenueSSE  = "SSE"
	VenueSZSE = "SZSE"
)

// ParseExchange validates an exchange selection.
func ParseExchange(raw string) (Exchange, error) {
	switch ex := Exchange(strings.ToLower(strings.TrimSpace(raw))); ex {
	case "":
		return ExchangeAll, nil
	case ExchangeAll, ExchangeShanghai, ExchangeShenzhen:
		return ex, nil
	default:
		return "", fmt.Errorf("%w: wrong exchange %q (want all, sh or sz)", ErrConfiguration, raw)
	}
}

// Venues returns the provider venue codes for the selection, Shanghai first.
func (e Exchange) Venues() []string {
	switch e {
	case ExchangeShanghai:
		return []string{VenueSSE}
	case ExchangeShenzhen:
		return []string{VenueSZSE}
	default:
		return []string{VenueSSE, VenueSZSE}
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
