package stock

import "errors"

var (
	// ErrTransientFetch marks a provider call that failed and may be retried.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrPersistence marks a store read or write failure.
	ErrPersistence = errors.New("persistence error")
	// ErrConfiguration marks an unusable configuration detected at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrWorker marks a unit of work that terminated abnormally.
	ErrWorker = errors.New("worker error")
)
