package store

import (
	"context"
	"time"

	"github.com/JakeFAU/stocksync/internal/dataset"
)

// PeriodQuerier reports the newest persisted period key for an entity.
type PeriodQuerier interface {
	// MaxPeriodKey returns the latest period stored for code, or ok=false when
	// the entity has no records of this kind.
	MaxPeriodKey(ctx context.Context, schema *dataset.Schema, code string) (time.Time, bool, error)
}

// Session is a store handle owned by exactly one worker.
type Session interface {
	PeriodQuerier
	// Upsert writes one record in its own transaction, overwriting the
	// assigned columns of any existing row with the same key.
	Upsert(ctx context.Context, rec dataset.Record) error
	// Release returns the session to the store. Safe to call more than once.
	Release()
}

// Store hands out sessions and owns the schema.
type Store interface {
	Acquire(ctx context.Context) (Session, error)
	CreateSchemaIfAbsent(ctx context.Context, schemas []*dataset.Schema) error
	Close()
}
