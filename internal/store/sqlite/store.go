// Package sqlite implements the store contract on an embedded SQLite file,
// for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Register sqlite driver

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
	"github.com/JakeFAU/stocksync/internal/store"
)

// Config controls the SQLite database handle.
type Config struct {
	// DSN is a file path or URI understood by modernc.org/sqlite.
	DSN      string
	MaxConns int
	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

// Store hands out one database/sql connection per worker session.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	db, err := sql.Open("sqlite", withPragmas(cfg.DSN, cfg.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// In-memory databases are per-connection.
	if cfg.DSN == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func withPragmas(dsn string, busy time.Duration) string {
	if dsn == ":memory:" || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if busy <= 0 {
		busy = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", dsn, sep, busy.Milliseconds())
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Acquire checks out a dedicated connection for one worker.
func (s *Store) Acquire(ctx context.Context) (store.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", stock.ErrPersistence, err)
	}
	return &Session{conn: conn}, nil
}

// CreateSchemaIfAbsent creates every table and index that does not exist yet.
func (s *Store) CreateSchemaIfAbsent(ctx context.Context, schemas []*dataset.Schema) error {
	for _, sc := range schemas {
		stmts := append([]string{store.SQLite.CreateTable(sc)}, store.SQLite.CreateIndexes(sc)...)
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", sc.Table, err)
			}
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Session wraps one *sql.Conn.
type Session struct {
	conn *sql.Conn
	once sync.Once
}

// MaxPeriodKey returns the newest stored period for code.
func (s *Session) MaxPeriodKey(ctx context.Context, schema *dataset.Schema, code string) (time.Time, bool, error) {
	var raw string
	if err := s.conn.QueryRowContext(ctx, store.SQLite.MaxPeriod(schema), code).Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: max %s for %s: %w", stock.ErrPersistence, schema.PeriodKey, code, err)
	}
	return store.ParseMaxPeriod(raw)
}

// Upsert writes rec as a single autocommitted statement.
func (s *Session) Upsert(ctx context.Context, rec dataset.Record) error {
	query, args := store.SQLite.Upsert(rec)
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upsert %s %s %s: %w",
			stock.ErrPersistence, rec.Schema.Table, rec.Code, stock.FormatDate(rec.Period), err)
	}
	return nil
}

// Release returns the connection to the pool.
func (s *Session) Release() {
	s.once.Do(func() {
		_ = s.conn.Close()
	})
}
