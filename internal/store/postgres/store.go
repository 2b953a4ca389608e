// Package postgres implements the store contract on PostgreSQL via pgxpool.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
	"github.com/JakeFAU/stocksync/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type pool interface {
	querier
	Close()
}

// Store hands out one pooled connection per worker session.
type Store struct {
	pool    pool
	acquire func(context.Context) (querier, func(), error)
}

var _ store.Store = (*Store)(nil)

// New connects a pool using cfg and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{
		pool: p,
		acquire: func(ctx context.Context) (querier, func(), error) {
			conn, err := p.Acquire(ctx)
			if err != nil {
				return nil, nil, err
			}
			return conn, conn.Release, nil
		},
	}, nil
}

// NewWithPool builds a store whose sessions share p (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		pool: p,
		acquire: func(context.Context) (querier, func(), error) {
			return p, func() {}, nil
		},
	}, nil
}

// Acquire checks out a connection for one worker.
func (s *Store) Acquire(ctx context.Context) (store.Session, error) {
	conn, release, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", stock.ErrPersistence, err)
	}
	return &Session{conn: conn, release: release}, nil
}

// CreateSchemaIfAbsent creates every table and index that does not exist yet.
func (s *Store) CreateSchemaIfAbsent(ctx context.Context, schemas []*dataset.Schema) error {
	for _, sc := range schemas {
		stmts := append([]string{store.Postgres.CreateTable(sc)}, store.Postgres.CreateIndexes(sc)...)
		for _, stmt := range stmts {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", sc.Table, err)
			}
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Session is a single checked-out connection.
type Session struct {
	conn    querier
	release func()
	once    sync.Once
}

// MaxPeriodKey returns the newest stored period for code.
func (s *Session) MaxPeriodKey(ctx context.Context, schema *dataset.Schema, code string) (time.Time, bool, error) {
	var raw string
	if err := s.conn.QueryRow(ctx, store.Postgres.MaxPeriod(schema), code).Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: max %s for %s: %w", stock.ErrPersistence, schema.PeriodKey, code, err)
	}
	return store.ParseMaxPeriod(raw)
}

// Upsert writes rec as a single autocommitted statement.
func (s *Session) Upsert(ctx context.Context, rec dataset.Record) error {
	query, args := store.Postgres.Upsert(rec)
	if _, err := s.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upsert %s %s %s: %w",
			stock.ErrPersistence, rec.Schema.Table, rec.Code, stock.FormatDate(rec.Period), err)
	}
	return nil
}

// Release returns the connection to the pool.
func (s *Session) Release() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}
