package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
)

// PoolOptions sizes the two Postgres pools.
type PoolOptions struct {
	// MetaSize bounds the pool used for threads, runs, events and locks.
	MetaSize int
	// StateMin and StateMax bound the pool used for checkpoints and transactions.
	StateMin int
	StateMax int
	// ConnMaxLifetime recycles connections. Zero keeps them forever.
	ConnMaxLifetime time.Duration
}

// DefaultPoolOptions matches the default deployment sizing.
var DefaultPoolOptions = PoolOptions{MetaSize: 2, StateMin: 1, StateMax: 6, ConnMaxLifetime: 30 * time.Minute}

// PostgresStore is the relational backend. It keeps two connection pools on
// the same database: one for metadata and one for checkpoint state. Writes
// that must be atomic across both (a checkpoint plus its run update) run as a
// single transaction on the state pool instead of a two-phase commit.
type PostgresStore struct {
	*sqlBackend
}

var _ Backend = (*PostgresStore)(nil)

// NewPostgresStore opens both pools, verifies connectivity and applies the schema.
func NewPostgresStore(ctx context.Context, connString string, pools PoolOptions, opts ...Option) (*PostgresStore, error) {
	if connString == "" {
		return nil, errors.New("postgres: connection string is empty")
	}
	meta, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open meta pool: %w", err)
	}
	state, err := sql.Open("pgx", connString)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("postgres: open state pool: %w", err)
	}
	configurePools(meta, state, pools)

	s := newPostgresStore(meta, state, opts...)
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("postgres: ping database: %w", err)
	}
	if err := s.migrate(ctx, postgresMigrations); err != nil {
		s.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

func newPostgresStore(meta, state *sql.DB, opts ...Option) *PostgresStore {
	// Postgres serialises conflicting writers itself; there is no process-wide writer path.
	return &PostgresStore{sqlBackend: newSQLBackend(dialectPostgres, meta, state, noopLocker{}, opts...)}
}

func configurePools(meta, state *sql.DB, p PoolOptions) {
	if p.MetaSize <= 0 {
		p.MetaSize = DefaultPoolOptions.MetaSize
	}
	if p.StateMax <= 0 {
		p.StateMax = DefaultPoolOptions.StateMax
	}
	if p.StateMin < 0 || p.StateMin > p.StateMax {
		p.StateMin = min(DefaultPoolOptions.StateMin, p.StateMax)
	}
	meta.SetMaxOpenConns(p.MetaSize)
	meta.SetMaxIdleConns(p.MetaSize)
	state.SetMaxOpenConns(p.StateMax)
	state.SetMaxIdleConns(p.StateMin)
	if p.ConnMaxLifetime > 0 {
		meta.SetConnMaxLifetime(p.ConnMaxLifetime)
		state.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
}
