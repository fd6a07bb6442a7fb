package repository

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/runplane/internal/config"
)

// Open selects and opens a backend from a DATABASE_URL.
func Open(ctx context.Context, databaseURL string, pools PoolOptions, opts ...Option) (Backend, error) {
	kind, dsn, err := config.ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}
	switch kind {
	case config.BackendSQLite:
		return NewSQLiteStore(dsn, opts...)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, dsn, pools, opts...)
	}
	return nil, fmt.Errorf("unsupported backend %q", kind)
}
