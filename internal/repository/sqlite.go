package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the embedded single-file backend. Every write goes through
// one process-wide mutex; reads run concurrently. Thread locks are rows with a
// lease expiry because the file has no native lock primitive.
type SQLiteStore struct {
	*sqlBackend
	path string
}

var _ Backend = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	memory := isMemory(path)
	db, err := sql.Open("sqlite3", sqliteDSN(path, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(8)
	}

	s := &SQLiteStore{
		sqlBackend: newSQLBackend(dialectSQLite, db, db, &sync.Mutex{}, opts...),
		path:       path,
	}
	if err := s.migrate(context.Background(), sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// sqliteDSN enables foreign keys, a busy timeout and immediate write
// transactions on every pooled connection. File databases also use WAL so
// readers never block the writer.
func sqliteDSN(path string, memory bool) string {
	params := []string{"_foreign_keys=1", "_busy_timeout=5000", "_txlock=immediate"}
	if !memory {
		params = append(params, "_journal_mode=WAL", "_synchronous=NORMAL")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}
