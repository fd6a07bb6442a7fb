// Package helpers provides shared fixtures for package tests.
package helpers

import (
	"testing"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/repository"
	"github.com/xiaot623/gogo/runplane/internal/retry"
)

// FastRetry keeps retry loops short in tests.
var FastRetry = retry.Policy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

// NewTestSQLiteStore opens an in-memory backend that is closed when the test ends.
func NewTestSQLiteStore(t *testing.T, opts ...repository.Option) *repository.SQLiteStore {
	t.Helper()

	opts = append([]repository.Option{repository.WithRetryPolicy(FastRetry)}, opts...)
	s, err := repository.NewSQLiteStore(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
