package repository

import (
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, domain.ErrStorage},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, domain.ErrStorage},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, domain.ErrConstraint},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, domain.ErrStorage},
		{"pg connection", &pgconn.PgError{Code: "08006"}, domain.ErrStorage},
		{"pg unique", &pgconn.PgError{Code: "23505"}, domain.ErrConstraint},
		{"pg foreign key", &pgconn.PgError{Code: "23503"}, domain.ErrConstraint},
		{"bad conn", driver.ErrBadConn, domain.ErrStorage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tc.err), tc.want)
		})
	}

	plain := classify("op", errors.New("syntax error"))
	assert.False(t, errors.Is(plain, domain.ErrStorage))
	assert.False(t, errors.Is(plain, domain.ErrConstraint))
	assert.Nil(t, classify("op", nil))
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y IN (?, ?)`
	assert.Equal(t, q, dialectSQLite.rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE x = $1 AND y IN ($2, $3)`, dialectPostgres.rebind(q))
}
