package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantIs   error
		contains string
	}{
		{
			name:     "no rows",
			err:      pgx.ErrNoRows,
			wantIs:   ErrNotFound,
			contains: "op: record not found",
		},
		{
			name:     "unique violation",
			err:      &pgconn.PgError{Code: "23505", ConstraintName: "dedup_markers_pkey"},
			wantIs:   ErrDuplicateKey,
			contains: "dedup_markers_pkey",
		},
		{
			name:     "undefined table",
			err:      &pgconn.PgError{Code: "42P01", Message: `relation "dedup_markers" does not exist`},
			wantIs:   ErrUndefinedTable,
			contains: "run migrations",
		},
		{
			name:     "other postgres error",
			err:      &pgconn.PgError{Code: "53300", Message: "too many connections"},
			contains: "database error [53300]",
		},
		{
			name:     "plain error",
			err:      errors.New("connection refused"),
			contains: "op: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := WrapError(tt.err, "op")
			assert.Error(t, got)
			assert.Contains(t, got.Error(), tt.contains)
			if tt.wantIs != nil {
				assert.ErrorIs(t, got, tt.wantIs)
			} else {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}

func TestWrapError_Nil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, WrapError(nil, "op"))
}
