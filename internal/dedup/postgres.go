package dedup

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidstab-bot/messenger-webhook-go/internal/db"
)

// PostgresStore keeps dedup markers as rows of the dedup_markers table.
// Rows are only ever inserted.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ ConditionalStore = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM dedup_markers WHERE dedup_key = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, db.WrapError(err, "check dedup marker")
	}
	return exists, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string) error {
	query := `
		INSERT INTO dedup_markers (dedup_key, marker)
		VALUES ($1, $2)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	if _, err := s.pool.Exec(ctx, query, key, Marker); err != nil {
		return db.WrapError(err, "put dedup marker")
	}
	return nil
}

// PutIfAbsent inserts the marker and reports whether this call created it.
// The primary key makes concurrent inserts of the same key race-free.
func (s *PostgresStore) PutIfAbsent(ctx context.Context, key string) (bool, error) {
	query := `
		INSERT INTO dedup_markers (dedup_key, marker)
		VALUES ($1, $2)
		ON CONFLICT (dedup_key) DO NOTHING
	`

	cmdTag, err := s.pool.Exec(ctx, query, key, Marker)
	if err != nil {
		return false, db.WrapError(err, "put dedup marker if absent")
	}
	return cmdTag.RowsAffected() == 1, nil
}
