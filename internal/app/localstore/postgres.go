package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists device values in the device_storage table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by pool. The table is created by the db migrations.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, deviceID, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM device_storage WHERE device_id = $1 AND key = $2`,
		deviceID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, deviceID, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO device_storage (device_id, key, value, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (device_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		deviceID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes the keys in a single statement, so a reader never sees some
// of them gone and others still present.
func (s *PostgresStore) Remove(ctx context.Context, deviceID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM device_storage WHERE device_id = $1 AND key = ANY($2)`,
		deviceID, keys,
	)
	if err != nil {
		return fmt.Errorf("remove %v: %w", keys, err)
	}
	return nil
}

// PurgeStale deletes values of devices untouched since before the given age in days.
func (s *PostgresStore) PurgeStale(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM device_storage WHERE updated_at < NOW() - make_interval(days => $1)`,
		days,
	)
	if err != nil {
		return 0, fmt.Errorf("purge stale device values: %w", err)
	}
	return tag.RowsAffected(), nil
}
