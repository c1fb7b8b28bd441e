package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the settings table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    scope      TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (scope, key)
);
CREATE INDEX IF NOT EXISTS idx_settings_scope ON settings(scope);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// settings table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("settings: migrate: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	const query = `SELECT value FROM settings WHERE scope = $1 AND key = $2`

	var value []byte
	err := s.db.QueryRow(ctx, query, scope, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("settings: get %s/%s: %w", scope, key, err)
	}
	return value, true, nil
}

// Set implements [Store].
func (s *PostgresStore) Set(ctx context.Context, scope, key string, value []byte) error {
	const query = `
		INSERT INTO settings (scope, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (scope, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, scope, key, value); err != nil {
		return fmt.Errorf("settings: set %s/%s: %w", scope, key, err)
	}
	return nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, scope, key string) error {
	const query = `DELETE FROM settings WHERE scope = $1 AND key = $2`

	if _, err := s.db.Exec(ctx, query, scope, key); err != nil {
		return fmt.Errorf("settings: delete %s/%s: %w", scope, key, err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, scope string) (map[string][]byte, error) {
	const query = `SELECT key, value FROM settings WHERE scope = $1`

	rows, err := s.db.Query(ctx, query, scope)
	if err != nil {
		return nil, fmt.Errorf("settings: list %s: %w", scope, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("settings: list scan: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: list %s: %w", scope, err)
	}
	return out, nil
}
