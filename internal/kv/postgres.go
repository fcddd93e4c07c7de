// -------------------------------------------------------------------------------
// PostgresBackend - Shared Structured Database
//
// Author: Alex Freidah
//
// Structured metadata backend on PostgreSQL. Every namespace shares a single
// kv_entries table keyed by (database_name, store_name, entry_key). Writes are
// upserts so repeated Set calls on the same key are idempotent.
// -------------------------------------------------------------------------------

package kv

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migration.sql
var migrationSQL string

// PostgresBackend implements Backend over a PostgreSQL table.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend opens a connection pool, verifies connectivity, and
// applies the embedded schema.
func NewPostgresBackend(ctx context.Context, cfg config.PostgresConfig) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := NewPostgresBackendFromDB(db)
	if err := b.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackendFromDB wraps an existing connection pool. The schema is
// assumed to exist.
func NewPostgresBackendFromDB(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// RunMigrations applies the embedded schema DDL. All statements use IF NOT
// EXISTS so this is safe to call on every startup.
func (b *PostgresBackend) RunMigrations(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, migrationSQL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Name returns "postgres".
func (b *PostgresBackend) Name() string { return "postgres" }

// Open returns an adapter scoped to ns. No per-namespace DDL is needed.
func (b *PostgresBackend) Open(_ context.Context, ns Namespace) (Adapter, error) {
	return &postgresAdapter{db: b.db, ns: ns}, nil
}

// Close closes the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

type postgresAdapter struct {
	db *sql.DB
	ns Namespace
}

func (a *postgresAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, op := startOperation(ctx, "postgres", opGet, a.ns, key)

	var value []byte
	err := a.db.QueryRowContext(ctx, `
		SELECT entry_value FROM kv_entries
		WHERE database_name = $1 AND store_name = $2 AND entry_key = $3
	`, a.ns.Database, a.ns.Store, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		op.end(nil)
		return nil, false, nil
	}
	op.end(err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", a.ns, key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

func (a *postgresAdapter) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	ctx, op := startOperation(ctx, "postgres", opSet, a.ns, key)
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO kv_entries (database_name, store_name, entry_key, entry_value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (database_name, store_name, entry_key) DO UPDATE SET
			entry_value = EXCLUDED.entry_value,
			updated_at = NOW()
	`, a.ns.Database, a.ns.Store, key, value)
	op.end(err)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", a.ns, key, err)
	}
	return nil
}

func (a *postgresAdapter) Remove(ctx context.Context, key string) error {
	ctx, op := startOperation(ctx, "postgres", opRemove, a.ns, key)
	_, err := a.db.ExecContext(ctx, `
		DELETE FROM kv_entries
		WHERE database_name = $1 AND store_name = $2 AND entry_key = $3
	`, a.ns.Database, a.ns.Store, key)
	op.end(err)
	if err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", a.ns, key, err)
	}
	return nil
}

func (a *postgresAdapter) List(ctx context.Context) ([]string, error) {
	ctx, op := startOperation(ctx, "postgres", opList, a.ns, "")
	keys, err := a.list(ctx)
	op.end(err)
	return keys, err
}

func (a *postgresAdapter) list(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT entry_key FROM kv_entries
		WHERE database_name = $1 AND store_name = $2
	`, a.ns.Database, a.ns.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", a.ns, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	return keys, nil
}

func (a *postgresAdapter) Clear(ctx context.Context) error {
	ctx, op := startOperation(ctx, "postgres", opClear, a.ns, "")
	_, err := a.db.ExecContext(ctx, `
		DELETE FROM kv_entries WHERE database_name = $1 AND store_name = $2
	`, a.ns.Database, a.ns.Store)
	op.end(err)
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", a.ns, err)
	}
	return nil
}
