// Package keyindex loads the API-key -> tenant-id index TenantResolver uses
// for its third resolution step. It is the one piece of genuinely
// relational, queryable state in this domain, backed by Postgres via
// pgx/v5 with golang-migrate applying the schema migration embedded below.
package keyindex

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations
var migrationsFS embed.FS

// Index is a loaded-once, read-only snapshot of the api_keys table: hashed
// API key -> tenant id. TenantRuntime construction happens once at boot, so
// the resolver holds this as a plain map rather than querying per request.
type Index struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, applies the embedded migration, and returns an
// Index ready for Load.
func Open(ctx context.Context, dsn string) (*Index, error) {
	if err := migrateUp(dsn); err != nil {
		return nil, fmt.Errorf("keyindex: migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("keyindex: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("keyindex: ping: %w", err)
	}

	return &Index{pool: pool}, nil
}

func migrateUp(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "api_keys", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer sourceDriver.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (idx *Index) Close() {
	if idx.pool != nil {
		idx.pool.Close()
	}
}

// LoadAll returns every non-revoked (key_hash -> tenant_id) pair, for
// TenantResolver to hold in memory.
func (idx *Index) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := idx.pool.Query(ctx, `SELECT key_hash, tenant_id FROM api_keys WHERE revoked_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("keyindex: query: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var hash, tenantID string
		if err := rows.Scan(&hash, &tenantID); err != nil {
			return nil, fmt.Errorf("keyindex: scan: %w", err)
		}
		out[hash] = tenantID
	}
	return out, rows.Err()
}

// Register inserts or updates one API key's hash -> tenant mapping.
func (idx *Index) Register(ctx context.Context, rawKey, tenantID string) error {
	_, err := idx.pool.Exec(ctx, `
		INSERT INTO api_keys (key_hash, tenant_id) VALUES ($1, $2)
		ON CONFLICT (key_hash) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, revoked_at = NULL
	`, HashKey(rawKey), tenantID)
	if err != nil {
		return fmt.Errorf("keyindex: register: %w", err)
	}
	return nil
}

// HashKey returns the SHA-256 hex digest of a raw API key, the form stored
// in and looked up from api_keys.key_hash. Raw keys are never persisted.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
