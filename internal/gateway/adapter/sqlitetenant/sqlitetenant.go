// Package sqlitetenant keeps the tenant directory in a local SQLite file,
// for single-node deployments that have no PostgreSQL.
package sqlitetenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"tenantgate/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	domain     TEXT NOT NULL UNIQUE COLLATE NOCASE,
	is_active  INTEGER NOT NULL DEFAULT 1,
	settings   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const selectColumns = `SELECT id, name, domain, is_active, settings FROM tenants`

// Store implements gateway.TenantLookup against SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tenants table: %w", err)
	}
	return &Store{db: db}, nil
}

// FindByID returns the tenant with id.
func (s *Store) FindByID(ctx context.Context, id string) (domain.Tenant, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("tenant %q: %w", id, err)
	}
	return t, nil
}

// FindByDomain returns the tenant serving host name d. Domains compare
// case-insensitively.
func (s *Store) FindByDomain(ctx context.Context, d string) (domain.Tenant, error) {
	t, err := scanTenant(s.db.QueryRowContext(ctx, selectColumns+` WHERE domain = ?`, d))
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("tenant for domain %q: %w", d, err)
	}
	return t, nil
}

// Upsert inserts tenant or replaces the row with the same id.
func (s *Store) Upsert(ctx context.Context, tenant domain.Tenant) error {
	settings, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings for tenant %q: %w", tenant.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tenants (id, name, domain, is_active, settings)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	domain = excluded.domain,
	is_active = excluded.is_active,
	settings = excluded.settings,
	updated_at = CURRENT_TIMESTAMP`,
		tenant.ID, tenant.Name, tenant.Domain, tenant.IsActive, string(settings))
	if err != nil {
		return fmt.Errorf("upserting tenant %q: %w", tenant.ID, err)
	}
	return nil
}

// Ping backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanTenant(row *sql.Row) (domain.Tenant, error) {
	var (
		t        domain.Tenant
		settings string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.IsActive, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tenant{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Tenant{}, err
	}

	t.Settings = domain.DefaultTenantSettings()
	if settings != "" && settings != "{}" {
		if err := json.Unmarshal([]byte(settings), &t.Settings); err != nil {
			return domain.Tenant{}, fmt.Errorf("decoding settings: %w", err)
		}
	}
	return t, nil
}
