// Package pgtenant looks tenants up in the PostgreSQL tenants table.
package pgtenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenantgate/internal/domain"
)

// Schema lists the statements that create the tenants table and its
// case-insensitive domain index when they do not exist yet. Domain lookups
// compare lower(domain), so the unique index is on that expression.
var Schema = []string{createTable, createDomainIndex}

const createTable = `CREATE TABLE IF NOT EXISTS tenants (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	domain     TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	settings   JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const createDomainIndex = `CREATE UNIQUE INDEX IF NOT EXISTS tenants_domain_lower_idx ON tenants (lower(domain))`

const selectColumns = `SELECT id::text, name, domain, is_active, settings::text FROM tenants`

// Comparing as text keeps a malformed id a plain miss instead of a cast error.
const (
	queryByID     = selectColumns + ` WHERE id::text = $1`
	queryByDomain = selectColumns + ` WHERE lower(domain) = lower($1)`
)

const upsertTenant = `INSERT INTO tenants (id, name, domain, is_active, settings)
VALUES ($1, $2, $3, $4, $5::jsonb)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	domain = EXCLUDED.domain,
	is_active = EXCLUDED.is_active,
	settings = EXCLUDED.settings,
	updated_at = now()`

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Store implements gateway.TenantLookup against PostgreSQL.
type Store struct {
	pool Pool
}

// Connect opens a connection pool for databaseURL and pings it.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies Schema in order.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrating tenants schema: %w", err)
		}
	}
	return nil
}

// FindByID returns the tenant with id.
func (s *Store) FindByID(ctx context.Context, id string) (domain.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, queryByID, id))
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("tenant %q: %w", id, err)
	}
	return t, nil
}

// FindByDomain returns the tenant serving host name d.
func (s *Store) FindByDomain(ctx context.Context, d string) (domain.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, queryByDomain, d))
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
	if _, err := s.pool.Exec(ctx, upsertTenant,
		tenant.ID, tenant.Name, tenant.Domain, tenant.IsActive, string(settings),
	); err != nil {
		return fmt.Errorf("upserting tenant %q: %w", tenant.ID, err)
	}
	return nil
}

// Ping backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func scanTenant(row pgx.Row) (domain.Tenant, error) {
	var (
		t        domain.Tenant
		settings string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.IsActive, &settings)
	if errors.Is(err, pgx.ErrNoRows) {
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
