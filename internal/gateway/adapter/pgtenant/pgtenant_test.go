package pgtenant

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgate/internal/domain"
)

var tenantColumns = []string{"id", "name", "domain", "is_active", "settings"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestFindByID(t *testing.T) {
	mock := newMock(t)
	id := "7d0c7f8e-5f7a-4a57-9a4e-0f2b7a3f1c11"
	mock.ExpectQuery(regexp.QuoteMeta(queryByID)).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(tenantColumns).
			AddRow(id, "Acme", "acme.example.com", true, `{"api_rate_limit": 60, "features": {"audit_logging": true}}`))

	got, err := New(mock).FindByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, "acme.example.com", got.Domain)
	assert.True(t, got.IsActive)
	assert.Equal(t, 60, got.Settings.APIRateLimit)
	assert.True(t, got.Settings.Features.AuditLogging)
	assert.Equal(t, domain.DefaultTenantSettings().MaxUsers, got.Settings.MaxUsers)
}

func TestFindByIDNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryByID)).
		WithArgs("not-a-uuid").
		WillReturnError(pgx.ErrNoRows)

	_, err := New(mock).FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindByIDQueryError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryByID)).
		WithArgs("x").
		WillReturnError(errors.New("connection reset"))

	_, err := New(mock).FindByID(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestFindByDomain(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryByDomain)).
		WithArgs("acme.example.com").
		WillReturnRows(pgxmock.NewRows(tenantColumns).
			AddRow("t-1", "Acme", "acme.example.com", false, `{}`))

	got, err := New(mock).FindByDomain(context.Background(), "acme.example.com")
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.ID)
	assert.False(t, got.IsActive)
	assert.Equal(t, domain.DefaultTenantSettings(), got.Settings)
}

func TestFindByDomainCorruptSettings(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryByDomain)).
		WithArgs("acme.example.com").
		WillReturnRows(pgxmock.NewRows(tenantColumns).
			AddRow("t-1", "Acme", "acme.example.com", true, `{"max_users": "lots"}`))

	_, err := New(mock).FindByDomain(context.Background(), "acme.example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestUpsert(t *testing.T) {
	mock := newMock(t)
	tenant := domain.Tenant{
		ID:       "t-1",
		Name:     "Acme",
		Domain:   "acme.example.com",
		IsActive: true,
		Settings: domain.TenantSettings{APIRateLimit: 60},
	}
	mock.ExpectExec(regexp.QuoteMeta(upsertTenant)).
		WithArgs("t-1", "Acme", "acme.example.com", true,
			`{"max_users":0,"storage_limit":0,"api_rate_limit":60,"features":{"advanced_security":false,"custom_branding":false,"api_access":false,"audit_logging":false}}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, New(mock).Upsert(context.Background(), tenant))
}

func TestMigrate(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(createTable)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta(createDomainIndex)).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, New(mock).Migrate(context.Background()))
}

func TestMigrateStopsOnError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(createTable)).
		WillReturnError(errors.New("permission denied"))

	err := New(mock).Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestDomainLookupMatchesIndexExpression(t *testing.T) {
	assert.Contains(t, createDomainIndex, "(lower(domain))")
	assert.Contains(t, queryByDomain, "lower(domain) = lower($1)")
	assert.NotContains(t, createTable, "UNIQUE")
}

func TestPing(t *testing.T) {
	mock := newMock(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	assert.Error(t, New(mock).Ping(context.Background()))
}
