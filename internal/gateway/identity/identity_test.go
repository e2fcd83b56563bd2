package identity_test

import (
	"errors"
	"slices"
	"testing"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway/identity"
)

func TestExtractCopiesClaims(t *testing.T) {
	e := identity.NewExtractor("", identity.PolicyFirst)
	claims := domain.Claims{
		Subject:  "user-42",
		Username: "alice",
		Email:    "alice@example.com",
		Roles:    []string{"admin", "tenant_acme"},
	}

	id, err := e.Extract(claims)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if id.Subject != "user-42" || id.Username != "alice" || id.Email != "alice@example.com" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if id.TenantID != "acme" {
		t.Errorf("TenantID = %q, want acme", id.TenantID)
	}
	if !id.HasRole("admin") {
		t.Error("expected admin role to be kept")
	}
}

func TestExtractTenant(t *testing.T) {
	tests := []struct {
		name   string
		policy identity.Policy
		roles  []string
		want   string
		err    error
	}{
		{"no roles", identity.PolicyFirst, nil, "", nil},
		{"no tenant role", identity.PolicyFirst, []string{"admin", "user"}, "", nil},
		{"bare prefix ignored", identity.PolicyFirst, []string{"tenant_", "tenant_acme"}, "acme", nil},
		{"first wins", identity.PolicyFirst, []string{"tenant_b", "tenant_a"}, "b", nil},
		{"prefix is case sensitive", identity.PolicyFirst, []string{"Tenant_x"}, "", nil},
		{"strict single", identity.PolicyStrict, []string{"user", "tenant_acme"}, "acme", nil},
		{"strict duplicate role", identity.PolicyStrict, []string{"tenant_acme", "tenant_acme"}, "acme", nil},
		{"strict ambiguous", identity.PolicyStrict, []string{"tenant_a", "tenant_b"}, "", domain.ErrTenantAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := identity.NewExtractor("tenant_", tt.policy)
			id, err := e.Extract(domain.Claims{Subject: "u", Roles: tt.roles})
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if id.TenantID != tt.want {
				t.Errorf("TenantID = %q, want %q", id.TenantID, tt.want)
			}
		})
	}
}

func TestExtractCustomPrefix(t *testing.T) {
	e := identity.NewExtractor("org:", identity.PolicyFirst)

	id, err := e.Extract(domain.Claims{Subject: "u", Roles: []string{"tenant_acme", "org:globex"}})
	if err != nil {
		t.Fatal(err)
	}
	if id.TenantID != "globex" {
		t.Errorf("TenantID = %q, want globex", id.TenantID)
	}
}

func TestTenantIDs(t *testing.T) {
	e := identity.NewExtractor("", "")
	got := e.TenantIDs([]string{"tenant_b", "x", "tenant_a", "tenant_b"})
	if !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("TenantIDs = %v", got)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]identity.Policy{
		"":        identity.PolicyFirst,
		"first":   identity.PolicyFirst,
		" STRICT": identity.PolicyStrict,
	} {
		got, err := identity.ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}

	if _, err := identity.ParsePolicy("last"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
