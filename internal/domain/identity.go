package domain

import (
	"slices"
	"time"
)

// Claims are the verified fields of a bearer token. Roles keep the order
// the IdP emitted them in.
type Claims struct {
	Subject  string
	Username string
	Email    string
	Roles    []string
	Expiry   time.Time
	Issuer   string
	Audience []string
}

// Identity is the authenticated principal derived from Claims.
type Identity struct {
	Subject  string
	Username string
	Email    string
	Roles    []string
	TenantID string // empty when the token carries no tenant role
}

// HasRole reports whether the identity has the given role.
func (id Identity) HasRole(role string) bool {
	return slices.Contains(id.Roles, role)
}

// HasTenant reports whether the identity is bound to tenantID.
func (id Identity) HasTenant(tenantID string) bool {
	return id.TenantID != "" && id.TenantID == tenantID
}

// VerificationMode distinguishes production signature checking from the
// symmetric-secret test mode.
type VerificationMode int

const (
	ModeProduction VerificationMode = iota
	ModeTest
)

func (m VerificationMode) String() string {
	switch m {
	case ModeTest:
		return "test"
	default:
		return "production"
	}
}

// RequestContext is what the gateway hands to downstream handlers once a
// request is fully authenticated.
type RequestContext struct {
	RequestID string
	Identity  Identity
	Tenant    Tenant
	Mode      VerificationMode
}
