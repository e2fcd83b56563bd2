// Package identity derives the authenticated identity, including its tenant
// binding, from verified token claims.
package identity

import (
	"fmt"
	"strings"

	"tenantgate/internal/domain"
)

// Policy decides which tenant role binds an identity when several are present.
type Policy string

const (
	// PolicyFirst takes the first tenant role in IdP order.
	PolicyFirst Policy = "first"
	// PolicyStrict rejects tokens naming more than one distinct tenant.
	PolicyStrict Policy = "strict"
)

// DefaultRolePrefix marks realm roles that name a tenant.
const DefaultRolePrefix = "tenant_"

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyFirst, PolicyStrict:
		return p, nil
	case "":
		return PolicyFirst, nil
	default:
		return "", fmt.Errorf("unknown tenant role policy %q", s)
	}
}

// Extractor maps claims to an Identity. It holds no state and is safe for
// concurrent use.
type Extractor struct {
	prefix string
	policy Policy
}

// NewExtractor creates an Extractor. An empty prefix uses DefaultRolePrefix.
func NewExtractor(prefix string, policy Policy) *Extractor {
	if prefix == "" {
		prefix = DefaultRolePrefix
	}
	if policy == "" {
		policy = PolicyFirst
	}
	return &Extractor{prefix: prefix, policy: policy}
}

// Extract builds the identity for claims. A token without tenant roles
// yields an identity with an empty TenantID.
func (e *Extractor) Extract(claims domain.Claims) (domain.Identity, error) {
	tenants := e.TenantIDs(claims.Roles)

	id := domain.Identity{
		Subject:  claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
		Roles:    claims.Roles,
	}

	switch {
	case len(tenants) == 0:
	case e.policy == PolicyStrict && len(tenants) > 1:
		return domain.Identity{}, domain.Errorf(domain.KindTenantAmbiguous,
			"token names %d tenants", len(tenants))
	default:
		id.TenantID = tenants[0]
	}
	return id, nil
}

// TenantIDs returns the distinct tenant ids named by roles, in role order.
// A role that is exactly the prefix names no tenant.
func (e *Extractor) TenantIDs(roles []string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, role := range roles {
		id, ok := strings.CutPrefix(role, e.prefix)
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
