package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway"
	"tenantgate/internal/gateway/keyset"
)

// Defaults shared by tests that need an IdP identity.
const (
	TestRealm    = "tenantgate"
	TestClientID = "tenantgate-backend"
	TestSecret   = "tenantgate_test_key_do_not_use_in_production"
)

// SigningKey is an RSA key pair with its key id.
type SigningKey struct {
	KID     string
	Private *rsa.PrivateKey
}

// Public returns the public half of the key.
func (k SigningKey) Public() *rsa.PublicKey {
	return &k.Private.PublicKey
}

// GenerateTestKeyPair generates an RSA key pair for testing.
// Returns (keyID, privateKey, publicKey).
func GenerateTestKeyPair(t *testing.T) (string, *rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return "test-key-" + uuid.NewString(), priv, &priv.PublicKey
}

// NewSigningKey is GenerateTestKeyPair packaged as a SigningKey.
func NewSigningKey(t *testing.T) SigningKey {
	t.Helper()
	kid, priv, _ := GenerateTestKeyPair(t)
	return SigningKey{KID: kid, Private: priv}
}

// Issuer returns the issuer a realm at baseURL stamps into its tokens.
func Issuer(baseURL string) string {
	return baseURL + "/realms/" + TestRealm
}

// KeycloakClaims builds the claim set a Keycloak realm issues for a user.
// A negative ttl produces an already-expired token.
func KeycloakClaims(issuer, subject string, roles []string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":                subject,
		"preferred_username": "user-" + subject,
		"email":              subject + "@example.com",
		"realm_access":       map[string]any{"roles": roles},
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
		"iss":                issuer,
		"aud":                TestClientID,
	}
}

// IssueTestToken signs claims with RS256. An empty key id omits the kid header.
func IssueTestToken(t *testing.T, kid string, priv *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// IssueHS256Token signs claims with a shared secret, as the IdP's test mode expects.
func IssueHS256Token(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// JWK renders a public key as a JWKS entry.
func JWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"kid": kid,
		"n":   base64URLEncode(pub.N.Bytes()),
		"e":   base64URLEncode(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// KeySetOf builds the key set an IdP publishing keys would serve.
func KeySetOf(keys ...SigningKey) keyset.KeySet {
	ks := keyset.KeySet{Realm: TestRealm}
	for _, k := range keys {
		ks.Keys = append(ks.Keys, keyset.KeyEntry{
			KeyID:     k.KID,
			KeyType:   "RSA",
			Modulus:   base64URLEncode(k.Public().N.Bytes()),
			Exponent:  base64URLEncode(big.NewInt(int64(k.Public().E)).Bytes()),
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	return ks
}

// MockJWKSHandler returns an http.Handler that serves a JWKS response
// containing the given keys.
func MockJWKSHandler(keys ...SigningKey) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJWKS(w, keys)
	})
}

// JWKSServer is a fake IdP certs endpoint whose keys and health can change
// during a test.
type JWKSServer struct {
	*httptest.Server

	mu     sync.Mutex
	keys   []SigningKey
	status int
	hits   atomic.Int64
}

// NewJWKSServer starts a JWKSServer serving keys. It is closed when the test ends.
func NewJWKSServer(t *testing.T, keys ...SigningKey) *JWKSServer {
	t.Helper()
	s := &JWKSServer{keys: keys}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *JWKSServer) serve(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)

	s.mu.Lock()
	keys, status := s.keys, s.status
	s.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	writeJWKS(w, keys)
}

// CertsURL is the realm's certs endpoint on this server.
func (s *JWKSServer) CertsURL() string {
	return s.URL + "/realms/" + TestRealm + "/protocol/openid-connect/certs"
}

// SetKeys replaces the served key set.
func (s *JWKSServer) SetKeys(keys ...SigningKey) {
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
}

// FailWith makes every request answer status with no body. Zero restores service.
func (s *JWKSServer) FailWith(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Hits returns how many requests reached the server.
func (s *JWKSServer) Hits() int64 {
	return s.hits.Load()
}

func writeJWKS(w http.ResponseWriter, keys []SigningKey) {
	entries := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, JWK(k.KID, k.Public()))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"keys": entries})
}

// CountingLookup wraps a tenant lookup and counts calls to it.
// When Err is set every call fails with it.
type CountingLookup struct {
	Next gateway.TenantLookup
	Err  error

	calls atomic.Int64
}

func (c *CountingLookup) FindByID(ctx context.Context, id string) (domain.Tenant, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return domain.Tenant{}, c.Err
	}
	return c.Next.FindByID(ctx, id)
}

func (c *CountingLookup) FindByDomain(ctx context.Context, d string) (domain.Tenant, error) {
	c.calls.Add(1)
	if c.Err != nil {
		return domain.Tenant{}, c.Err
	}
	return c.Next.FindByDomain(ctx, d)
}

// Calls returns the number of lookups performed.
func (c *CountingLookup) Calls() int64 {
	return c.calls.Load()
}

// ActiveTenant returns an active tenant with default settings.
func ActiveTenant(id, host string) domain.Tenant {
	return domain.Tenant{
		ID:       id,
		Name:     "Tenant " + id,
		Domain:   host,
		IsActive: true,
		Settings: domain.DefaultTenantSettings(),
	}
}

// MockBackendHandler returns an http.Handler that echoes request details.
// Used to test that the gateway forwards identity headers upstream.
func MockBackendHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"backend":    name,
			"method":     r.Method,
			"path":       r.URL.Path,
			"user_id":    r.Header.Get("X-User-ID"),
			"user_name":  r.Header.Get("X-User-Name"),
			"tenant_id":  r.Header.Get("X-Tenant-ID"),
			"user_roles": r.Header.Get("X-User-Roles"),
			"request_id": r.Header.Get("X-Request-ID"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
