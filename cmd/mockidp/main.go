package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tenantgate/internal/domain"
	"tenantgate/internal/platform/server"
)

type user struct {
	password string
	roles    []string
}

// keyRing holds the realm's signing keys, newest first. Rotation keeps the
// previous key published so tokens already issued stay verifiable.
type keyRing struct {
	mu   sync.RWMutex
	keys []signingKey
}

type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
}

func (kr *keyRing) rotate() (string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", err
	}
	k := signingKey{kid: "mock-key-" + uuid.NewString(), priv: priv}

	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.keys = append([]signingKey{k}, kr.keys...)
	if len(kr.keys) > 2 {
		kr.keys = kr.keys[:2]
	}
	return k.kid, nil
}

func (kr *keyRing) current() signingKey {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.keys[0]
}

func (kr *keyRing) jwks() map[string]any {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	keys := make([]map[string]any, 0, len(kr.keys))
	for _, k := range kr.keys {
		pub := &k.priv.PublicKey
		keys = append(keys, map[string]any{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": k.kid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return map[string]any{"keys": keys}
}

func main() {
	addr := envOr("IDP_ADDR", ":8081")
	realm := envOr("IDP_REALM", "tenantgate")
	clientID := envOr("IDP_CLIENT_ID", "tenantgate-backend")
	publicURL := strings.TrimRight(envOr("IDP_PUBLIC_URL", "http://localhost:8081"), "/")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ring := &keyRing{}
	kid, err := ring.rotate()
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}

	issuer := publicURL + "/realms/" + realm
	slog.Info("mock identity provider starting",
		"addr", addr,
		"realm", realm,
		"issuer", issuer,
		"kid", kid,
	)

	// Seed users
	users := map[string]user{
		"admin":    {password: "admin", roles: []string{"tenant_acme", "admin"}},
		"alice":    {password: "password", roles: []string{"tenant_acme", "user"}},
		"bob":      {password: "password", roles: []string{"tenant_globex", "user"}},
		"nomad":    {password: "password", roles: []string{"user"}},
		"intruder": {password: "password", roles: []string{"tenant_initech", "user"}},
	}

	slog.Info("seeded credentials",
		"users", "admin:admin, alice:password, bob:password, nomad:password, intruder:password",
	)

	prefix := "/realms/" + realm + "/protocol/openid-connect"
	mux := http.NewServeMux()

	// JWKS endpoint
	mux.HandleFunc("GET "+prefix+"/certs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ring.jwks())
	})

	// Resource owner password grant
	mux.HandleFunc("POST "+prefix+"/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid form body")
			return
		}
		if gt := r.PostForm.Get("grant_type"); gt != "password" {
			writeError(w, http.StatusBadRequest, "unsupported_grant_type", "only the password grant is supported")
			return
		}

		username := r.PostForm.Get("username")
		u, ok := users[username]
		if !ok || u.password != r.PostForm.Get("password") {
			writeError(w, http.StatusUnauthorized, "invalid_grant", "invalid user credentials")
			return
		}

		ttl := 5 * time.Minute
		now := time.Now()
		claims := jwt.MapClaims{
			"sub":                uuid.NewSHA1(uuid.NameSpaceOID, []byte(realm+"/"+username)).String(),
			"preferred_username": username,
			"email":              username + "@example.com",
			"realm_access":       map[string]any{"roles": u.roles},
			"azp":                r.PostForm.Get("client_id"),
			"iat":                now.Unix(),
			"exp":                now.Add(ttl).Unix(),
			"iss":                issuer,
			"aud":                clientID,
			"typ":                "Bearer",
		}

		key := ring.current()
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = key.kid

		signed, err := token.SignedString(key.priv)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "failed to sign token")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": signed,
			"expires_in":   int(ttl.Seconds()),
			"token_type":   "Bearer",
			"scope":        "openid profile email",
		})
	})

	// Key rotation, for exercising unknown-kid refresh in the gateway
	mux.HandleFunc("POST /admin/rotate", func(w http.ResponseWriter, r *http.Request) {
		kid, err := ring.rotate()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "failed to generate key")
			return
		}
		slog.Info("signing key rotated", "kid", kid)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"kid": kid})
	})

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "mock-idp"})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorResponse{Error: code, Message: msg})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
