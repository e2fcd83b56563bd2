// Package keyset fetches, caches, and serves the IdP's public signing keys.
package keyset

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	"tenantgate/internal/domain"
)

// KeyEntry is one key of a JWKS document. Modulus and Exponent keep their
// base64url wire form so a cached set round-trips byte for byte.
type KeyEntry struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty"`
	Modulus   string `json:"n,omitempty"`
	Exponent  string `json:"e,omitempty"`
	Algorithm string `json:"alg,omitempty"`
	Use       string `json:"use,omitempty"`
}

// KeySet is an immutable snapshot of a provider's keys. It is replaced
// wholesale on refresh, never edited.
type KeySet struct {
	Provider string     `json:"provider"`
	Realm    string     `json:"realm"`
	Keys     []KeyEntry `json:"keys"`
}

// Select picks the key for kid. An empty kid falls back to the first entry;
// the signature check that follows still has to pass with that key.
func (ks KeySet) Select(kid string) (KeyEntry, error) {
	if len(ks.Keys) == 0 {
		return KeyEntry{}, domain.Errorf(domain.KindUnknownKey, "key set for realm %q is empty", ks.Realm)
	}
	if kid == "" {
		return ks.Keys[0], nil
	}
	for _, k := range ks.Keys {
		if k.KeyID == kid {
			return k, nil
		}
	}
	return KeyEntry{}, domain.Errorf(domain.KindUnknownKey, "no key with kid %q", kid)
}

// PublicKey decodes the entry into an RSA public key.
func (k KeyEntry) PublicKey() (*rsa.PublicKey, error) {
	if k.KeyType != "RSA" {
		return nil, domain.Errorf(domain.KindUnknownKey, "key %q has unsupported type %q", k.KeyID, k.KeyType)
	}
	pub, err := parseRSAPublicKey(k.Modulus, k.Exponent)
	if err != nil {
		return nil, domain.NewError(domain.KindUnknownKey, fmt.Sprintf("decoding key %q", k.KeyID), err)
	}
	return pub, nil
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("decoding n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("decoding e: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 2 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range")
	}

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}
