// Package verifier checks bearer tokens against the IdP's keys and turns
// them into domain.Claims.
package verifier

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tenantgate/internal/domain"
	"tenantgate/internal/gateway/keyset"
	"tenantgate/internal/platform/telemetry"
)

// KeySource supplies verification keys. *keyset.Provider implements it.
type KeySource interface {
	KeySet(ctx context.Context) (keyset.KeySet, error)
	Refresh(ctx context.Context) (keyset.KeySet, error)
}

// Config controls what a token must satisfy.
type Config struct {
	Mode       domain.VerificationMode
	Issuer     string
	Audience   string
	TestSecret string
	ClockSkew  time.Duration
	// Clock overrides time.Now for expiry checks.
	Clock func() time.Time
}

// Verifier validates tokens. It is safe for concurrent use.
type Verifier struct {
	keys   KeySource
	cfg    Config
	parser *jwt.Parser
}

// tokenClaims is the Keycloak access token payload.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// New creates a Verifier. keys may be nil in test mode.
func New(keys KeySource, cfg Config) *Verifier {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	method := jwt.SigningMethodRS256.Alg()
	leeway := cfg.ClockSkew
	if cfg.Mode == domain.ModeTest {
		method = jwt.SigningMethodHS256.Alg()
		leeway = 0
	}

	return &Verifier{
		keys: keys,
		cfg:  cfg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
			jwt.WithTimeFunc(cfg.Clock),
		),
	}
}

// Mode reports which verification mode v runs in.
func (v *Verifier) Mode() domain.VerificationMode {
	return v.cfg.Mode
}

// Verify checks the token's signature and claims. Every failure is a
// *domain.Error of a token kind.
func (v *Verifier) Verify(ctx context.Context, token string) (domain.Claims, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "verifier.verify")
	defer span.End()
	span.SetAttributes(attribute.String("auth.mode", v.cfg.Mode.String()))

	claims, err := v.verify(ctx, token)
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_kind", domain.KindOf(err).String()))
		span.SetStatus(codes.Error, "token rejected")
		return domain.Claims{}, err
	}
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (domain.Claims, error) {
	if token == "" {
		return domain.Claims{}, domain.Errorf(domain.KindMalformedToken, "empty token")
	}

	var tc tokenClaims
	keyFunc := v.rsaKey(ctx)
	if v.cfg.Mode == domain.ModeTest {
		keyFunc = v.testSecret
	}

	if _, err := v.parser.ParseWithClaims(token, &tc, keyFunc); err != nil {
		return domain.Claims{}, classify(err)
	}

	if v.cfg.Mode == domain.ModeProduction {
		if v.cfg.Issuer != "" && tc.Issuer != v.cfg.Issuer {
			return domain.Claims{}, domain.Errorf(domain.KindIssuerMismatch, "issuer %q", tc.Issuer)
		}
		if v.cfg.Audience != "" && !slices.Contains(tc.Audience, v.cfg.Audience) {
			return domain.Claims{}, domain.Errorf(domain.KindAudienceMismatch, "audience %v", []string(tc.Audience))
		}
	}
	if tc.Subject == "" {
		return domain.Claims{}, domain.Errorf(domain.KindMalformedToken, "missing sub claim")
	}

	return domain.Claims{
		Subject:  tc.Subject,
		Username: tc.PreferredUsername,
		Email:    tc.Email,
		Roles:    tc.RealmAccess.Roles,
		Expiry:   tc.ExpiresAt.Time,
		Issuer:   tc.Issuer,
		Audience: tc.Audience,
	}, nil
}

// rsaKey selects the verification key for a token. An unknown kid forces
// one refresh of the key set before giving up.
func (v *Verifier) rsaKey(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		var kid string
		if raw, ok := t.Header["kid"]; ok {
			s, ok := raw.(string)
			if !ok {
				return nil, domain.Errorf(domain.KindMalformedToken, "kid header is not a string")
			}
			kid = s
		}

		ks, err := v.keys.KeySet(ctx)
		if err != nil {
			return nil, err
		}

		entry, err := ks.Select(kid)
		if errors.Is(err, domain.ErrUnknownKey) && kid != "" {
			refreshed, rerr := v.keys.Refresh(ctx)
			if rerr == nil {
				entry, err = refreshed.Select(kid)
			}
		}
		if err != nil {
			return nil, err
		}
		return entry.PublicKey()
	}
}

func (v *Verifier) testSecret(*jwt.Token) (any, error) {
	return []byte(v.cfg.TestSecret), nil
}

// classify maps a jwt parse failure onto a token error kind. Errors raised by
// the key function are already *domain.Error and pass through.
func classify(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}

	kind := domain.KindMalformedToken
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		kind = domain.KindMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		kind = domain.KindInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		kind = domain.KindExpired
	}
	return domain.NewError(kind, "parsing token", err)
}
