package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tenantgate/internal/domain"
	gw "tenantgate/internal/gateway"
	"tenantgate/internal/gateway/tenant"
	"tenantgate/internal/platform/telemetry"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.Claims, error)
	Mode() domain.VerificationMode
}

// IdentityExtractor derives an identity from verified claims.
type IdentityExtractor interface {
	Extract(claims domain.Claims) (domain.Identity, error)
}

// TenantResolver picks and checks the request's tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, id domain.Identity, sig tenant.Signals) (domain.Tenant, error)
}

// GatewayConfig wires the gateway's collaborators. Metrics and Logger are optional.
type GatewayConfig struct {
	Verifier    TokenVerifier
	Extractor   IdentityExtractor
	Resolver    TenantResolver
	PublicPaths []string
	Metrics     *telemetry.GatewayMetrics
	Logger      *slog.Logger
}

// Gateway authenticates every request outside PublicPaths: it verifies the
// bearer token, derives the identity, resolves the tenant, and only then
// attaches a domain.RequestContext and calls next. Any failure ends the
// request with the JSON error envelope.
func Gateway(cfg GatewayConfig) Middleware {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.Verifier.Mode()

	authenticate := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := telemetry.Tracer().Start(r.Context(), "gateway.authenticate")
			defer span.End()
			span.SetAttributes(attribute.String("auth.mode", mode.String()))

			rc, err := cfg.authenticate(ctx, r)
			duration := time.Since(start).Seconds()
			reqLog := gw.RequestLogFrom(ctx)
			if reqLog != nil {
				reqLog.Mode = mode.String()
			}

			if err != nil {
				kind := domain.KindOf(err)
				span.SetAttributes(attribute.String("auth.error_kind", kind.String()))
				span.SetStatus(codes.Error, "request rejected")
				if cfg.Metrics != nil {
					cfg.Metrics.RecordAuthAttempt(ctx, "failure", kind.String(), mode.String(), duration)
				}
				if reqLog != nil {
					reqLog.ErrorKind = kind.String()
				}
				logRejection(ctx, logger, r, kind, mode, err)
				writeError(w, r, kind)
				return
			}

			if cfg.Metrics != nil {
				cfg.Metrics.RecordAuthAttempt(ctx, "success", "", mode.String(), duration)
			}
			if reqLog != nil {
				reqLog.UserID = rc.Identity.Subject
				reqLog.TenantID = rc.Tenant.ID
			}
			span.SetAttributes(
				attribute.String("enduser.id", rc.Identity.Subject),
				attribute.String("tenant.id", rc.Tenant.ID),
			)

			next.ServeHTTP(w, r.WithContext(gw.ContextWithRequestContext(ctx, rc)))
		})
	}

	return Except(cfg.PublicPaths, authenticate)
}

func (cfg GatewayConfig) authenticate(ctx context.Context, r *http.Request) (domain.RequestContext, error) {
	token, ok := extractBearerToken(r)
	if !ok {
		return domain.RequestContext{}, domain.Errorf(domain.KindMissingToken, "no bearer token")
	}

	claims, err := cfg.Verifier.Verify(ctx, token)
	if err != nil {
		return domain.RequestContext{}, err
	}

	id, err := cfg.Extractor.Extract(claims)
	if err != nil {
		return domain.RequestContext{}, err
	}

	t, err := cfg.Resolver.Resolve(ctx, id, tenant.Signals{
		HeaderTenantID: r.Header.Get("X-Tenant-ID"),
		Host:           r.Host,
	})
	if err != nil {
		return domain.RequestContext{}, err
	}

	return domain.RequestContext{
		RequestID: gw.RequestIDFromContext(ctx),
		Identity:  id,
		Tenant:    t,
		Mode:      cfg.Verifier.Mode(),
	}, nil
}

func logRejection(ctx context.Context, logger *slog.Logger, r *http.Request, kind domain.Kind, mode domain.VerificationMode, err error) {
	attrs := []any{
		"kind", kind.String(),
		"mode", mode.String(),
		"request_id", gw.RequestIDFromContext(ctx),
		"path", r.URL.Path,
	}
	var de *domain.Error
	if errors.As(err, &de) && de.Context.TenantID != "" {
		attrs = append(attrs, "tenant_id", de.Context.TenantID)
	}
	attrs = append(attrs, "error", err.Error())

	level := slog.LevelInfo
	switch {
	case kind == domain.KindUnknown, kind.HTTPStatus() >= http.StatusInternalServerError, kind == domain.KindFetchError:
		level = slog.LevelError
	case kind == domain.KindTenantMismatch, kind == domain.KindInvalidSignature:
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "request rejected", attrs...)
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
