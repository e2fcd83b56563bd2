package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tenantgate/internal/domain"
)

// ErrCacheMiss is returned by a Store when the key does not exist or has expired.
var ErrCacheMiss = errors.New("cache miss")

// Store is the shared string-keyed cache the gateway reads and writes.
// Implementations must make single-key Get/Set atomic.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// TenantLookup resolves tenant records. Implementations return an error
// wrapping domain.ErrNotFound when no record matches.
type TenantLookup interface {
	FindByID(ctx context.Context, id string) (domain.Tenant, error)
	FindByDomain(ctx context.Context, domain string) (domain.Tenant, error)
}

// RateLimiter decides whether a request identified by key should be allowed.
// perMinute is the key's budget.
type RateLimiter interface {
	Allow(key string, perMinute int) RateLimitResult
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *StatusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// RequestContextFrom extracts the authenticated request context.
func RequestContextFrom(ctx context.Context) (domain.RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(domain.RequestContext)
	return rc, ok
}

// ContextWithRequestContext stores the authenticated request context.
func ContextWithRequestContext(ctx context.Context, rc domain.RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// IdentityFrom is a shorthand for the identity of an authenticated request.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	rc, ok := RequestContextFrom(ctx)
	return rc.Identity, ok
}

// TenantFrom is a shorthand for the tenant of an authenticated request.
func TenantFrom(ctx context.Context) (domain.Tenant, bool) {
	rc, ok := RequestContextFrom(ctx)
	return rc.Tenant, ok
}

type requestContextKey struct{}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}

// RequestLog collects per-request fields that inner middleware learn and the
// access log reports. It belongs to a single request.
type RequestLog struct {
	UserID    string
	TenantID  string
	Mode      string
	ErrorKind string
}

// ContextWithRequestLog attaches a RequestLog for inner middleware to fill.
func ContextWithRequestLog(ctx context.Context, rl *RequestLog) context.Context {
	return context.WithValue(ctx, requestLogKey{}, rl)
}

// RequestLogFrom returns the request's RequestLog, or nil when none was attached.
func RequestLogFrom(ctx context.Context) *RequestLog {
	rl, _ := ctx.Value(requestLogKey{}).(*RequestLog)
	return rl
}

type requestLogKey struct{}
