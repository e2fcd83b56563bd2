package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a gateway failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingToken
	KindMalformedToken
	KindUnknownKey
	KindInvalidSignature
	KindExpired
	KindIssuerMismatch
	KindAudienceMismatch
	KindFetchError
	KindTenantMissing
	KindTenantAmbiguous
	KindTenantNotFound
	KindTenantInactive
	KindTenantMismatch
	KindTenantLookup
	KindCacheUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindMissingToken:     "missing_token",
	KindMalformedToken:   "malformed_token",
	KindUnknownKey:       "unknown_key",
	KindInvalidSignature: "invalid_signature",
	KindExpired:          "expired",
	KindIssuerMismatch:   "issuer_mismatch",
	KindAudienceMismatch: "audience_mismatch",
	KindFetchError:       "fetch_error",
	KindTenantMissing:    "tenant_missing",
	KindTenantAmbiguous:  "tenant_ambiguous",
	KindTenantNotFound:   "tenant_not_found",
	KindTenantInactive:   "tenant_inactive",
	KindTenantMismatch:   "tenant_mismatch",
	KindTenantLookup:     "tenant_lookup",
	KindCacheUnavailable: "cache_unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// IsTokenError reports whether k belongs to the token-verification phase.
func (k Kind) IsTokenError() bool {
	switch k {
	case KindMissingToken, KindMalformedToken, KindUnknownKey, KindInvalidSignature,
		KindExpired, KindIssuerMismatch, KindAudienceMismatch, KindFetchError:
		return true
	}
	return false
}

// HTTPStatus maps k to the response status the gateway sends.
func (k Kind) HTTPStatus() int {
	if k.IsTokenError() {
		return http.StatusUnauthorized
	}
	switch k {
	case KindTenantMissing, KindTenantAmbiguous:
		return http.StatusBadRequest
	case KindTenantNotFound:
		return http.StatusNotFound
	case KindTenantInactive, KindTenantMismatch:
		return http.StatusForbidden
	case KindTenantLookup, KindCacheUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code is the machine-readable error field of the response envelope.
// All token kinds share one code.
func (k Kind) Code() string {
	switch k.HTTPStatus() {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}

// PublicMessage is the generic user-visible message for k.
func (k Kind) PublicMessage() string {
	switch k.HTTPStatus() {
	case http.StatusUnauthorized:
		return "invalid or missing credentials"
	case http.StatusBadRequest:
		return "tenant could not be determined"
	case http.StatusNotFound:
		return "tenant not found"
	case http.StatusForbidden:
		return "tenant access denied"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	default:
		return "an unexpected error occurred"
	}
}

// ErrorContext carries the non-secret details attached to a failure.
type ErrorContext struct {
	TenantID  string
	RequestID string
	Message   string
}

// Error is the single error type produced by the gateway pipeline.
type Error struct {
	Kind    Kind
	Context ErrorContext
	Err     error
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Context: ErrorContext{Message: msg}, Err: err}
}

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Context: ErrorContext{Message: fmt.Sprintf(format, args...)}}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Context.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Context.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels like ErrExpired work
// with errors.Is regardless of context.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithTenant returns a copy of e annotated with a tenant id.
func (e *Error) WithTenant(id string) *Error {
	c := *e
	c.Context.TenantID = id
	return &c
}

// WithRequest returns a copy of e annotated with a request id.
func (e *Error) WithRequest(id string) *Error {
	c := *e
	c.Context.RequestID = id
	return &c
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Sentinels for errors.Is checks.
var (
	ErrMissingToken     = &Error{Kind: KindMissingToken}
	ErrMalformedToken   = &Error{Kind: KindMalformedToken}
	ErrUnknownKey       = &Error{Kind: KindUnknownKey}
	ErrInvalidSignature = &Error{Kind: KindInvalidSignature}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrIssuerMismatch   = &Error{Kind: KindIssuerMismatch}
	ErrAudienceMismatch = &Error{Kind: KindAudienceMismatch}
	ErrFetch            = &Error{Kind: KindFetchError}
	ErrTenantMissing    = &Error{Kind: KindTenantMissing}
	ErrTenantAmbiguous  = &Error{Kind: KindTenantAmbiguous}
	ErrTenantNotFound   = &Error{Kind: KindTenantNotFound}
	ErrTenantInactive   = &Error{Kind: KindTenantInactive}
	ErrTenantMismatch   = &Error{Kind: KindTenantMismatch}
	ErrTenantLookup     = &Error{Kind: KindTenantLookup}
	ErrCacheUnavailable = &Error{Kind: KindCacheUnavailable}
)

// ErrNotFound is returned by tenant lookups when no record matches.
var ErrNotFound = errors.New("not found")

// ErrorResponse is the standard JSON error envelope returned to clients.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
