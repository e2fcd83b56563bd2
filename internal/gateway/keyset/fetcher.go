package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tenantgate/internal/domain"
)

const maxDocumentBytes = 1 << 20

var errMalformedDocument = errors.New("malformed key set document")

// StatusError reports a non-2xx answer from the key endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("key endpoint returned %d", e.Code)
}

// Fetcher retrieves key sets over HTTP. It never retries; see Provider.
type Fetcher struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewFetcher creates a Fetcher whose calls are each bounded by timeout,
// independently of the caller's own deadline.
func NewFetcher(httpClient *http.Client, timeout time.Duration) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Fetcher{httpClient: httpClient, timeout: timeout}
}

// Fetch downloads and decodes the JWKS document at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (KeySet, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return KeySet{}, domain.NewError(domain.KindFetchError, "creating key set request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return KeySet{}, domain.NewError(domain.KindFetchError, "fetching key set", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return KeySet{}, domain.NewError(domain.KindFetchError, "fetching key set", &StatusError{Code: resp.StatusCode})
	}

	var doc struct {
		Keys []KeyEntry `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(&doc); err != nil {
		return KeySet{}, domain.NewError(domain.KindFetchError, "decoding key set",
			fmt.Errorf("%w: %w", errMalformedDocument, err))
	}
	if len(doc.Keys) == 0 {
		return KeySet{}, domain.NewError(domain.KindFetchError, "decoding key set",
			fmt.Errorf("%w: no keys", errMalformedDocument))
	}

	return KeySet{Keys: doc.Keys}, nil
}

// IsRetryable reports whether a fetch failure may succeed on a later attempt.
// Client errors and malformed documents are not worth repeating.
func IsRetryable(err error) bool {
	if errors.Is(err, errMalformedDocument) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
