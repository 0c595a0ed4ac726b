package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnexpectedStatus is returned when the key set endpoint answers with a
// non-2xx status.
var ErrUnexpectedStatus = errors.New("jwks: unexpected status")

// maxDocumentSize bounds how much of a key set response is read.
const maxDocumentSize = 1 << 20

// Fetcher retrieves the key set published at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Set, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (*Set, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Set, error) { return f(ctx, url) }

// Invalidator is implemented by caching fetchers. The verifier calls
// Invalidate when a token names a kid the cached set does not contain, then
// fetches again once.
type Invalidator interface {
	Invalidate(ctx context.Context, url string) error
}

// WellKnownURL returns the Auth0-style key set location for domain.
func WellKnownURL(domain string) string {
	return "https://" + strings.TrimSuffix(domain, "/") + "/.well-known/jwks.json"
}

// HTTPFetcher fetches the key set with a plain GET on every call.
type HTTPFetcher struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// Timeout bounds each fetch; zero means only ctx applies.
	Timeout time.Duration
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Set, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("jwks: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	cl := f.Client
	if cl == nil {
		cl = http.DefaultClient
	}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize))
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, url, resp.StatusCode)
	}

	var set Set
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&set); err != nil {
		return nil, fmt.Errorf("jwks: decode %s: %w", url, err)
	}
	return &set, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
