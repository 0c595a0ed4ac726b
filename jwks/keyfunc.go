package jwks

import (
	"context"
	"fmt"

	"github.com/MicahParks/jwkset"
	keyfunc "github.com/MicahParks/keyfunc/v3"
)

// KeyfuncFetcher serves key sets from a keyfunc-managed, auto-refreshing
// jwkset storage. The URLs are bound at construction; the url passed to
// Fetch is only used in error messages.
type KeyfuncFetcher struct {
	kf keyfunc.Keyfunc
}

// NewKeyfuncFetcher starts background refresh of the key sets at urls. The
// refresh goroutine stops when ctx is cancelled.
func NewKeyfuncFetcher(ctx context.Context, urls ...string) (*KeyfuncFetcher, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &KeyfuncFetcher{kf: kf}, nil
}

func (f *KeyfuncFetcher) Fetch(ctx context.Context, url string) (*Set, error) {
	all, err := f.kf.Storage().KeyReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("jwks: read %s: %w", url, err)
	}
	return fromJWKSet(all), nil
}

func fromJWKSet(keys []jwkset.JWK) *Set {
	set := &Set{Keys: make([]Key, 0, len(keys))}
	for _, k := range keys {
		m := k.Marshal()
		set.Keys = append(set.Keys, Key{
			Kty: string(m.KTY),
			Kid: m.KID,
			Use: string(m.USE),
			N:   m.N,
			E:   m.E,
		})
	}
	return set
}

var _ Fetcher = (*KeyfuncFetcher)(nil)
