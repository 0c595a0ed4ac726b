// Package jwks resolves token signing keys from an identity provider's
// published JSON Web Key Set.
//
// A Fetcher retrieves the whole key set; ResolveKey picks the entry whose
// key id matches a token header. HTTPFetcher fetches on every call, which
// is what the guard uses unless a caching Fetcher (CachingFetcher or
// KeyfuncFetcher) is configured.
package jwks

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// ErrUnsupportedKey is returned by Key.PublicKey for non-RSA keys.
var ErrUnsupportedKey = errors.New("jwks: unsupported key")

// Key is the subset of a published JWK needed to verify an RS* signature.
type Key struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Set is a JSON Web Key Set document: {"keys": [...]}.
type Set struct {
	Keys []Key `json:"keys"`
}

// ResolveKey scans set for the key identified by kid. When several keys
// share a kid the last one wins.
func ResolveKey(set *Set, kid string) (Key, bool) {
	var (
		found Key
		ok    bool
	)
	if set == nil {
		return found, false
	}
	for _, k := range set.Keys {
		if k.Kid == kid {
			found = Key{Kty: k.Kty, Kid: k.Kid, Use: k.Use, N: k.N, E: k.E}
			ok = true
		}
	}
	return found, ok
}

// PublicKey decodes the RSA modulus and exponent into an *rsa.PublicKey.
func (k Key) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("%w: kty %q", ErrUnsupportedKey, k.Kty)
	}
	raw, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrUnsupportedKey)
	}
	return pub, nil
}
