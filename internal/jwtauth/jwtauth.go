// Package jwtauth verifies RS256-style access tokens against a key set
// fetched from the issuer and classifies every failure into one of a small
// set of sentinel errors that callers map onto their own error surface.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/authguard/jwks"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed covers tokens that cannot be parsed or whose signature or
	// algorithm does not verify.
	ErrMalformed = errors.New("jwtauth: malformed token")
	// ErrMissingKid means the token header carries no key id.
	ErrMissingKid = errors.New("jwtauth: missing kid")
	// ErrKeySetUnavailable means the key set could not be fetched.
	ErrKeySetUnavailable = errors.New("jwtauth: key set unavailable")
	// ErrKeyNotFound means no published key matches the token's kid.
	ErrKeyNotFound = errors.New("jwtauth: signing key not found")
	// ErrExpired means the exp claim is not in the future.
	ErrExpired = errors.New("jwtauth: token expired")
	// ErrInvalidClaims covers audience, issuer and other registered claim
	// failures other than expiry.
	ErrInvalidClaims = errors.New("jwtauth: invalid claims")
)

// Config controls validation. All fields except Leeway are required.
type Config struct {
	Issuer      string
	Audience    string
	AllowedAlgs []string
	JWKSURL     string
	// Leeway is clock skew tolerance for exp/nbf. Zero rejects a token as
	// soon as now >= exp.
	Leeway time.Duration
}

// Verifier checks tokens against a single issuer.
type Verifier struct {
	cfg     Config
	fetcher jwks.Fetcher
	now     func() time.Time
}

// New returns a Verifier. now may be nil to use time.Now.
func New(cfg Config, fetcher jwks.Fetcher, now func() time.Time) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks uri required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		return nil, errors.New("at least one allowed algorithm required")
	}
	if slices.Contains(cfg.AllowedAlgs, "none") {
		return nil, errors.New(`algorithm "none" is never allowed`)
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if now == nil {
		now = time.Now
	}
	cfg.AllowedAlgs = slices.Clone(cfg.AllowedAlgs)
	return &Verifier{cfg: cfg, fetcher: fetcher, now: now}, nil
}

// Verify checks tok's signature, expiry, audience and issuer and returns
// its claims.
func (v *Verifier) Verify(ctx context.Context, tok string) (map[string]any, error) {
	kid, err := unverifiedKeyID(tok)
	if err != nil {
		return nil, err
	}

	key, err := v.resolve(ctx, kid)
	if err != nil {
		return nil, err
	}
	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) { return pub, nil }); err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// unverifiedKeyID reads the kid from the JOSE header alone. The payload and
// alg are left to the verified parse.
func unverifiedKeyID(tok string) (string, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: token contains an invalid number of segments", ErrMalformed)
	}
	raw, err := jwt.NewParser().DecodeSegment(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: decode header: %v", ErrMalformed, err)
	}
	var header map[string]any
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", fmt.Errorf("%w: decode header: %v", ErrMalformed, err)
	}
	kid, ok := header["kid"].(string)
	if !ok {
		return "", ErrMissingKid
	}
	return kid, nil
}

// resolve finds kid in the published key set. A caching fetcher gets one
// chance to refresh before the key is reported missing.
func (v *Verifier) resolve(ctx context.Context, kid string) (jwks.Key, error) {
	set, err := v.fetcher.Fetch(ctx, v.cfg.JWKSURL)
	if err != nil {
		return jwks.Key{}, errors.Join(ErrKeySetUnavailable, err)
	}
	if key, ok := jwks.ResolveKey(set, kid); ok {
		return key, nil
	}

	inv, ok := v.fetcher.(jwks.Invalidator)
	if !ok {
		return jwks.Key{}, ErrKeyNotFound
	}
	if err := inv.Invalidate(ctx, v.cfg.JWKSURL); err != nil {
		return jwks.Key{}, ErrKeyNotFound
	}
	set, err = v.fetcher.Fetch(ctx, v.cfg.JWKSURL)
	if err != nil {
		return jwks.Key{}, errors.Join(ErrKeySetUnavailable, err)
	}
	if key, ok := jwks.ResolveKey(set, kid); ok {
		return key, nil
	}
	return jwks.Key{}, ErrKeyNotFound
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.Join(ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return errors.Join(ErrInvalidClaims, err)
	default:
		return errors.Join(ErrMalformed, err)
	}
}
