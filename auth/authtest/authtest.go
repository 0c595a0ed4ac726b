// Package authtest provides an in-process identity provider for tests: an
// RSA signing key, a TLS server publishing it as a JSON Web Key Set (plus an
// OpenID discovery document), and helpers to mint tokens.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultKeyID is the kid of the provider's primary signing key.
const DefaultKeyID = "test-key"

// Provider is a fake identity provider backed by an httptest TLS server.
type Provider struct {
	Server *httptest.Server
	Key    *rsa.PrivateKey
	KeyID  string

	mu      sync.Mutex
	keys    []jose.JSONWebKey
	status  int
	fetches atomic.Int64
}

// NewProvider starts a provider. The server is closed via t.Cleanup.
func NewProvider(t testing.TB) *Provider {
	t.Helper()
	pk := GenerateKey(t)
	p := &Provider{Key: pk, KeyID: DefaultKeyID}
	p.keys = []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: DefaultKeyID, Algorithm: "RS256", Use: "sig"}}
	p.Server = httptest.NewTLSServer(p.Handler())
	t.Cleanup(p.Server.Close)
	return p
}

// GenerateKey returns a fresh 2048-bit RSA key.
func GenerateKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return pk
}

// Handler serves /.well-known/jwks.json and /.well-known/openid-configuration.
// Discovery advertises the issuer derived from the request host.
func (p *Provider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		p.fetches.Add(1)
		p.mu.Lock()
		status := p.status
		set := struct {
			Keys []jose.JSONWebKey `json:"keys"`
		}{Keys: append([]jose.JSONWebKey(nil), p.keys...)}
		p.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base := scheme + "://" + r.Host
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   base + "/",
			"jwks_uri":                 base + "/.well-known/jwks.json",
			"authorization_endpoint":   base + "/authorize",
			"token_endpoint":           base + "/oauth/token",
			"response_types_supported": []string{"code"},
		})
	})
	return mux
}

// Domain is the host:port of the provider, usable as an Auth0 domain.
func (p *Provider) Domain() string {
	u, _ := url.Parse(p.Server.URL)
	return u.Host
}

// Issuer is the "iss" value tokens from this provider carry.
func (p *Provider) Issuer() string { return "https://" + p.Domain() + "/" }

// JWKSURL is where the key set is published.
func (p *Provider) JWKSURL() string { return p.Server.URL + "/.well-known/jwks.json" }

// Client trusts the provider's TLS certificate.
func (p *Provider) Client() *http.Client { return p.Server.Client() }

// Fetches counts key set requests served so far.
func (p *Provider) Fetches() int64 { return p.fetches.Load() }

// FailWith makes the key set endpoint answer with status; 0 restores it.
func (p *Provider) FailWith(status int) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

// AddKey publishes an extra public key under kid, after the existing ones.
func (p *Provider) AddKey(kid string, pub *rsa.PublicKey) {
	p.mu.Lock()
	p.keys = append(p.keys, jose.JSONWebKey{Key: pub, KeyID: kid, Algorithm: "RS256", Use: "sig"})
	p.mu.Unlock()
}

// Claims returns a valid claim set for audience, expiring in an hour.
func (p *Provider) Claims(audience string, permissions ...string) jwt.MapClaims {
	now := time.Now()
	perms := make([]string, 0, len(permissions))
	perms = append(perms, permissions...)
	return jwt.MapClaims{
		"iss":         p.Issuer(),
		"sub":         "auth0|user-123",
		"aud":         audience,
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
		"permissions": perms,
	}
}

type mintConfig struct {
	kid    *string
	key    any
	method jwt.SigningMethod
}

// MintOption adjusts how Mint signs a token.
type MintOption func(*mintConfig)

// WithKeyID overrides the kid header.
func WithKeyID(kid string) MintOption {
	return func(c *mintConfig) { c.kid = &kid }
}

// WithoutKeyID omits the kid header.
func WithoutKeyID() MintOption {
	return func(c *mintConfig) { empty := ""; c.kid = &empty }
}

// WithSigningKey signs with key using method instead of the provider key.
func WithSigningKey(method jwt.SigningMethod, key any) MintOption {
	return func(c *mintConfig) { c.method = method; c.key = key }
}

// Mint signs claims, by default with the provider key as RS256.
func (p *Provider) Mint(t testing.TB, claims jwt.MapClaims, opts ...MintOption) string {
	t.Helper()
	c := &mintConfig{key: p.Key, method: jwt.SigningMethodRS256}
	for _, opt := range opts {
		opt(c)
	}
	tok := jwt.NewWithClaims(c.method, claims)
	switch {
	case c.kid == nil:
		tok.Header["kid"] = p.KeyID
	case *c.kid != "":
		tok.Header["kid"] = *c.kid
	}
	s, err := tok.SignedString(c.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// RawToken assembles a compact token from literal header and payload JSON
// with a placeholder signature, for tokens Mint cannot produce.
func RawToken(header, payload string) string {
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(header)) + "." + enc([]byte(payload)) + "." + enc([]byte("sig"))
}
