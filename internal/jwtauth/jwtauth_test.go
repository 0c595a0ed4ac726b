package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/ggoodman/authguard/auth/authtest"
	"github.com/ggoodman/authguard/jwks"
	"github.com/ggoodman/authguard/storage/memory"
	"github.com/golang-jwt/jwt/v5"
)

const testAudience = "https://api.example.com"

func newVerifier(t *testing.T, p *authtest.Provider, now func() time.Time) *Verifier {
	t.Helper()
	return newVerifierWithFetcher(t, p, &jwks.HTTPFetcher{Client: p.Client()}, now)
}

func newVerifierWithFetcher(t *testing.T, p *authtest.Provider, f jwks.Fetcher, now func() time.Time) *Verifier {
	t.Helper()
	v, err := New(Config{
		Issuer:      p.Issuer(),
		Audience:    testAudience,
		AllowedAlgs: []string{"RS256"},
		JWKSURL:     p.JWKSURL(),
	}, f, now)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return v
}

func TestVerifier_HappyPath(t *testing.T) {
	p := authtest.NewProvider(t)
	v := newVerifier(t, p, nil)

	tok := p.Mint(t, p.Claims(testAudience, "read:items"))
	claims, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got, want := claims["sub"], "auth0|user-123"; got != want {
		t.Fatalf("sub = %v, want %v", got, want)
	}
	if got, want := claims["permissions"], []any{"read:items"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("permissions = %#v, want %#v", got, want)
	}
}

func TestVerifier_Idempotent(t *testing.T) {
	p := authtest.NewProvider(t)
	v := newVerifier(t, p, nil)

	tok := p.Mint(t, p.Claims(testAudience, "read:items"))
	first, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	second, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("claims differ: %v vs %v", first, second)
	}
	if got := p.Fetches(); got != 2 {
		t.Fatalf("key set fetches = %d, want one per verification", got)
	}
}

func TestVerifier_Failures(t *testing.T) {
	p := authtest.NewProvider(t)
	v := newVerifier(t, p, nil)
	other := authtest.GenerateKey(t)

	tests := []struct {
		name string
		tok  func() string
		want error
	}{
		{
			name: "garbage",
			tok:  func() string { return "not-a-jwt" },
			want: ErrMalformed,
		},
		{
			name: "missing kid",
			tok:  func() string { return p.Mint(t, p.Claims(testAudience), authtest.WithoutKeyID()) },
			want: ErrMissingKid,
		},
		{
			name: "missing kid with unknown alg",
			tok:  func() string { return authtest.RawToken(`{"alg":"XX999"}`, `{"sub":"x"}`) },
			want: ErrMissingKid,
		},
		{
			name: "missing kid with non-JSON payload",
			tok:  func() string { return authtest.RawToken(`{"alg":"RS256","typ":"JWT"}`, `not json`) },
			want: ErrMissingKid,
		},
		{
			name: "header is not JSON",
			tok:  func() string { return authtest.RawToken(`not json`, `{"sub":"x"}`) },
			want: ErrMalformed,
		},
		{
			name: "known kid with unknown alg",
			tok: func() string {
				return authtest.RawToken(`{"alg":"XX999","kid":"`+authtest.DefaultKeyID+`"}`, `{"sub":"x"}`)
			},
			want: ErrMalformed,
		},
		{
			name: "unknown kid",
			tok:  func() string { return p.Mint(t, p.Claims(testAudience), authtest.WithKeyID("nope")) },
			want: ErrKeyNotFound,
		},
		{
			name: "expired",
			tok: func() string {
				c := p.Claims(testAudience)
				c["exp"] = time.Now().Add(-time.Minute).Unix()
				return p.Mint(t, c)
			},
			want: ErrExpired,
		},
		{
			name: "wrong audience",
			tok:  func() string { return p.Mint(t, p.Claims("https://other.example.com")) },
			want: ErrInvalidClaims,
		},
		{
			name: "missing audience",
			tok: func() string {
				c := p.Claims(testAudience)
				delete(c, "aud")
				return p.Mint(t, c)
			},
			want: ErrInvalidClaims,
		},
		{
			name: "wrong issuer",
			tok: func() string {
				c := p.Claims(testAudience)
				c["iss"] = "https://evil.example.com/"
				return p.Mint(t, c)
			},
			want: ErrInvalidClaims,
		},
		{
			name: "signed by another key",
			tok: func() string {
				return p.Mint(t, p.Claims(testAudience), authtest.WithSigningKey(jwt.SigningMethodRS256, other))
			},
			want: ErrMalformed,
		},
		{
			name: "disallowed algorithm",
			tok: func() string {
				return p.Mint(t, p.Claims(testAudience), authtest.WithSigningKey(jwt.SigningMethodHS256, []byte("secret")))
			},
			want: ErrMalformed,
		},
		{
			name: "RS384 not in allow list",
			tok: func() string {
				return p.Mint(t, p.Claims(testAudience), authtest.WithSigningKey(jwt.SigningMethodRS384, p.Key))
			},
			want: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.tok())
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerifier_ExpiredWinsOverAudience(t *testing.T) {
	p := authtest.NewProvider(t)
	v := newVerifier(t, p, nil)

	c := p.Claims("https://other.example.com")
	c["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err := v.Verify(context.Background(), p.Mint(t, c))
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestVerifier_ExpiryBoundary(t *testing.T) {
	p := authtest.NewProvider(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	c := p.Claims(testAudience)
	c["exp"] = exp.Unix()
	tok := p.Mint(t, c)

	tests := []struct {
		name string
		now  time.Time
		want error
	}{
		{name: "one second before", now: exp.Add(-time.Second)},
		{name: "exactly at exp", now: exp, want: ErrExpired},
		{name: "after exp", now: exp.Add(time.Second), want: ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(t, p, func() time.Time { return tt.now })
			_, err := v.Verify(context.Background(), tok)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("verify: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerifier_Leeway(t *testing.T) {
	p := authtest.NewProvider(t)
	c := p.Claims(testAudience)
	c["exp"] = time.Now().Add(-30 * time.Second).Unix()
	tok := p.Mint(t, c)

	v, err := New(Config{
		Issuer:      p.Issuer(),
		Audience:    testAudience,
		AllowedAlgs: []string{"RS256"},
		JWKSURL:     p.JWKSURL(),
		Leeway:      time.Minute,
	}, &jwks.HTTPFetcher{Client: p.Client()}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("verify within leeway: %v", err)
	}
}

func TestVerifier_KeySetUnavailable(t *testing.T) {
	p := authtest.NewProvider(t)
	p.FailWith(http.StatusInternalServerError)
	v := newVerifier(t, p, nil)

	_, err := v.Verify(context.Background(), p.Mint(t, p.Claims(testAudience)))
	if !errors.Is(err, ErrKeySetUnavailable) {
		t.Fatalf("want ErrKeySetUnavailable, got %v", err)
	}
	if !errors.Is(err, jwks.ErrUnexpectedStatus) {
		t.Fatalf("want underlying fetch error preserved, got %v", err)
	}
}

func TestVerifier_CachedKeyRotation(t *testing.T) {
	p := authtest.NewProvider(t)
	store, err := memory.New(10)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer store.Close()

	cf := jwks.NewCachingFetcher(&jwks.HTTPFetcher{Client: p.Client()}, store, time.Hour)
	v := newVerifierWithFetcher(t, p, cf, nil)

	ctx := context.Background()
	if _, err := v.Verify(ctx, p.Mint(t, p.Claims(testAudience))); err != nil {
		t.Fatalf("verify: %v", err)
	}

	rotated := authtest.GenerateKey(t)
	p.AddKey("rotated", &rotated.PublicKey)
	tok := p.Mint(t, p.Claims(testAudience), authtest.WithKeyID("rotated"), authtest.WithSigningKey(jwt.SigningMethodRS256, rotated))
	if _, err := v.Verify(ctx, tok); err != nil {
		t.Fatalf("verify with rotated key: %v", err)
	}
	if got := p.Fetches(); got != 2 {
		t.Fatalf("origin fetches = %d, want 2", got)
	}

	// Unknown kids still fail after the single refresh.
	_, err = v.Verify(ctx, p.Mint(t, p.Claims(testAudience), authtest.WithKeyID("ghost")))
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}

	// Further unknown kids inside the refresh interval are served from cache.
	for i := 0; i < 3; i++ {
		_, err = v.Verify(ctx, p.Mint(t, p.Claims(testAudience), authtest.WithKeyID(fmt.Sprintf("random-%d", i))))
		if !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("want ErrKeyNotFound, got %v", err)
		}
	}
	if got := p.Fetches(); got != 2 {
		t.Fatalf("origin fetches = %d, want 2 after unknown kids", got)
	}
}

func TestNew_Validation(t *testing.T) {
	f := jwks.FetcherFunc(func(context.Context, string) (*jwks.Set, error) { return &jwks.Set{}, nil })
	base := Config{Issuer: "https://tenant/", Audience: "aud", AllowedAlgs: []string{"RS256"}, JWKSURL: "https://tenant/.well-known/jwks.json"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		fetcher jwks.Fetcher
	}{
		{name: "missing issuer", mutate: func(c *Config) { c.Issuer = "" }, fetcher: f},
		{name: "missing audience", mutate: func(c *Config) { c.Audience = "" }, fetcher: f},
		{name: "missing jwks url", mutate: func(c *Config) { c.JWKSURL = "" }, fetcher: f},
		{name: "no algorithms", mutate: func(c *Config) { c.AllowedAlgs = nil }, fetcher: f},
		{name: "none algorithm", mutate: func(c *Config) { c.AllowedAlgs = []string{"RS256", "none"} }, fetcher: f},
		{name: "nil fetcher", mutate: func(c *Config) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.AllowedAlgs = append([]string(nil), base.AllowedAlgs...)
			tt.mutate(&cfg)
			if _, err := New(cfg, tt.fetcher, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
