package auth

import (
	"reflect"
	"testing"
	"time"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"AUTH0_DOMAIN", "ALGORITHMS", "API_AUDIENCE", "AUTH_LEEWAY", "JWKS_FETCH_TIMEOUT", "JWKS_CACHE_TTL"} {
		t.Setenv(k, "")
	}

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Domain != "quyetcv1.us.auth0.com" {
		t.Errorf("Domain = %q", cfg.Domain)
	}
	if !reflect.DeepEqual(cfg.Algorithms, []string{"RS256"}) {
		t.Errorf("Algorithms = %v", cfg.Algorithms)
	}
	if cfg.Audience != "http://localhost:5000/login" {
		t.Errorf("Audience = %q", cfg.Audience)
	}
	if cfg.Leeway != 0 {
		t.Errorf("Leeway = %v, want 0", cfg.Leeway)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, want 10s", cfg.FetchTimeout)
	}
	if cfg.JWKSCacheTTL != 0 {
		t.Errorf("JWKSCacheTTL = %v, want 0", cfg.JWKSCacheTTL)
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("AUTH0_DOMAIN", "tenant.eu.auth0.com")
	t.Setenv("ALGORITHMS", "RS256;RS384")
	t.Setenv("API_AUDIENCE", "https://api.example.com")
	t.Setenv("AUTH_LEEWAY", "30s")
	t.Setenv("JWKS_FETCH_TIMEOUT", "2s")
	t.Setenv("JWKS_CACHE_TTL", "5m")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	want := Config{
		Domain:       "tenant.eu.auth0.com",
		Algorithms:   []string{"RS256", "RS384"},
		Audience:     "https://api.example.com",
		Leeway:       30 * time.Second,
		FetchTimeout: 2 * time.Second,
		JWKSCacheTTL: 5 * time.Minute,
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("cfg = %+v, want %+v", cfg, want)
	}
	if got := cfg.Issuer(); got != "https://tenant.eu.auth0.com/" {
		t.Errorf("Issuer = %q", got)
	}
	if got := cfg.JWKSURL(); got != "https://tenant.eu.auth0.com/.well-known/jwks.json" {
		t.Errorf("JWKSURL = %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Domain: "tenant.auth0.com", Algorithms: []string{"RS256"}, Audience: "aud"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing domain", func(c *Config) { c.Domain = "" }},
		{"domain is a URL", func(c *Config) { c.Domain = "https://tenant.auth0.com" }},
		{"missing audience", func(c *Config) { c.Audience = "" }},
		{"no algorithms", func(c *Config) { c.Algorithms = nil }},
		{"empty algorithm", func(c *Config) { c.Algorithms = []string{""} }},
		{"none algorithm", func(c *Config) { c.Algorithms = []string{"RS256", "None"} }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid.Copy()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigCopy(t *testing.T) {
	orig := Config{Domain: "d", Algorithms: []string{"RS256"}, Audience: "a"}
	dup := orig.Copy()
	dup.Algorithms[0] = "HS256"
	if orig.Algorithms[0] != "RS256" {
		t.Fatal("Copy aliased Algorithms")
	}
}

func TestConfigNormalize(t *testing.T) {
	var c Config
	c.Normalize()
	if !reflect.DeepEqual(c.Algorithms, []string{"RS256"}) {
		t.Errorf("Algorithms = %v", c.Algorithms)
	}
	if c.FetchTimeout != defaultFetchTimeout {
		t.Errorf("FetchTimeout = %v", c.FetchTimeout)
	}
}
