package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/authguard/jwks"
	"github.com/joeshaw/envdecode"
)

// Config describes the identity provider a Guard trusts. Load it once at
// startup (ConfigFromEnv or by hand) and pass it to New; the Guard keeps its
// own copy.
type Config struct {
	// Domain is the provider tenant host, e.g. "tenant.us.auth0.com".
	Domain string `env:"AUTH0_DOMAIN,default=quyetcv1.us.auth0.com"`
	// Algorithms accepted for token signatures. "none" is never allowed.
	Algorithms []string `env:"ALGORITHMS,default=RS256"`
	// Audience is the required "aud" claim.
	Audience string `env:"API_AUDIENCE,default=http://localhost:5000/login"`

	// Leeway is clock skew tolerance for exp/nbf (default 0: a token is
	// rejected once now >= exp).
	Leeway time.Duration `env:"AUTH_LEEWAY,default=0s"`
	// FetchTimeout bounds each key set fetch (default 10s, negative disables).
	FetchTimeout time.Duration `env:"JWKS_FETCH_TIMEOUT,default=10s"`
	// JWKSCacheTTL enables caching of the key set when positive.
	JWKSCacheTTL time.Duration `env:"JWKS_CACHE_TTL,default=0s"`
}

const defaultFetchTimeout = 10 * time.Second

// ConfigFromEnv decodes Config from the environment, applying defaults.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("auth: decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Issuer is the expected "iss" claim: https://<domain>/.
func (c Config) Issuer() string {
	return "https://" + strings.TrimSuffix(c.Domain, "/") + "/"
}

// JWKSURL is where the provider publishes its key set.
func (c Config) JWKSURL() string {
	return jwks.WellKnownURL(c.Domain)
}

// Normalize fills defaults for unset fields.
func (c *Config) Normalize() {
	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{"RS256"}
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
}

// Validate returns an error if required invariants are not met.
func (c Config) Validate() error {
	if c.Domain == "" {
		return errors.New("auth: domain required")
	}
	if strings.Contains(c.Domain, "://") {
		return fmt.Errorf("auth: domain %q must be a host name, not a URL", c.Domain)
	}
	if c.Audience == "" {
		return errors.New("auth: audience required")
	}
	if len(c.Algorithms) == 0 {
		return errors.New("auth: at least one algorithm required")
	}
	for _, a := range c.Algorithms {
		if a == "" {
			return errors.New("auth: empty algorithm entry")
		}
		if strings.EqualFold(a, "none") {
			return errors.New(`auth: algorithm "none" is never allowed`)
		}
	}
	if c.Leeway < 0 {
		return errors.New("auth: leeway must not be negative")
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c Config) Copy() Config {
	dup := c
	dup.Algorithms = slices.Clone(c.Algorithms)
	return dup
}
