package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/authguard/internal/jwtauth"
	"github.com/ggoodman/authguard/internal/logctx"
	"github.com/ggoodman/authguard/jwks"
	"github.com/ggoodman/authguard/storage"
	"github.com/ggoodman/authguard/storage/memory"
)

// Option configures a Guard.
type Option func(*guardOptions)

type guardOptions struct {
	fetcher jwks.Fetcher
	client  *http.Client
	store   storage.Storage
	logger  *slog.Logger
	now     func() time.Time
	jwksURL string
	realm   string
	prmURL  string
}

// WithFetcher replaces the key set fetcher. Config.FetchTimeout and
// Config.JWKSCacheTTL are ignored when a fetcher is supplied.
func WithFetcher(f jwks.Fetcher) Option {
	return func(o *guardOptions) { o.fetcher = f }
}

// WithHTTPClient sets the client the default fetcher uses.
func WithHTTPClient(c *http.Client) Option {
	return func(o *guardOptions) { o.client = c }
}

// WithCacheStorage selects the backend used when Config.JWKSCacheTTL is
// positive. Without it an in-memory store owned by the Guard is used.
func WithCacheStorage(s storage.Storage) Option {
	return func(o *guardOptions) { o.store = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *guardOptions) { o.logger = l }
}

// WithClock overrides the time source used for exp/nbf checks.
func WithClock(now func() time.Time) Option {
	return func(o *guardOptions) { o.now = now }
}

// WithJWKSURL overrides the key set location, e.g. with a URL found via
// jwks.DiscoverURL.
func WithJWKSURL(u string) Option {
	return func(o *guardOptions) { o.jwksURL = u }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(o *guardOptions) { o.realm = realm }
}

// WithResourceMetadata advertises the protected resource metadata document
// at u in every WWW-Authenticate challenge. See Guard.ResourceMetadataHandler.
func WithResourceMetadata(u string) Option {
	return func(o *guardOptions) { o.prmURL = u }
}

// Guard verifies bearer tokens and enforces permissions. It holds no
// per-request state and is safe for concurrent use.
type Guard struct {
	cfg      Config
	verifier *jwtauth.Verifier
	log      *slog.Logger
	realm    string
	prmURL   string
	jwksURL  string
	closers  []func() error
}

// New builds a Guard for cfg.
func New(cfg Config, opts ...Option) (*Guard, error) {
	cc := cfg.Copy()
	cc.Normalize()
	if err := cc.Validate(); err != nil {
		return nil, err
	}

	o := &guardOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.jwksURL == "" {
		o.jwksURL = cc.JWKSURL()
	}

	g := &Guard{
		cfg:     cc,
		log:     slog.New(logctx.Handler{Handler: o.logger.Handler()}),
		realm:   o.realm,
		prmURL:  o.prmURL,
		jwksURL: o.jwksURL,
	}

	fetcher := o.fetcher
	if fetcher == nil {
		timeout := cc.FetchTimeout
		if timeout < 0 {
			timeout = 0
		}
		fetcher = &jwks.HTTPFetcher{Client: o.client, Timeout: timeout}
		if cc.JWKSCacheTTL > 0 {
			store := o.store
			if store == nil {
				mem, err := memory.New(16)
				if err != nil {
					return nil, err
				}
				store = mem
				g.closers = append(g.closers, mem.Close)
			}
			fetcher = jwks.NewCachingFetcher(fetcher, store, cc.JWKSCacheTTL,
				jwks.WithCacheIssuer(cc.Issuer()),
				jwks.WithCacheLogger(g.log),
			)
		}
	}

	v, err := jwtauth.New(jwtauth.Config{
		Issuer:      cc.Issuer(),
		Audience:    cc.Audience,
		AllowedAlgs: cc.Algorithms,
		JWKSURL:     o.jwksURL,
		Leeway:      cc.Leeway,
	}, fetcher, o.now)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	g.verifier = v
	return g, nil
}

// Config returns a copy of the Guard's configuration.
func (g *Guard) Config() Config { return g.cfg.Copy() }

// Close releases resources the Guard created for itself.
func (g *Guard) Close() error {
	var errs []error
	for _, c := range g.closers {
		errs = append(errs, c())
	}
	g.closers = nil
	return errors.Join(errs...)
}

// Authenticate extracts and verifies the bearer token in h without
// requiring any permission.
func (g *Guard) Authenticate(ctx context.Context, h http.Header) (Claims, error) {
	claims, err := g.authenticate(ctx, h)
	if err != nil {
		return nil, err
	}
	g.log.InfoContext(ctx, "auth.check.ok", slog.String("sub", claims.Subject()))
	return claims, nil
}

// Authorize extracts and verifies the bearer token in h and checks that it
// grants permission.
func (g *Guard) Authorize(ctx context.Context, h http.Header, permission string) (Claims, error) {
	claims, err := g.authenticate(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := CheckPermissions(permission, claims); err != nil {
		g.logFailure(ctx, err)
		return nil, err
	}
	g.log.InfoContext(ctx, "auth.check.ok", slog.String("sub", claims.Subject()), slog.String("permission", permission))
	return claims, nil
}

func (g *Guard) authenticate(ctx context.Context, h http.Header) (Claims, error) {
	tok, err := ExtractToken(h)
	if err != nil {
		g.logFailure(ctx, err)
		return nil, err
	}
	raw, err := g.verifier.Verify(ctx, tok)
	if err != nil {
		ae := fromVerifyError(err)
		g.logFailure(ctx, ae)
		return nil, ae
	}
	return Claims(raw), nil
}

func (g *Guard) logFailure(ctx context.Context, err error) {
	ae, _ := AsAuthError(err)
	attrs := []any{slog.String("err", err.Error())}
	if ae != nil {
		attrs = append(attrs, slog.String("code", ae.Body.Code), slog.Int("status", ae.StatusCode))
	}
	if ae != nil && ae.StatusCode >= http.StatusInternalServerError {
		g.log.ErrorContext(ctx, "auth.check.fail", attrs...)
		return
	}
	g.log.InfoContext(ctx, "auth.check.fail", attrs...)
}

func fromVerifyError(err error) *AuthError {
	switch {
	case errors.Is(err, jwtauth.ErrMissingKid):
		return errMalformedAuthorization(err)
	case errors.Is(err, jwtauth.ErrKeySetUnavailable):
		return errKeySetUnavailable(err)
	case errors.Is(err, jwtauth.ErrKeyNotFound):
		return errKeyNotFound(err)
	case errors.Is(err, jwtauth.ErrExpired):
		return errTokenExpired(err)
	case errors.Is(err, jwtauth.ErrInvalidClaims):
		return errIncorrectClaims(err)
	default:
		return errUnparseable(err)
	}
}

// Operation is a protected operation: it receives the verified claims and
// its own argument.
type Operation[A, R any] func(ctx context.Context, claims Claims, arg A) (R, error)

// RequiresAuth wraps op so that it only runs once the bearer token in the
// request headers has been verified and grants permission. Guard failures
// are returned as *AuthError; op's own result and error pass through
// unchanged.
func RequiresAuth[A, R any](g *Guard, permission string, op Operation[A, R]) func(ctx context.Context, h http.Header, arg A) (R, error) {
	return func(ctx context.Context, h http.Header, arg A) (R, error) {
		claims, err := g.Authorize(ctx, h, permission)
		if err != nil {
			var zero R
			return zero, err
		}
		return op(ctx, claims, arg)
	}
}
