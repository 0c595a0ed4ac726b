package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/authguard/storage"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultCacheTTL        = 10 * time.Minute
	defaultOriginTimeout   = 30 * time.Second
	defaultRefreshInterval = time.Minute
)

// ErrRefreshLimited is returned by Invalidate when the cached document for
// a URL was already invalidated within the refresh interval.
var ErrRefreshLimited = errors.New("jwks: refresh rate limited")

// CachingFetcher keeps the last key set document per URL in a
// storage.Storage. Storage failures are logged and fall through to the
// wrapped Fetcher; they never fail a verification on their own.
type CachingFetcher struct {
	next          Fetcher
	store         storage.Storage
	ttl           time.Duration
	log           *slog.Logger
	ns            []storage.Option
	originTimeout time.Duration
	refreshEvery  time.Duration

	group    singleflight.Group
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// CacheOption configures a CachingFetcher.
type CacheOption func(*CachingFetcher)

// WithCacheLogger sets the logger used for storage failures.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *CachingFetcher) { c.log = l }
}

// WithCacheIssuer scopes cached documents to issuer's storage namespace.
func WithCacheIssuer(issuer string) CacheOption {
	return func(c *CachingFetcher) { c.ns = []storage.Option{storage.WithIssuer(issuer)} }
}

// WithOriginTimeout bounds a shared origin fetch (default 30s). The fetch
// outlives the cancellation of any single waiting caller.
func WithOriginTimeout(d time.Duration) CacheOption {
	return func(c *CachingFetcher) { c.originTimeout = d }
}

// WithRefreshInterval sets how often Invalidate may drop the cached
// document for one URL (default 1m). Zero or negative removes the limit.
func WithRefreshInterval(d time.Duration) CacheOption {
	return func(c *CachingFetcher) { c.refreshEvery = d }
}

// NewCachingFetcher wraps next with a cache of the given ttl (10m if <= 0).
func NewCachingFetcher(next Fetcher, store storage.Storage, ttl time.Duration, opts ...CacheOption) *CachingFetcher {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c := &CachingFetcher{
		next:          next,
		store:         store,
		ttl:           ttl,
		log:           slog.Default(),
		originTimeout: defaultOriginTimeout,
		refreshEvery:  defaultRefreshInterval,
		limiters:      make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachingFetcher) Fetch(ctx context.Context, url string) (*Set, error) {
	if set, ok := c.cached(ctx, url); ok {
		return set, nil
	}

	// Concurrent misses for the same URL share one origin fetch. It runs
	// detached from the caller that started it; each caller waits on its
	// own ctx.
	ch := c.group.DoChan(url, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.originTimeout)
		defer cancel()

		set, err := c.next.Fetch(fetchCtx, url)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(set)
		if err == nil {
			err = c.store.Set(fetchCtx, url, b, append(c.ns, storage.WithTTL(c.ttl))...)
		}
		if err != nil {
			c.log.WarnContext(ctx, "jwks.cache.store.fail", slog.String("url", url), slog.String("err", err.Error()))
		}
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Set), nil
	}
}

// Invalidate drops the cached document for url so the next Fetch goes to
// the origin. Calls for the same url are limited to one per refresh
// interval; excess calls return ErrRefreshLimited and leave the cache as is.
func (c *CachingFetcher) Invalidate(ctx context.Context, url string) error {
	if !c.allowRefresh(url) {
		return ErrRefreshLimited
	}
	return c.store.Delete(ctx, append(c.ns, storage.WithKey(url))...)
}

func (c *CachingFetcher) allowRefresh(url string) bool {
	if c.refreshEvery <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[url]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.refreshEvery), 1)
		c.limiters[url] = lim
	}
	return lim.Allow()
}

func (c *CachingFetcher) cached(ctx context.Context, url string) (*Set, bool) {
	item, err := c.store.Get(ctx, url, c.ns...)
	if err != nil {
		c.log.WarnContext(ctx, "jwks.cache.load.fail", slog.String("url", url), slog.String("err", err.Error()))
		return nil, false
	}
	if item == nil {
		return nil, false
	}
	var set Set
	if err := json.Unmarshal(item.Data, &set); err != nil {
		c.log.WarnContext(ctx, "jwks.cache.decode.fail", slog.String("url", url), slog.String("err", err.Error()))
		return nil, false
	}
	return &set, true
}

var (
	_ Fetcher     = (*CachingFetcher)(nil)
	_ Invalidator = (*CachingFetcher)(nil)
)
