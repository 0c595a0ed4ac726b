// Package storage defines the small key/value contract used to cache
// identity provider documents (JSON Web Key Sets) between requests.
//
// Backends live in sub-packages: memory (process-local LRU) and redis
// (shared across replicas).
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage is a byte-oriented key/value store with optional expiry.
type Storage interface {
	// Get returns the item stored under key, or nil if it does not exist or
	// has expired. An error is returned only for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data under key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes a single key (WithKey) or, without WithKey, every key in
	// the selected namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// StorageItem is a stored value plus bookkeeping.
type StorageItem struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiry
}

// IsExpired reports whether the item's expiry has passed.
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures a storage call.
type Option func(*Options)

// Options is the resolved form of a set of Option values.
type Options struct {
	Namespace Namespace      // nil = global
	Key       *string        // only meaningful for Delete
	TTL       *time.Duration // only meaningful for Set
}

// Apply resolves opts into an Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Namespace partitions keys. Only types in this package implement it.
type Namespace interface {
	namespace()
}

// IssuerNamespace scopes keys to a single token issuer so several guards
// can share one backend.
type IssuerNamespace struct {
	Issuer string
}

func (IssuerNamespace) namespace() {}

// WithIssuer selects the namespace for issuer.
func WithIssuer(issuer string) Option {
	return func(o *Options) {
		o.Namespace = IssuerNamespace{Issuer: issuer}
	}
}

// WithKey names the key a Delete call should remove.
func WithKey(key string) Option {
	return func(o *Options) {
		o.Key = &key
	}
}

// WithTTL sets a time-to-live for a Set call.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = &ttl
	}
}

// ErrInvalidOptions is returned when incompatible options are provided.
var ErrInvalidOptions = errors.New("storage: invalid option combination")
