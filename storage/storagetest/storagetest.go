// Package storagetest holds conformance tests shared by every
// storage.Storage backend.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/authguard/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Storage

// RunStorageTests exercises the storage.Storage contract against a backend.
func RunStorageTests(t *testing.T, newStore Factory) {
	t.Run("SetAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		data := []byte(`{"keys":[]}`)
		if err := s.Set(ctx, "jwks", data); err != nil {
			t.Fatalf("Set: %v", err)
		}
		item, err := s.Get(ctx, "jwks")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if item == nil {
			t.Fatal("expected item, got nil")
		}
		if !bytes.Equal(item.Data, data) {
			t.Fatalf("data = %q, want %q", item.Data, data)
		}
		if item.ExpiresAt != nil {
			t.Fatalf("expected no expiry, got %v", item.ExpiresAt)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		item, err := s.Get(context.Background(), "does-not-exist")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if item != nil {
			t.Fatalf("expected nil item, got %+v", item)
		}
	})

	t.Run("TTL", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ttl := 150 * time.Millisecond
		if err := s.Set(ctx, "short", []byte("x"), storage.WithTTL(ttl)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		item, err := s.Get(ctx, "short")
		if err != nil || item == nil {
			t.Fatalf("expected item before expiry, got %v, %v", item, err)
		}
		if item.ExpiresAt == nil {
			t.Fatal("expected ExpiresAt to be set")
		}

		time.Sleep(ttl + 100*time.Millisecond)

		item, err = s.Get(ctx, "short")
		if err != nil {
			t.Fatalf("Get after expiry: %v", err)
		}
		if item != nil {
			t.Fatal("expected nil item after expiry")
		}
	})

	t.Run("InvalidTTL", func(t *testing.T) {
		s := newStore(t)
		err := s.Set(context.Background(), "k", []byte("v"), storage.WithTTL(0))
		if !errors.Is(err, storage.ErrInvalidOptions) {
			t.Fatalf("want ErrInvalidOptions, got %v", err)
		}
	})

	t.Run("IssuerIsolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := storage.WithIssuer("https://a.example.com/")
		b := storage.WithIssuer("https://b.example.com/")
		if err := s.Set(ctx, "jwks", []byte("global")); err != nil {
			t.Fatalf("Set global: %v", err)
		}
		if err := s.Set(ctx, "jwks", []byte("a"), a); err != nil {
			t.Fatalf("Set a: %v", err)
		}
		if err := s.Set(ctx, "jwks", []byte("b"), b); err != nil {
			t.Fatalf("Set b: %v", err)
		}

		for _, tc := range []struct {
			opts []storage.Option
			want string
		}{
			{nil, "global"},
			{[]storage.Option{a}, "a"},
			{[]storage.Option{b}, "b"},
		} {
			item, err := s.Get(ctx, "jwks", tc.opts...)
			if err != nil || item == nil || string(item.Data) != tc.want {
				t.Fatalf("Get(%v) = %v, %v; want %q", tc.opts, item, err, tc.want)
			}
		}
	})

	t.Run("DeleteKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ns := storage.WithIssuer("https://a.example.com/")
		if err := s.Set(ctx, "one", []byte("1"), ns); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set(ctx, "two", []byte("2"), ns); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Delete(ctx, ns, storage.WithKey("one")); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if item, _ := s.Get(ctx, "one", ns); item != nil {
			t.Fatal("expected deleted key to be gone")
		}
		if item, _ := s.Get(ctx, "two", ns); item == nil {
			t.Fatal("expected sibling key to survive")
		}
	})

	t.Run("DeleteNamespace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := storage.WithIssuer("https://a.example.com/")
		b := storage.WithIssuer("https://b.example.com/")
		_ = s.Set(ctx, "one", []byte("1"), a)
		_ = s.Set(ctx, "two", []byte("2"), a)
		_ = s.Set(ctx, "one", []byte("1"), b)

		if err := s.Delete(ctx, a); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if item, _ := s.Get(ctx, "one", a); item != nil {
			t.Fatal("expected namespace a to be cleared")
		}
		if item, _ := s.Get(ctx, "two", a); item != nil {
			t.Fatal("expected namespace a to be cleared")
		}
		if item, _ := s.Get(ctx, "one", b); item == nil {
			t.Fatal("expected namespace b to survive")
		}
	})
}
