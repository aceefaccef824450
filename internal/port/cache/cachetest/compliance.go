// Package cachetest holds the behavior every cache.Cache implementation must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/QueryWarden/internal/port/cache"
)

// Run exercises c against the cache port contract. Implementations with
// eventual writes must make Set visible to Get before returning.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "route.abc", []byte("simple"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "route.abc")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "simple" {
			t.Fatalf("expected simple, got found=%v val=%q", found, val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "route.never")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "route.del", []byte("complex"), time.Minute)
		if err := c.Delete(ctx, "route.del"); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := c.Get(ctx, "route.del"); found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "route.ghost"); err != nil {
			t.Fatalf("Delete of nonexistent key should not error: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "route.ow", []byte("simple"), time.Minute)
		_ = c.Set(ctx, "route.ow", []byte("complex"), time.Minute)
		val, found, err := c.Get(ctx, "route.ow")
		if err != nil || !found || string(val) != "complex" {
			t.Fatalf("expected complex after overwrite, got %q found=%v err=%v", val, found, err)
		}
	})

	t.Run("ValueNotAliased", func(t *testing.T) {
		buf := []byte("simple")
		_ = c.Set(ctx, "route.alias", buf, time.Minute)
		buf[0] = 'X'
		val, _, _ := c.Get(ctx, "route.alias")
		if string(val) != "simple" {
			t.Fatalf("cached value must not alias caller buffer, got %q", val)
		}
	})
}
