// Package storetest has a conformance suite that every blob store backend runs from its
// own tests.
package storetest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/aceeric/offliner/impl/blobstore"
)

// Factory creates an empty store for one sub-test
type Factory func(t *testing.T) blobstore.Store

// Run runs the conformance suite against stores created by the passed factory
func Run(t *testing.T, factory Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, factory(t)) })
	t.Run("OpenIsIdempotent", func(t *testing.T) { testOpenIdempotent(t, factory(t)) })
	t.Run("DeleteBucket", func(t *testing.T) { testDeleteBucket(t, factory(t)) })
	t.Run("StaleHandle", func(t *testing.T) { testStaleHandle(t, factory(t)) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, factory(t)) })
	t.Run("OpenExisting", func(t *testing.T) { testOpenExisting(t, factory(t)) })
	t.Run("OpenExistingByList", func(t *testing.T) { testOpenExisting(t, listOnly{factory(t)}) })
}

// listOnly hides any OpenExistingBucket method of the wrapped store
type listOnly struct {
	blobstore.Store
}

func testOpenExisting(t *testing.T, store blobstore.Store) {
	ctx := context.Background()
	if _, err := blobstore.OpenExisting(ctx, store, "cache-missing"); !errors.Is(err, blobstore.ErrBucketGone) {
		t.Fatalf("expected ErrBucketGone, got %v", err)
	}
	b, _ := store.OpenBucket(ctx, "cache-present")
	b.Put(ctx, "k", []byte("v"))
	existing, err := blobstore.OpenExisting(ctx, store, "cache-present")
	if err != nil {
		t.Fatalf("open existing: %v", err)
	}
	if got, err := existing.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Fatalf("get: %q %v", got, err)
	}
	store.DeleteBucket(ctx, "cache-present")
	if _, err := blobstore.OpenExisting(ctx, store, "cache-present"); !errors.Is(err, blobstore.ErrBucketGone) {
		t.Fatalf("expected ErrBucketGone after delete, got %v", err)
	}
	names, _ := store.ListBucketNames(ctx)
	if len(names) != 0 {
		t.Fatalf("open existing created buckets: %v", names)
	}
}

func testPutGet(t *testing.T, store blobstore.Store) {
	ctx := context.Background()
	b, err := store.OpenBucket(ctx, "cache-v1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if b.Name() != "cache-v1" {
		t.Fatalf("unexpected bucket name %q", b.Name())
	}
	if _, err := b.Get(ctx, "http://x/a.js"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := b.Put(ctx, "http://x/a.js", []byte("alert(1)")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := b.Get(ctx, "http://x/a.js")
	if err != nil || string(got) != "alert(1)" {
		t.Fatalf("get: %q %v", got, err)
	}
	if err := b.Delete(ctx, "http://x/a.js"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, "http://x/a.js"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func testOpenIdempotent(t *testing.T, store blobstore.Store) {
	ctx := context.Background()
	b, _ := store.OpenBucket(ctx, "__offliner-config")
	if err := b.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	again, err := store.OpenBucket(ctx, "__offliner-config")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, err := again.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Fatalf("reopen lost data: %q %v", got, err)
	}
	names, err := store.ListBucketNames(ctx)
	if err != nil || len(names) != 1 {
		t.Fatalf("expected one bucket, got %v %v", names, err)
	}
}

func testDeleteBucket(t *testing.T, store blobstore.Store) {
	ctx := context.Background()
	for _, name := range []string{"a:cache-1", "a:cache-2", "a:cache-20"} {
		b, err := store.OpenBucket(ctx, name)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		if err := b.Put(ctx, "key", []byte(name)); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	deleted, err := store.DeleteBucket(ctx, "a:cache-2")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = store.DeleteBucket(ctx, "a:cache-2")
	if err != nil || deleted {
		t.Fatalf("second delete should report not found: %v %v", deleted, err)
	}
	names, _ := store.ListBucketNames(ctx)
	if !slices.Equal(names, []string{"a:cache-1", "a:cache-20"}) {
		t.Fatalf("unexpected buckets %v", names)
	}
	// a bucket name that shares a prefix must be untouched
	b, _ := store.OpenBucket(ctx, "a:cache-20")
	if got, err := b.Get(ctx, "key"); err != nil || string(got) != "a:cache-20" {
		t.Fatalf("sibling bucket damaged: %q %v", got, err)
	}
	// re-created bucket starts empty
	b, _ = store.OpenBucket(ctx, "a:cache-2")
	if _, err := b.Get(ctx, "key"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("re-created bucket not empty: %v", err)
	}
}

func testStaleHandle(t *testing.T, store blobstore.Store) {
	ctx := context.Background()
	b, _ := store.OpenBucket(ctx, "cache-old")
	b.Put(ctx, "k", []byte("v"))
	if _, err := store.DeleteBucket(ctx, "cache-old"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, "k"); !errors.Is(err, blobstore.ErrBucketGone) {
		t.Fatalf("expected ErrBucketGone on get, got %v", err)
	}
	if err := b.Put(ctx, "k", []byte("v")); !errors.Is(err, blobstore.ErrBucketGone) {
		t.Fatalf("expected ErrBucketGone on put, got %v", err)
	}
	names, _ := store.ListBucketNames(ctx)
	if len(names) != 0 {
		t.Fatalf("stale put resurrected bucket: %v", names)
	}
}

func testKeys(t *testing.T, store blobstore.Store) {
	ctx := context.Background()
	b, _ := store.OpenBucket(ctx, "cache-keys")
	want := []string{"http://h/a", "http://h/b?x=1", "http://h/c/d"}
	for _, key := range want {
		if err := b.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, want) {
		t.Fatalf("unexpected keys %v", keys)
	}
}
