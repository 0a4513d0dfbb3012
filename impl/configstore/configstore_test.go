package configstore

import (
	"context"
	"testing"

	"github.com/aceeric/offliner/impl/blobstore/memstore"
)

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	cs, err := Open(ctx, memstore.New(), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, found, _ := cs.GetString(ctx, CurrentVersion); found {
		t.Fatalf("unset key reported as found")
	}
	if err := cs.Set(ctx, CurrentVersion, "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cs.Set(ctx, ActivationPending, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, found, err := cs.GetString(ctx, CurrentVersion)
	if err != nil || !found || v != "v1" {
		t.Fatalf("unexpected %q %t %v", v, found, err)
	}
	if pending, err := cs.GetBool(ctx, ActivationPending); err != nil || !pending {
		t.Fatalf("unexpected pending %t %v", pending, err)
	}
}

// Two instances sharing a store do not see each other's keys
func TestNamespacing(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	a, _ := Open(ctx, store, "a")
	b, _ := Open(ctx, store, "b")
	if a.KeyFor(ActiveCache) != "http://config/a:active-cache" {
		t.Fatalf("unexpected key %s", a.KeyFor(ActiveCache))
	}
	a.Set(ctx, ActiveCache, "a:cache-1")
	b.Set(ctx, ActiveCache, "b:cache-2")
	if v, _, _ := a.GetString(ctx, ActiveCache); v != "a:cache-1" {
		t.Fatalf("instance a sees %q", v)
	}
	if v, _, _ := b.GetString(ctx, ActiveCache); v != "b:cache-2" {
		t.Fatalf("instance b sees %q", v)
	}
	names, _ := store.ListBucketNames(ctx)
	if len(names) != 1 || names[0] != BucketName {
		t.Fatalf("unexpected buckets %v", names)
	}
}

func TestMalformedValue(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cs, _ := Open(ctx, store, "")
	bkt, _ := store.OpenBucket(ctx, BucketName)
	bkt.Put(ctx, cs.KeyFor(NextVersion), []byte("not json"))
	if _, _, err := cs.GetString(ctx, NextVersion); err == nil {
		t.Fatalf("expected error for malformed value")
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	cs, _ := Open(ctx, memstore.New(), "x")
	cs.Set(ctx, ActiveCache, "x:cache-v2")
	cs.Set(ctx, CurrentVersion, "v2")
	cs.Set(ctx, NextVersion, "v3")
	cs.Set(ctx, ActivationPending, true)
	s, err := cs.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := Snapshot{ActiveCache: "x:cache-v2", CurrentVersion: "v2", NextVersion: "v3", ActivationPending: true}
	if s != want {
		t.Fatalf("got %+v want %+v", s, want)
	}
}
