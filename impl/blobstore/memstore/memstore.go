// Package memstore is an in-process blob store. Nothing survives a restart so it is
// mostly useful for tests and for running the server as a pure read-through proxy.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aceeric/offliner/impl/blobstore"
)

type MemStore struct {
	sync.Mutex
	buckets map[string]map[string][]byte
}

type memBucket struct {
	store *MemStore
	name  string
}

// New returns an empty in-memory store
func New() *MemStore {
	return &MemStore{
		buckets: make(map[string]map[string][]byte),
	}
}

func (s *MemStore) OpenBucket(_ context.Context, name string) (blobstore.Bucket, error) {
	s.Lock()
	defer s.Unlock()
	if _, exists := s.buckets[name]; !exists {
		s.buckets[name] = make(map[string][]byte)
	}
	return &memBucket{store: s, name: name}, nil
}

func (s *MemStore) OpenExistingBucket(_ context.Context, name string) (blobstore.Bucket, error) {
	s.Lock()
	defer s.Unlock()
	if _, exists := s.buckets[name]; !exists {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrBucketGone, name)
	}
	return &memBucket{store: s, name: name}, nil
}

func (s *MemStore) DeleteBucket(_ context.Context, name string) (bool, error) {
	s.Lock()
	defer s.Unlock()
	_, exists := s.buckets[name]
	delete(s.buckets, name)
	return exists, nil
}

func (s *MemStore) ListBucketNames(_ context.Context) ([]string, error) {
	s.Lock()
	defer s.Unlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemStore) Close() error {
	return nil
}

func (b *memBucket) Name() string {
	return b.name
}

func (b *memBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.store.Lock()
	defer b.store.Unlock()
	keys, exists := b.store.buckets[b.name]
	if !exists {
		return nil, blobstore.ErrBucketGone
	}
	val, found := keys[key]
	if !found {
		return nil, blobstore.ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

func (b *memBucket) Put(_ context.Context, key string, value []byte) error {
	b.store.Lock()
	defer b.store.Unlock()
	keys, exists := b.store.buckets[b.name]
	if !exists {
		return blobstore.ErrBucketGone
	}
	keys[key] = append([]byte(nil), value...)
	return nil
}

func (b *memBucket) Delete(_ context.Context, key string) error {
	b.store.Lock()
	defer b.store.Unlock()
	keys, exists := b.store.buckets[b.name]
	if !exists {
		return blobstore.ErrBucketGone
	}
	delete(keys, key)
	return nil
}

func (b *memBucket) Keys(_ context.Context) ([]string, error) {
	b.store.Lock()
	defer b.store.Unlock()
	keys, exists := b.store.buckets[b.name]
	if !exists {
		return nil, blobstore.ErrBucketGone
	}
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}
