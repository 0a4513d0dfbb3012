// Package blobstore defines the named-bucket blob store that holds the config bucket and
// every cache generation. A bucket is a flat key/value namespace. Backends live in the
// sub-packages: memstore (in-process), badgerstore (embedded), redisstore and s3store
// (shared across processes).
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNotFound is returned by Bucket.Get when the key is not in the bucket
	ErrNotFound = errors.New("key not found")
	// ErrBucketGone is returned by operations on a bucket handle whose bucket was
	// deleted after the handle was opened
	ErrBucketGone = errors.New("bucket no longer exists")
)

// Store is the collaborator the cache core needs from the storage layer.
type Store interface {
	// OpenBucket opens the named bucket, creating it if it does not exist.
	OpenBucket(ctx context.Context, name string) (Bucket, error)
	// DeleteBucket removes the named bucket and all its keys. The bool is false if
	// the bucket did not exist.
	DeleteBucket(ctx context.Context, name string) (bool, error)
	// ListBucketNames returns the names of all buckets in the store.
	ListBucketNames(ctx context.Context) ([]string, error)
	Close() error
}

// Bucket is a handle to one named bucket.
type Bucket interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// ExistingOpener is implemented by stores that can open a bucket without creating it.
type ExistingOpener interface {
	// OpenExistingBucket returns ErrBucketGone if the named bucket does not exist.
	OpenExistingBucket(ctx context.Context, name string) (Bucket, error)
}

// OpenExisting opens the named bucket only if it exists. Stores that don't implement
// ExistingOpener are checked through ListBucketNames.
func OpenExisting(ctx context.Context, store Store, name string) (Bucket, error) {
	if eo, ok := store.(ExistingOpener); ok {
		return eo.OpenExistingBucket(ctx, name)
	}
	names, err := store.ListBucketNames(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("%w: %s", ErrBucketGone, name)
	}
	return store.OpenBucket(ctx, name)
}
