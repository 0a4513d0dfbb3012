// Package badgerstore implements the blob store on an embedded BadgerDB. Each bucket is a
// marker key plus a key prefix, so deleting a bucket is a prefix drop.
package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aceeric/offliner/impl/blobstore"

	badger "github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

const (
	prefixMarker = "m\x00"
	prefixData   = "b\x00"
	sep          = "\x00"
)

type BadgerStore struct {
	db *badger.DB
}

type badgerBucket struct {
	db   *badger.DB
	name string
}

// New opens (or creates) a Badger database in the passed directory. If the directory
// is the empty string then the database is in-memory only.
func New(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger store at %q: %w", path, err)
	}
	log.Debugf("opened badger blob store at %q", path)
	return &BadgerStore{db: db}, nil
}

func markerKey(bucket string) []byte {
	return []byte(prefixMarker + bucket)
}

func dataPrefix(bucket string) []byte {
	return []byte(prefixData + bucket + sep)
}

func dataKey(bucket, key string) []byte {
	return []byte(prefixData + bucket + sep + key)
}

// checkMarker returns ErrBucketGone if the bucket marker is missing
func checkMarker(txn *badger.Txn, bucket string) error {
	_, err := txn.Get(markerKey(bucket))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return blobstore.ErrBucketGone
	}
	return err
}

func (s *BadgerStore) OpenBucket(ctx context.Context, name string) (blobstore.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := checkMarker(txn, name); err == nil {
			return nil
		} else if !errors.Is(err, blobstore.ErrBucketGone) {
			return err
		}
		return txn.Set(markerKey(name), []byte{1})
	})
	if err != nil {
		return nil, err
	}
	return &badgerBucket{db: s.db, name: name}, nil
}

func (s *BadgerStore) OpenExistingBucket(ctx context.Context, name string) (blobstore.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		return checkMarker(txn, name)
	})
	if err != nil {
		return nil, err
	}
	return &badgerBucket{db: s.db, name: name}, nil
}

func (s *BadgerStore) DeleteBucket(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	exists := true
	err := s.db.View(func(txn *badger.Txn) error {
		err := checkMarker(txn, name)
		if errors.Is(err, blobstore.ErrBucketGone) {
			exists = false
			return nil
		}
		return err
	})
	if err != nil || !exists {
		return false, err
	}
	// drop the marker first so open handles start failing before the data goes away
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(markerKey(name))
	}); err != nil {
		return false, err
	}
	if err := s.db.DropPrefix(dataPrefix(name)); err != nil {
		return true, fmt.Errorf("bucket %q unmarked but data not dropped: %w", name, err)
	}
	return true, nil
}

func (s *BadgerStore) ListBucketNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixMarker)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return names, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (b *badgerBucket) Name() string {
	return b.name
}

func (b *badgerBucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		if err := checkMarker(txn, b.name); err != nil {
			return err
		}
		item, err := txn.Get(dataKey(b.name, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return blobstore.ErrNotFound
		} else if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

func (b *badgerBucket) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := checkMarker(txn, b.name); err != nil {
			return err
		}
		return txn.Set(dataKey(b.name, key), value)
	})
}

func (b *badgerBucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := checkMarker(txn, b.name); err != nil {
			return err
		}
		return txn.Delete(dataKey(b.name, key))
	})
}

func (b *badgerBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		if err := checkMarker(txn, b.name); err != nil {
			return err
		}
		prefix := dataPrefix(b.name)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return keys, err
}
