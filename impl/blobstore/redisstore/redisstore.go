// Package redisstore implements the blob store on Redis so that several server processes
// can share the same generations. Each bucket is a hash, and a set records which buckets
// exist.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aceeric/offliner/impl/blobstore"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultPrefix   = "offliner:"
)

// putIfBucket writes the hash field only while the bucket is still registered so a
// writer holding a stale handle cannot resurrect a deleted bucket.
var putIfBucket = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

type RedisStore struct {
	client *redis.Client
	prefix string
}

type redisBucket struct {
	store *RedisStore
	name  string
}

// New connects to the Redis server at the passed URL. All keys written by the store
// carry the passed prefix, or "offliner:" if empty.
func New(url string, prefix string) (*RedisStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) setKey() string {
	return s.prefix + "buckets"
}

func (s *RedisStore) hashKey(bucket string) string {
	return s.prefix + "bucket:" + bucket
}

func (s *RedisStore) OpenBucket(ctx context.Context, name string) (blobstore.Bucket, error) {
	if err := s.client.SAdd(ctx, s.setKey(), name).Err(); err != nil {
		return nil, err
	}
	return &redisBucket{store: s, name: name}, nil
}

func (s *RedisStore) OpenExistingBucket(ctx context.Context, name string) (blobstore.Bucket, error) {
	b := &redisBucket{store: s, name: name}
	if err := b.exists(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *RedisStore) DeleteBucket(ctx context.Context, name string) (bool, error) {
	pipe := s.client.TxPipeline()
	srem := pipe.SRem(ctx, s.setKey(), name)
	pipe.Del(ctx, s.hashKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return srem.Val() > 0, nil
}

func (s *RedisStore) ListBucketNames(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (b *redisBucket) Name() string {
	return b.name
}

func (b *redisBucket) exists(ctx context.Context) error {
	member, err := b.store.client.SIsMember(ctx, b.store.setKey(), b.name).Result()
	if err != nil {
		return err
	}
	if !member {
		return blobstore.ErrBucketGone
	}
	return nil
}

func (b *redisBucket) Get(ctx context.Context, key string) ([]byte, error) {
	pipe := b.store.client.Pipeline()
	memberCmd := pipe.SIsMember(ctx, b.store.setKey(), b.name)
	getCmd := pipe.HGet(ctx, b.store.hashKey(b.name), key)
	_, _ = pipe.Exec(ctx)
	if member, err := memberCmd.Result(); err != nil {
		return nil, err
	} else if !member {
		return nil, blobstore.ErrBucketGone
	}
	val, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, blobstore.ErrNotFound
	}
	return val, err
}

func (b *redisBucket) Put(ctx context.Context, key string, value []byte) error {
	res, err := putIfBucket.Run(ctx, b.store.client,
		[]string{b.store.setKey(), b.store.hashKey(b.name)}, b.name, key, value).Int()
	if err != nil {
		return err
	}
	if res < 0 {
		return blobstore.ErrBucketGone
	}
	return nil
}

func (b *redisBucket) Delete(ctx context.Context, key string) error {
	if err := b.exists(ctx); err != nil {
		return err
	}
	return b.store.client.HDel(ctx, b.store.hashKey(b.name), key).Err()
}

func (b *redisBucket) Keys(ctx context.Context) ([]string, error) {
	if err := b.exists(ctx); err != nil {
		return nil, err
	}
	keys, err := b.store.client.HKeys(ctx, b.store.hashKey(b.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
