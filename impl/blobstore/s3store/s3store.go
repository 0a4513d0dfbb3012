// Package s3store implements the blob store on an S3 (or S3-compatible) bucket. Store
// buckets map to key prefixes inside the one S3 bucket:
//
//	<prefix><escaped bucket name>/.bucket         marker object
//	<prefix><escaped bucket name>/d/<escaped key> values
//
// Deleting a store bucket removes the marker first, then the values.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/aceeric/offliner/impl/blobstore"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	log "github.com/sirupsen/logrus"
)

const (
	markerName = ".bucket"
	dataDir    = "d/"
	// S3 DeleteObjects accepts at most this many keys per call
	maxDeleteBatch = 1000
)

// Options configures the connection to S3
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PathStyle bool
	AccessKey string
	SecretKey string
}

// API is the subset of the S3 client used by the store
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Store struct {
	client API
	bucket string
	prefix string
}

type s3Bucket struct {
	store *S3Store
	name  string
}

// New builds an S3 client from the default AWS credential chain, overridden by static
// credentials, region and endpoint if present in the passed options.
func New(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 store requires a bucket")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return NewWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewWithClient creates a store over an existing client
func NewWithClient(client API, bucket string, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) bucketPrefix(name string) string {
	return s.prefix + url.PathEscape(name) + "/"
}

func (s *S3Store) markerKey(name string) string {
	return s.bucketPrefix(name) + markerName
}

func (s *S3Store) dataPrefix(name string) string {
	return s.bucketPrefix(name) + dataDir
}

func (s *S3Store) objectKey(name, key string) string {
	return s.dataPrefix(name) + url.PathEscape(key)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *S3Store) hasMarker(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.markerKey(name)),
	})
	if err == nil {
		return true, nil
	} else if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *S3Store) OpenBucket(ctx context.Context, name string) (blobstore.Bucket, error) {
	found, err := s.hasMarker(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.markerKey(name)),
			Body:   bytes.NewReader([]byte(name)),
		})
		if err != nil {
			return nil, err
		}
	}
	return &s3Bucket{store: s, name: name}, nil
}

func (s *S3Store) OpenExistingBucket(ctx context.Context, name string) (blobstore.Bucket, error) {
	b := &s3Bucket{store: s, name: name}
	if err := b.exists(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *S3Store) DeleteBucket(ctx context.Context, name string) (bool, error) {
	found, err := s.hasMarker(ctx, name)
	if err != nil || !found {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.markerKey(name)),
	}); err != nil {
		return false, err
	}
	keys, err := s.listKeys(ctx, s.bucketPrefix(name))
	if err != nil {
		return true, err
	}
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}
		if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		}); err != nil {
			return true, err
		}
	}
	log.Debugf("deleted %d objects for s3 store bucket %s", len(keys), name)
	return true, nil
}

func (s *S3Store) ListBucketNames(ctx context.Context) ([]string, error) {
	names := []string{}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			escaped := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.prefix), "/")
			name, err := url.PathUnescape(escaped)
			if err != nil {
				continue
			}
			// values can outlive their marker briefly during a delete
			if found, err := s.hasMarker(ctx, name); err != nil {
				return nil, err
			} else if found {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (b *s3Bucket) Name() string {
	return b.name
}

func (b *s3Bucket) exists(ctx context.Context) error {
	found, err := b.store.hasMarker(ctx, b.name)
	if err != nil {
		return err
	}
	if !found {
		return blobstore.ErrBucketGone
	}
	return nil
}

func (b *s3Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.exists(ctx); err != nil {
		return nil, err
	}
	out, err := b.store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.store.bucket),
		Key:    aws.String(b.store.objectKey(b.name, key)),
	})
	if isNotFound(err) {
		return nil, blobstore.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *s3Bucket) Put(ctx context.Context, key string, value []byte) error {
	if err := b.exists(ctx); err != nil {
		return err
	}
	_, err := b.store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.store.bucket),
		Key:    aws.String(b.store.objectKey(b.name, key)),
		Body:   bytes.NewReader(value),
	})
	return err
}

func (b *s3Bucket) Delete(ctx context.Context, key string) error {
	if err := b.exists(ctx); err != nil {
		return err
	}
	_, err := b.store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.store.bucket),
		Key:    aws.String(b.store.objectKey(b.name, key)),
	})
	return err
}

func (b *s3Bucket) Keys(ctx context.Context) ([]string, error) {
	if err := b.exists(ctx); err != nil {
		return nil, err
	}
	prefix := b.store.dataPrefix(b.name)
	objects, err := b.store.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		if key, err := url.PathUnescape(strings.TrimPrefix(obj, prefix)); err == nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
