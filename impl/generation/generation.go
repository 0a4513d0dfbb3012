// Package generation manages cache generations: the named buckets holding one complete
// copy of the resource set. Exactly one generation is active at a time, as named by the
// active-cache config key. A new generation is built alongside the active one and then
// promoted, after which every other generation is reclaimed.
package generation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/configstore"
	"github.com/aceeric/offliner/impl/metrics"

	log "github.com/sirupsen/logrus"
)

// ErrNoActive is returned by OpenActive before bootstrap has set active-cache
var ErrNoActive = errors.New("no active generation")

const genInfix = "cache-"

// Manager is the cache version manager
type Manager struct {
	store          blobstore.Store
	cfg            *configstore.ConfigStore
	prefix         string
	reclaimOwnOnly bool
}

// Option configures a Manager
type Option func(*Manager)

// ReclaimOwnOnly restricts reclaim to the generations of this instance, leaving
// buckets of other instances sharing the store alone.
func ReclaimOwnOnly() Option {
	return func(m *Manager) {
		m.reclaimOwnOnly = true
	}
}

// New creates a Manager. The name is the instance name and may be empty.
func New(store blobstore.Store, cfg *configstore.ConfigStore, name string, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		cfg:    cfg,
		prefix: configstore.UniqueName(name) + genInfix,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NameFor returns the bucket name of the generation for a version tag
func (m *Manager) NameFor(tag string) string {
	return m.prefix + tag
}

// IsGeneration returns true if the bucket name looks like a generation of any instance
func IsGeneration(name string) bool {
	return strings.Contains(name, genInfix)
}

// Open opens, creating if needed, the generation for the tag
func (m *Manager) Open(ctx context.Context, tag string) (blobstore.Bucket, error) {
	return m.store.OpenBucket(ctx, m.NameFor(tag))
}

// Recreate deletes the generation for the tag, if it exists, and opens it again empty
func (m *Manager) Recreate(ctx context.Context, tag string) (blobstore.Bucket, error) {
	if _, err := m.store.DeleteBucket(ctx, m.NameFor(tag)); err != nil {
		return nil, fmt.Errorf("unable to clear generation %s: %w", m.NameFor(tag), err)
	}
	return m.Open(ctx, tag)
}

// ActiveName returns the value of active-cache
func (m *Manager) ActiveName(ctx context.Context) (string, error) {
	name, found, err := m.cfg.GetString(ctx, configstore.ActiveCache)
	if err != nil {
		return "", err
	}
	if !found || name == "" {
		return "", ErrNoActive
	}
	return name, nil
}

// OpenActive opens the generation named by active-cache. The generation is never
// created: if it was reclaimed after active-cache was read, ErrBucketGone is returned.
func (m *Manager) OpenActive(ctx context.Context) (blobstore.Bucket, error) {
	name, err := m.ActiveName(ctx)
	if err != nil {
		return nil, err
	}
	return blobstore.OpenExisting(ctx, m.store, name)
}

// Promote points active-cache at the named generation
func (m *Manager) Promote(ctx context.Context, name string) error {
	if err := m.cfg.Set(ctx, configstore.ActiveCache, name); err != nil {
		return fmt.Errorf("unable to promote %s: %w", name, err)
	}
	log.Infof("active generation is now %s", name)
	return nil
}

// Reclaim deletes every bucket other than the ones to keep and the config bucket. Failures
// are logged and do not stop the rest of the deletions. Returns the deleted names.
func (m *Manager) Reclaim(ctx context.Context, keep ...string) []string {
	names, err := m.store.ListBucketNames(ctx)
	if err != nil {
		log.Warnf("unable to list generations for reclaim: %s", err)
		return nil
	}
	deleted := []string{}
	for _, name := range names {
		if slices.Contains(keep, name) || name == configstore.BucketName {
			continue
		}
		if m.reclaimOwnOnly && !strings.HasPrefix(name, m.prefix) {
			continue
		}
		if ok, err := m.store.DeleteBucket(ctx, name); err != nil {
			log.Warnf("unable to reclaim generation %s: %s", name, err)
		} else if ok {
			log.Debugf("reclaimed generation %s", name)
			metrics.IncReclaimed()
			deleted = append(deleted, name)
		}
	}
	return deleted
}

// Swap promotes the named generation and then reclaims all others. Reclaim failures
// never roll back the promotion.
func (m *Manager) Swap(ctx context.Context, name string) error {
	if err := m.Promote(ctx, name); err != nil {
		return err
	}
	m.Reclaim(ctx, name)
	return nil
}

// List returns the generations in the store belonging to this instance
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.store.ListBucketNames(ctx)
	if err != nil {
		return nil, err
	}
	gens := []string{}
	for _, name := range names {
		if strings.HasPrefix(name, m.prefix) {
			gens = append(gens, name)
		}
	}
	return gens, nil
}

// Count returns the number of entries in the named generation. The generation must exist.
func (m *Manager) Count(ctx context.Context, name string) (int, error) {
	gens, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	if !slices.Contains(gens, name) {
		return 0, fmt.Errorf("%w: %s", blobstore.ErrBucketGone, name)
	}
	b, err := m.store.OpenBucket(ctx, name)
	if err != nil {
		return 0, err
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
