// Package configstore persists the small set of controller keys (active-cache,
// current-version, next-version, activation-pending) in a dedicated bucket of the
// blob store. Values are JSON. Keys are namespaced by the instance name so that
// several controllers can share one store.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aceeric/offliner/impl/blobstore"
)

// BucketName is the name of the bucket holding the config keys. It never collides
// with a generation name since those always contain "cache-".
const BucketName = "__offliner-config"

const keyPrefix = "http://config/"

// Config keys
const (
	ActiveCache       = "active-cache"
	CurrentVersion    = "current-version"
	NextVersion       = "next-version"
	ActivationPending = "activation-pending"
)

// ConfigStore reads and writes the namespaced config keys
type ConfigStore struct {
	bucket blobstore.Bucket
	unique string
}

// Open opens (creating if needed) the config bucket in the passed store. The name
// is the instance name and may be empty.
func Open(ctx context.Context, store blobstore.Store, name string) (*ConfigStore, error) {
	b, err := store.OpenBucket(ctx, BucketName)
	if err != nil {
		return nil, fmt.Errorf("unable to open config bucket: %w", err)
	}
	return &ConfigStore{bucket: b, unique: UniqueName(name)}, nil
}

// UniqueName returns the namespace prefix for an instance name: "name:" or empty.
func UniqueName(name string) string {
	if name == "" {
		return ""
	}
	return name + ":"
}

// KeyFor returns the storage key for a config key
func (cs *ConfigStore) KeyFor(key string) string {
	return keyPrefix + cs.unique + key
}

// Get unmarshals the value of the key into dst. If the key has never been
// set then found is false and dst is not modified.
func (cs *ConfigStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := cs.bucket.Get(ctx, cs.KeyFor(key))
	if errors.Is(err, blobstore.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("unable to read config key %s: %w", key, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("malformed value for config key %s: %w", key, err)
	}
	return true, nil
}

// Set persists the value of the key
func (cs *ConfigStore) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("unable to encode config key %s: %w", key, err)
	}
	if err := cs.bucket.Put(ctx, cs.KeyFor(key), b); err != nil {
		return fmt.Errorf("unable to write config key %s: %w", key, err)
	}
	return nil
}

// GetString returns a string key, or the empty string if not set
func (cs *ConfigStore) GetString(ctx context.Context, key string) (string, bool, error) {
	var s string
	found, err := cs.Get(ctx, key, &s)
	return s, found, err
}

// GetBool returns a bool key, or false if not set
func (cs *ConfigStore) GetBool(ctx context.Context, key string) (bool, error) {
	var v bool
	_, err := cs.Get(ctx, key, &v)
	return v, err
}

// Snapshot is the set of controller keys at a point in time
type Snapshot struct {
	ActiveCache       string `json:"activeCache"`
	CurrentVersion    string `json:"currentVersion"`
	NextVersion       string `json:"nextVersion"`
	ActivationPending bool   `json:"activationPending"`
}

// Snapshot reads all controller keys
func (cs *ConfigStore) Snapshot(ctx context.Context) (Snapshot, error) {
	s := Snapshot{}
	var err error
	if s.ActiveCache, _, err = cs.GetString(ctx, ActiveCache); err != nil {
		return s, err
	}
	if s.CurrentVersion, _, err = cs.GetString(ctx, CurrentVersion); err != nil {
		return s, err
	}
	if s.NextVersion, _, err = cs.GetString(ctx, NextVersion); err != nil {
		return s, err
	}
	s.ActivationPending, err = cs.GetBool(ctx, ActivationPending)
	return s, err
}
