// Package update detects new remote versions, builds the matching cache generation next to
// the active one, and promotes it on activation. At most one update cycle runs at a time
// per Controller.
package update

import (
	"context"
	"errors"
	"sync"

	"github.com/aceeric/offliner/impl/blobstore"
)

// ZeroVersion is the version tag of the generation created at bootstrap
const ZeroVersion = "$zero$"

var (
	ErrCheck            = errors.New("version check failed")
	ErrEvolve           = errors.New("cache evolution failed")
	ErrActivation       = errors.New("activation failed")
	ErrNoImplementation = errors.New("no update implementation registered")
)

// Flags are passed to the implementation for each cycle
type Flags struct {
	// CalledFromInstall is true for the cycle started by install-time scheduling
	CalledFromInstall bool
}

// ReinstallFunc runs the prefetch pipeline into the generation being built
type ReinstallFunc func(ctx context.Context) error

// Implementation is the pluggable update strategy
type Implementation interface {
	// Check returns the latest remote version tag
	Check(ctx context.Context, flags Flags) (string, error)
	// IsNewVersion reports whether remote should replace local
	IsNewVersion(local, remote string) bool
	// Evolve populates next. It may copy from current, call reinstall, or both.
	Evolve(ctx context.Context, flags Flags, current, next blobstore.Bucket, reinstall ReinstallFunc) error
}

// Option names
const (
	OptEnabled = "enabled"
	OptPeriod  = "period"
)

// Config holds the update implementation and options
type Config struct {
	sync.Mutex
	impl    Implementation
	options map[string]any
}

// NewConfig returns a config with updates disabled
func NewConfig() *Config {
	return &Config{options: map[string]any{OptEnabled: false}}
}

// Use registers the implementation and enables updates. Only one implementation is kept.
func (c *Config) Use(impl Implementation) *Config {
	c.Lock()
	defer c.Unlock()
	c.impl = impl
	c.options[OptEnabled] = true
	return c
}

// Option returns the named option. If a value is passed the option is set first.
func (c *Config) Option(name string, value ...any) any {
	c.Lock()
	defer c.Unlock()
	if len(value) > 0 {
		c.options[name] = value[0]
	}
	return c.options[name]
}

// Implementation returns the registered implementation or nil
func (c *Config) Implementation() Implementation {
	c.Lock()
	defer c.Unlock()
	return c.impl
}

// Enabled returns the enabled option
func (c *Config) Enabled() bool {
	enabled, _ := c.Option(OptEnabled).(bool)
	return enabled
}

// Period returns the raw period option
func (c *Config) Period() any {
	return c.Option(OptPeriod)
}
