// Package offliner ties the stores, pipelines, notifier and update controller into the
// object a host drives: install it once, route intercepted requests to Fetch, and call
// Activate or ProcessMessage when the host is told to.
package offliner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/configstore"
	"github.com/aceeric/offliner/impl/entry"
	"github.com/aceeric/offliner/impl/fetch"
	"github.com/aceeric/offliner/impl/generation"
	"github.com/aceeric/offliner/impl/notify"
	"github.com/aceeric/offliner/impl/prefetch"
	"github.com/aceeric/offliner/impl/update"

	log "github.com/sirupsen/logrus"
)

// Messages accepted by ProcessMessage
const (
	MsgActivate = "activate"
	MsgUpdate   = "update"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotGet         = errors.New("only GET requests go through the fetch pipeline")
)

// Options configure an Offliner
type Options struct {
	// Name namespaces config keys and generation names. May be empty.
	Name  string
	Store blobstore.Store
	// Broadcaster, if set, selects broadcast notification
	Broadcaster notify.Broadcaster
	Channel     string
	// ReclaimOwnOnly leaves the generations of other instances alone on reclaim
	ReclaimOwnOnly bool
	// BaseContext is the context update cycles run on
	BaseContext context.Context
}

// Offliner is the facade over the offline cache
type Offliner struct {
	name      string
	store     blobstore.Store
	cfg       *configstore.ConfigStore
	gens      *generation.Manager
	prefetch  *prefetch.Pipeline
	fetch     *fetch.Pipeline
	observers *notify.Observers
	ctl       *update.Controller
	stopRelay func()
	startOnce sync.Once
	startErr  error
}

// Status is the combined view reported to operators
type Status struct {
	Name        string               `json:"name,omitempty"`
	Controller  update.Status        `json:"controller"`
	Keys        configstore.Snapshot `json:"keys"`
	Generations []string             `json:"generations"`
	Enabled     bool                 `json:"updatesEnabled"`
}

// New creates an Offliner over the passed store
func New(ctx context.Context, opts Options) (*Offliner, error) {
	if opts.Store == nil {
		return nil, errors.New("a blob store is required")
	}
	cfg, err := configstore.Open(ctx, opts.Store, opts.Name)
	if err != nil {
		return nil, err
	}
	genOpts := []generation.Option{}
	if opts.ReclaimOwnOnly {
		genOpts = append(genOpts, generation.ReclaimOwnOnly())
	}
	o := &Offliner{
		name:      opts.Name,
		store:     opts.Store,
		cfg:       cfg,
		gens:      generation.New(opts.Store, cfg, opts.Name, genOpts...),
		prefetch:  prefetch.New(),
		fetch:     fetch.New(),
		observers: notify.NewObservers(),
	}
	if opts.Broadcaster != nil {
		stop, err := notify.Relay(ctx, opts.Broadcaster, opts.Channel, o.observers)
		if err != nil {
			return nil, fmt.Errorf("unable to subscribe to notifications: %w", err)
		}
		o.stopRelay = stop
	}
	o.ctl = update.NewController(update.Options{
		Config:      update.NewConfig(),
		Store:       cfg,
		Generations: o.gens,
		Reinstaller: o.prefetch,
		Notifier: notify.New(notify.Options{
			Broadcaster: opts.Broadcaster,
			Channel:     opts.Channel,
			Observers:   o.observers,
		}),
		Instance:    opts.Name,
		BaseContext: opts.BaseContext,
	})
	return o, nil
}

// PrefetchConfig returns the prefetch pipeline for registering fetchers and resources
func (o *Offliner) PrefetchConfig() *prefetch.Pipeline {
	return o.prefetch
}

// FetchConfig returns the fetch pipeline for registering sources
func (o *Offliner) FetchConfig() *fetch.Pipeline {
	return o.fetch
}

// UpdateConfig returns the update configuration
func (o *Offliner) UpdateConfig() *update.Config {
	return o.ctl.Config()
}

// Controller returns the update controller
func (o *Offliner) Controller() *update.Controller {
	return o.ctl
}

// Generations returns the cache version manager
func (o *Offliner) Generations() *generation.Manager {
	return o.gens
}

// Observe registers an observer of lifecycle events and returns a function removing it
func (o *Offliner) Observe(obs notify.Observer) func() {
	return o.observers.Add(obs)
}

// Install bootstraps the offline cache on first run: the declared resources are prefetched
// into the bootstrap generation. If a previous run already did that, periodic updates are
// scheduled instead (when enabled).
func (o *Offliner) Install(ctx context.Context) error {
	bootstrapped, err := o.ctl.Bootstrap(ctx)
	if err != nil {
		return err
	}
	if bootstrapped {
		log.Info("offliner installed")
		return nil
	}
	if o.UpdateConfig().Enabled() {
		o.ctl.Schedule(true)
	}
	return nil
}

// Activate promotes a pending generation, if any
func (o *Offliner) Activate(ctx context.Context) (bool, error) {
	return o.ctl.Activate(ctx)
}

// Start runs Install and then Activate, once. Later calls return the first result.
func (o *Offliner) Start(ctx context.Context) error {
	o.startOnce.Do(func() {
		if err := o.Install(ctx); err != nil {
			o.startErr = err
			return
		}
		if _, err := o.Activate(ctx); err != nil {
			log.Warnf("activation at start failed: %s", err)
		}
		log.Info("offliner activated")
	})
	return o.startErr
}

// Fetch answers an intercepted GET request through the fetch pipeline against the active
// generation. The request URL must be absolute. The first fetch schedules periodic updates
// when they are enabled.
func (o *Offliner) Fetch(req *http.Request) (*entry.Response, error) {
	if req.Method != http.MethodGet {
		return nil, ErrNotGet
	}
	if o.UpdateConfig().Enabled() {
		o.ctl.Schedule(false)
	}
	// with no active generation, or one reclaimed by a concurrent swap, the cache
	// source fails and the rest of the pipeline answers
	active, err := o.gens.OpenActive(req.Context())
	if err != nil && !errors.Is(err, generation.ErrNoActive) && !errors.Is(err, blobstore.ErrBucketGone) {
		return nil, err
	}
	return o.fetch.Dispatch(req, active)
}

// ProcessMessage handles an out-of-band message: "activate" or "update"
func (o *Offliner) ProcessMessage(ctx context.Context, msg string) error {
	switch msg {
	case MsgActivate:
		_, err := o.Activate(ctx)
		return err
	case MsgUpdate:
		o.ctl.Update(false)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownMessage, msg)
}

// Status reports the controller state, the config keys and the generations
func (o *Offliner) Status(ctx context.Context) (Status, error) {
	keys, err := o.cfg.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	gens, err := o.gens.List(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Name:        o.name,
		Controller:  o.ctl.Status(),
		Keys:        keys,
		Generations: gens,
		Enabled:     o.UpdateConfig().Enabled(),
	}, nil
}

// Close stops periodic updates and notification relaying. The store is not closed.
func (o *Offliner) Close() {
	o.ctl.Stop()
	if o.stopRelay != nil {
		o.stopRelay()
	}
}
