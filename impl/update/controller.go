package update

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/configstore"
	"github.com/aceeric/offliner/impl/generation"
	"github.com/aceeric/offliner/impl/metrics"
	"github.com/aceeric/offliner/impl/notify"

	log "github.com/sirupsen/logrus"
)

// State is the state of the update state machine
type State string

const (
	Idle              State = "idle"
	Checking          State = "checking"
	Evaluating        State = "evaluating"
	Evolving          State = "evolving"
	ActivationPending State = "activation-pending"
	Activating        State = "activating"
	Done              State = "done"
	Failed            State = "failed"
)

// Outcome is how a cycle ended
type Outcome string

const (
	OutcomeNoChange Outcome = "noop"
	OutcomePending  Outcome = "pending"
	OutcomeFailed   Outcome = "failed"
)

// Reinstaller populates a generation from the declared resources
type Reinstaller interface {
	Run(ctx context.Context, target blobstore.Bucket) error
}

// Cycle is the handle of one update cycle. Concurrent triggers share the handle
// of the cycle in flight.
type Cycle struct {
	done    chan struct{}
	outcome Outcome
	version string
	err     error
}

// Wait blocks until the cycle ends or the context is done. It returns the cycle error.
func (cy *Cycle) Wait(ctx context.Context) error {
	select {
	case <-cy.done:
		return cy.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the cycle ends
func (cy *Cycle) Done() <-chan struct{} {
	return cy.done
}

// Result returns the outcome, the remote version found (if any) and the error. Only
// meaningful once Done is closed.
func (cy *Cycle) Result() (Outcome, string, error) {
	return cy.outcome, cy.version, cy.err
}

// Status is a point-in-time view of the controller
type Status struct {
	State          State  `json:"state"`
	Scheduled      bool   `json:"scheduled"`
	AlreadyRunOnce bool   `json:"alreadyRunOnce"`
	InFlight       bool   `json:"inFlight"`
	Period         string `json:"period,omitempty"`
}

// Options are the collaborators of a Controller
type Options struct {
	Config      *Config
	Store       *configstore.ConfigStore
	Generations *generation.Manager
	Reinstaller Reinstaller
	Notifier    notify.Notifier
	// Instance is the instance name, reported in events
	Instance string
	// BaseContext is the context cycles run on. Cycles are detached from whatever
	// triggered them. Defaults to context.Background.
	BaseContext context.Context
}

// Controller runs the update state machine
type Controller struct {
	// mu serializes cycle bodies, activation and bootstrap so the config keys
	// have a single writer
	mu sync.Mutex

	// ctl guards the fields below it
	ctl            sync.Mutex
	cycle          *Cycle
	scheduled      bool
	alreadyRunOnce bool
	stop           chan struct{}
	state          State
	period         Period

	base        context.Context
	cfg         *Config
	store       *configstore.ConfigStore
	gens        *generation.Manager
	reinstaller Reinstaller
	notifier    notify.Notifier
	instance    string
}

// NewController creates a Controller
func NewController(opts Options) *Controller {
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = NewConfig()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.New(notify.Options{})
	}
	return &Controller{
		state:       Idle,
		base:        base,
		cfg:         cfg,
		store:       opts.Store,
		gens:        opts.Generations,
		reinstaller: opts.Reinstaller,
		notifier:    notifier,
		instance:    opts.Instance,
	}
}

// Config returns the update config
func (c *Controller) Config() *Config {
	return c.cfg
}

func (c *Controller) setState(s State) {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	c.state = s
}

// State returns the current state
func (c *Controller) State() State {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	return c.state
}

// Status returns the controller status
func (c *Controller) Status() Status {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	s := Status{
		State:          c.state,
		Scheduled:      c.scheduled,
		AlreadyRunOnce: c.alreadyRunOnce,
		InFlight:       c.cycle != nil,
	}
	if c.scheduled && c.period != (Period{}) {
		s.Period = c.period.String()
	}
	return s
}

// Bootstrap initializes the controller keys on first install: the bootstrap generation is
// populated by the reinstaller and then made active with version ZeroVersion. If the keys
// are already initialized nothing is done and false is returned.
func (c *Controller) Bootstrap(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found, err := c.store.GetString(ctx, configstore.CurrentVersion); err != nil {
		return false, err
	} else if found {
		return false, nil
	}
	gen, err := c.gens.Open(ctx, ZeroVersion)
	if err != nil {
		return false, err
	}
	log.Infof("bootstrapping generation %s", gen.Name())
	if c.reinstaller != nil {
		if err := c.reinstaller.Run(ctx, gen); err != nil {
			return false, fmt.Errorf("bootstrap prefetch failed: %w", err)
		}
	}
	if err := c.gens.Promote(ctx, gen.Name()); err != nil {
		return false, err
	}
	if err := c.store.Set(ctx, configstore.CurrentVersion, ZeroVersion); err != nil {
		return false, err
	}
	if err := c.store.Set(ctx, configstore.ActivationPending, false); err != nil {
		return false, err
	}
	return true, nil
}

// Update starts an update cycle unless one is already in flight, in which case the
// handle of the in-flight cycle is returned.
func (c *Controller) Update(fromInstall bool) *Cycle {
	c.ctl.Lock()
	if c.cycle != nil {
		cy := c.cycle
		c.ctl.Unlock()
		log.Debug("update already in progress")
		return cy
	}
	cy := &Cycle{done: make(chan struct{})}
	c.cycle = cy
	c.ctl.Unlock()
	go c.run(cy, Flags{CalledFromInstall: fromInstall})
	return cy
}

func (c *Controller) run(cy *Cycle, flags Flags) {
	defer func() {
		c.ctl.Lock()
		c.cycle = nil
		c.alreadyRunOnce = true
		// an observer may already have activated the build
		switch c.state {
		case Checking, Evaluating, Evolving:
			c.state = Idle
		}
		c.ctl.Unlock()
		close(cy.done)
	}()
	func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		cy.outcome, cy.version, cy.err = c.cycleBody(c.base, flags)
	}()
	metrics.IncUpdateCycles(string(cy.outcome))
	if cy.err != nil {
		log.Errorf("update cycle failed: %s", cy.err)
	}
	// observers may call back into the controller so mu must not be held here
	if cy.outcome == OutcomePending {
		c.publish(c.base, notify.NewEvent(notify.ActivationPending, c.instance, cy.version))
	}
}

func (c *Controller) cycleBody(ctx context.Context, flags Flags) (Outcome, string, error) {
	impl := c.cfg.Implementation()
	if impl == nil {
		return OutcomeFailed, "", ErrNoImplementation
	}

	c.setState(Checking)
	remote, err := impl.Check(ctx, flags)
	if err != nil {
		return OutcomeFailed, "", fmt.Errorf("%w: %w", ErrCheck, err)
	}

	c.setState(Evaluating)
	current, _, err := c.store.GetString(ctx, configstore.CurrentVersion)
	if err != nil {
		return OutcomeFailed, remote, err
	}
	if !impl.IsNewVersion(current, remote) {
		log.Infof("no update needed, version %s is current", current)
		return OutcomeNoChange, remote, nil
	}
	log.Infof("new version %s found, updating from version %s", remote, current)
	pending, err := c.store.GetBool(ctx, configstore.ActivationPending)
	if err != nil {
		return OutcomeFailed, remote, err
	}
	if pending {
		// the previous build is superseded and must not be activated while this one
		// is built
		if err := c.store.Set(ctx, configstore.ActivationPending, false); err != nil {
			return OutcomeFailed, remote, err
		}
		log.Infof("pending activation superseded by version %s", remote)
	}
	if err := c.store.Set(ctx, configstore.NextVersion, remote); err != nil {
		return OutcomeFailed, remote, err
	}

	c.setState(Evolving)
	active, err := c.gens.OpenActive(ctx)
	if err != nil {
		return OutcomeFailed, remote, fmt.Errorf("%w: %w", ErrEvolve, err)
	}
	if active.Name() == c.gens.NameFor(remote) {
		return OutcomeFailed, remote, fmt.Errorf("%w: version %s names the active generation", ErrEvolve, remote)
	}
	next, err := c.gens.Recreate(ctx, remote)
	if err != nil {
		return OutcomeFailed, remote, fmt.Errorf("%w: %w", ErrEvolve, err)
	}
	reinstall := func(ctx context.Context) error {
		if c.reinstaller == nil {
			return nil
		}
		return c.reinstaller.Run(ctx, next)
	}
	if err := impl.Evolve(ctx, flags, active, next, reinstall); err != nil {
		return OutcomeFailed, remote, fmt.Errorf("%w: %w", ErrEvolve, err)
	}

	if err := c.store.Set(ctx, configstore.ActivationPending, true); err != nil {
		return OutcomeFailed, remote, err
	}
	c.setState(ActivationPending)
	log.Infof("version %s is ready, activation pending", remote)
	return OutcomePending, remote, nil
}

func (c *Controller) publish(ctx context.Context, ev notify.Event) {
	if err := c.notifier.Notify(ctx, ev); err != nil {
		log.Warnf("unable to publish %s: %s", ev.Type, err)
	}
}

// Activate promotes the pending generation, if there is one. Returns true if a
// generation was activated. On failure the prior active generation and version are
// restored, the activation stays pending and nothing is reclaimed. Observers are
// notified without the controller lock held, and reclaim runs after the notification.
func (c *Controller) Activate(ctx context.Context) (bool, error) {
	// the swap must not be abandoned halfway because the caller went away
	ctx = context.WithoutCancel(ctx)
	ev, err := c.activate(ctx)
	if ev == nil {
		return false, err
	}
	c.publish(ctx, *ev)
	if err != nil {
		return false, err
	}
	c.reclaim(ctx)
	return true, nil
}

// activate swaps the pending generation in under the controller lock and returns the
// event to publish, or nil if nothing was pending
func (c *Controller) activate(ctx context.Context) (*notify.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActivation, err)
	}
	if !snap.ActivationPending {
		log.Debug("no activation pending")
		return nil, nil
	}
	c.setState(Activating)
	if err := c.commit(ctx, snap, c.gens.NameFor(snap.NextVersion)); err != nil {
		c.restore(ctx, snap)
		c.setState(Failed)
		metrics.IncActivations("failed")
		ev := notify.NewEvent(notify.ActivationFailed, c.instance, snap.NextVersion)
		ev.Error = err.Error()
		return &ev, fmt.Errorf("%w: %w", ErrActivation, err)
	}
	log.Infof("activated version %s", snap.NextVersion)
	metrics.IncActivations("done")
	c.setState(Done)
	ev := notify.NewEvent(notify.ActivationDone, c.instance, snap.NextVersion)
	return &ev, nil
}

// reclaim deletes every generation except the active one and one still pending
// activation. It reads the keys again under the lock since a cycle may have run
// since the swap.
func (c *Controller) reclaim(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		log.Warnf("generations not reclaimed: %s", err)
		return
	}
	if snap.ActiveCache == "" {
		return
	}
	keep := []string{snap.ActiveCache}
	if snap.ActivationPending && snap.NextVersion != "" {
		keep = append(keep, c.gens.NameFor(snap.NextVersion))
	}
	c.gens.Reclaim(ctx, keep...)
}

func (c *Controller) commit(ctx context.Context, snap configstore.Snapshot, nextName string) error {
	if snap.NextVersion == "" {
		return fmt.Errorf("activation pending with no next version")
	}
	gens, err := c.gens.List(ctx)
	if err != nil {
		return err
	}
	exists := false
	for _, g := range gens {
		exists = exists || g == nextName
	}
	if !exists {
		return fmt.Errorf("generation %s does not exist", nextName)
	}
	if err := c.gens.Promote(ctx, nextName); err != nil {
		return err
	}
	if err := c.store.Set(ctx, configstore.CurrentVersion, snap.NextVersion); err != nil {
		return err
	}
	return c.store.Set(ctx, configstore.ActivationPending, false)
}

func (c *Controller) restore(ctx context.Context, snap configstore.Snapshot) {
	for key, val := range map[string]any{
		configstore.ActiveCache:       snap.ActiveCache,
		configstore.CurrentVersion:    snap.CurrentVersion,
		configstore.ActivationPending: true,
	} {
		if err := c.store.Set(ctx, key, val); err != nil {
			log.Errorf("unable to restore %s after failed activation: %s", key, err)
		}
	}
}

// Schedule starts periodic updates using the period option: one cycle right away and then,
// unless the period is "once", one per period. Calling it again is a no-op until Stop is
// called. A malformed period is logged and nothing is scheduled. Returns the first cycle,
// or nil if none was started.
func (c *Controller) Schedule(fromInstall bool) *Cycle {
	c.ctl.Lock()
	if c.scheduled {
		c.ctl.Unlock()
		return nil
	}
	c.scheduled = true
	period, err := ParsePeriod(c.cfg.Period())
	if err != nil {
		c.ctl.Unlock()
		log.Warnf("periodic updates not scheduled: %s", err)
		return nil
	}
	c.period = period
	if period.Never {
		c.ctl.Unlock()
		return nil
	}
	var stop chan struct{}
	if !period.Once {
		stop = make(chan struct{})
		c.stop = stop
	}
	c.ctl.Unlock()

	log.Info("first update")
	first := c.Update(fromInstall)
	if period.Once {
		return first
	}
	go func() {
		if err := first.Wait(c.base); err != nil && c.base.Err() != nil {
			return
		}
		log.Infof("next update in %s", period.Every)
		ticker := time.NewTicker(period.Every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.base.Done():
				return
			case <-ticker.C:
				log.Infof("periodic update, next in %s", period.Every)
				c.Update(false)
			}
		}
	}()
	return first
}

// Stop stops periodic updates. A cycle in flight is not interrupted.
func (c *Controller) Stop() {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.scheduled = false
}
