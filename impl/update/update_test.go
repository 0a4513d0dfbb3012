package update

import (
	"context"
	"errors"
	"io"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/blobstore/memstore"
	"github.com/aceeric/offliner/impl/configstore"
	"github.com/aceeric/offliner/impl/generation"
	"github.com/aceeric/offliner/impl/notify"

	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetOutput(io.Discard)
}

type fakeImpl struct {
	mu        sync.Mutex
	checks    int
	evolves   int
	flags     []Flags
	remote    string
	checkErr  error
	evolveErr error
	gate      chan struct{}
	// newer replaces the default "any different tag is new" comparison
	newer func(local, remote string) bool
}

func (f *fakeImpl) Check(ctx context.Context, flags Flags) (string, error) {
	f.mu.Lock()
	f.checks++
	f.flags = append(f.flags, flags)
	gate, remote, err := f.gate, f.remote, f.checkErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return remote, err
}

func (f *fakeImpl) IsNewVersion(local, remote string) bool {
	if f.newer != nil {
		return f.newer(local, remote)
	}
	return local != remote
}

func (f *fakeImpl) Evolve(ctx context.Context, flags Flags, current, next blobstore.Bucket, reinstall ReinstallFunc) error {
	f.mu.Lock()
	f.evolves++
	err := f.evolveErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return reinstall(ctx)
}

func (f *fakeImpl) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks, f.evolves
}

func (f *fakeImpl) set(remote string, checkErr, evolveErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote, f.checkErr, f.evolveErr = remote, checkErr, evolveErr
}

// fakeReinstaller marks each generation it populates
type fakeReinstaller struct{}

func (fakeReinstaller) Run(ctx context.Context, target blobstore.Bucket) error {
	return target.Put(ctx, "https://h/index.html", []byte(target.Name()))
}

type fixture struct {
	observers *notify.Observers
	store     *memstore.MemStore
	cs     *configstore.ConfigStore
	gens   *generation.Manager
	impl   *fakeImpl
	events *notify.ChannelObserver
	ctl    *Controller
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	f := &fixture{store: memstore.New(), impl: &fakeImpl{}, events: notify.NewChannelObserver(16)}
	cs, err := configstore.Open(ctx, f.store, "")
	if err != nil {
		t.Fatalf("open config store: %v", err)
	}
	f.cs = cs
	f.gens = generation.New(f.store, cs, "")
	obs := notify.NewObservers()
	obs.Add(f.events)
	f.observers = obs
	cfg := NewConfig().Use(f.impl)
	cfg.Option(OptPeriod, "1h")
	f.ctl = NewController(Options{
		Config:      cfg,
		Store:       cs,
		Generations: f.gens,
		Reinstaller: fakeReinstaller{},
		Notifier:    notify.New(notify.Options{Observers: obs}),
	})
	return f
}

func (f *fixture) bootstrap(t *testing.T) {
	if ok, err := f.ctl.Bootstrap(context.Background()); err != nil || !ok {
		t.Fatalf("bootstrap: %t %v", ok, err)
	}
}

func (f *fixture) snapshot(t *testing.T) configstore.Snapshot {
	s, err := f.cs.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return s
}

func (f *fixture) buckets(t *testing.T) []string {
	names, err := f.store.ListBucketNames(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return names
}

func (f *fixture) nextEvent(t *testing.T) notify.Event {
	select {
	case ev := <-f.events.C:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return notify.Event{}
}

func wait(t *testing.T, cy *Cycle) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cy.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timed out waiting for cycle")
	}
	return err
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   any
		want Period
		ok   bool
	}{
		{"never", Period{Never: true}, true},
		{"once", Period{Once: true}, true},
		{"30s", Period{Every: 30 * time.Second}, true},
		{"5m", Period{Every: 5 * time.Minute}, true},
		{"1.5h", Period{Every: 90 * time.Minute}, true},
		{1500, Period{Every: 1500 * time.Millisecond}, true},
		{float64(250), Period{Every: 250 * time.Millisecond}, true},
		{2 * time.Second, Period{Every: 2 * time.Second}, true},
		{"5000", Period{}, false},
		{"10d", Period{}, false},
		{"xs", Period{}, false},
		{"0s", Period{}, false},
		{"-5m", Period{}, false},
		{"NaNs", Period{}, false},
		{"Infs", Period{}, false},
		{"-Infh", Period{}, false},
		{"1e300h", Period{}, false},
		{"1e-12s", Period{}, false},
		{math.NaN(), Period{}, false},
		{math.Inf(1), Period{}, false},
		{float64(math.MaxInt64), Period{}, false},
		{uint64(math.MaxUint64), Period{}, false},
		{"", Period{}, false},
		{0, Period{}, false},
		{nil, Period{}, false},
		{true, Period{}, false},
	}
	for _, tst := range tests {
		got, err := ParsePeriod(tst.in)
		if (err == nil) != tst.ok {
			t.Errorf("ParsePeriod(%v) error = %v", tst.in, err)
			continue
		}
		if got != tst.want {
			t.Errorf("ParsePeriod(%v) = %+v, want %+v", tst.in, got, tst.want)
		}
	}
}

func TestConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg.Enabled() || cfg.Implementation() != nil {
		t.Fatalf("new config should be disabled")
	}
	impl := &fakeImpl{}
	cfg.Use(impl)
	if !cfg.Enabled() || cfg.Implementation() != impl {
		t.Fatalf("Use should register and enable")
	}
	if v := cfg.Option(OptPeriod, "2m"); v != "2m" {
		t.Fatalf("unexpected option %v", v)
	}
	if cfg.Period() != "2m" {
		t.Fatalf("unexpected period %v", cfg.Period())
	}
	cfg.Option(OptEnabled, false)
	if cfg.Enabled() {
		t.Fatalf("option should disable")
	}
}

func TestFreshBootstrap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	s := f.snapshot(t)
	want := configstore.Snapshot{ActiveCache: "cache-" + ZeroVersion, CurrentVersion: ZeroVersion}
	if s != want {
		t.Fatalf("got %+v want %+v", s, want)
	}
	active, _ := f.gens.OpenActive(ctx)
	if v, err := active.Get(ctx, "https://h/index.html"); err != nil || string(v) != "cache-$zero$" {
		t.Fatalf("bootstrap generation not populated: %q %v", v, err)
	}
	if ok, err := f.ctl.Bootstrap(ctx); ok || err != nil {
		t.Fatalf("second bootstrap should be a no-op: %t %v", ok, err)
	}
}

func TestNoImplementation(t *testing.T) {
	f := newFixture(t)
	f.ctl.cfg = NewConfig()
	if err := wait(t, f.ctl.Update(false)); !errors.Is(err, ErrNoImplementation) {
		t.Fatalf("expected ErrNoImplementation, got %v", err)
	}
}

// A new remote version is built next to the active generation and left pending
func TestNewVersion(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	f.impl.set("v2", nil, nil)
	cy := f.ctl.Update(true)
	if err := wait(t, cy); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if outcome, version, _ := cy.Result(); outcome != OutcomePending || version != "v2" {
		t.Fatalf("unexpected result %s %s", outcome, version)
	}
	s := f.snapshot(t)
	want := configstore.Snapshot{ActiveCache: "cache-$zero$", CurrentVersion: ZeroVersion, NextVersion: "v2", ActivationPending: true}
	if s != want {
		t.Fatalf("got %+v want %+v", s, want)
	}
	if !slices.Contains(f.buckets(t), "cache-v2") {
		t.Fatalf("next generation not created: %v", f.buckets(t))
	}
	if ev := f.nextEvent(t); ev.Type != notify.ActivationPending || ev.Version != "v2" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if f.ctl.State() != ActivationPending {
		t.Fatalf("unexpected state %s", f.ctl.State())
	}
	if !f.impl.flags[0].CalledFromInstall {
		t.Fatalf("flags not passed to implementation")
	}
}

// After activation only the new generation and the config bucket remain
func TestActivation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.impl.set("v2", nil, nil)
	wait(t, f.ctl.Update(false))
	f.nextEvent(t)

	ok, err := f.ctl.Activate(ctx)
	if err != nil || !ok {
		t.Fatalf("activate: %t %v", ok, err)
	}
	s := f.snapshot(t)
	want := configstore.Snapshot{ActiveCache: "cache-v2", CurrentVersion: "v2", NextVersion: "v2"}
	if s != want {
		t.Fatalf("got %+v want %+v", s, want)
	}
	if got := f.buckets(t); !slices.Equal(got, []string{configstore.BucketName, "cache-v2"}) {
		t.Fatalf("unexpected buckets %v", got)
	}
	if ev := f.nextEvent(t); ev.Type != notify.ActivationDone || ev.Version != "v2" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ok, err := f.ctl.Activate(ctx); ok || err != nil {
		t.Fatalf("nothing should be pending: %t %v", ok, err)
	}
}

// Only a true new-version transition evolves
func TestNoChange(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	f.impl.set(ZeroVersion, nil, nil)
	cy := f.ctl.Update(false)
	if err := wait(t, cy); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if outcome, _, _ := cy.Result(); outcome != OutcomeNoChange {
		t.Fatalf("unexpected outcome %s", outcome)
	}
	if _, evolves := f.impl.counts(); evolves != 0 {
		t.Fatalf("evolve called %d times", evolves)
	}
	if s := f.snapshot(t); s.NextVersion != "" || s.ActivationPending {
		t.Fatalf("state changed on no-op: %+v", s)
	}
	if f.ctl.State() != Idle {
		t.Fatalf("unexpected state %s", f.ctl.State())
	}
}

// Concurrent triggers share the cycle in flight and cause one check
func TestSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	gate := make(chan struct{})
	f.impl.gate = gate
	f.impl.set("v2", nil, nil)
	first := f.ctl.Update(false)
	cycles := make(chan *Cycle, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cycles <- f.ctl.Update(false)
		}()
	}
	wg.Wait()
	close(cycles)
	for cy := range cycles {
		if cy != first {
			t.Fatalf("trigger during a cycle started another cycle")
		}
	}
	if !f.ctl.Status().InFlight {
		t.Fatalf("cycle should be in flight")
	}
	close(gate)
	wait(t, first)
	if checks, _ := f.impl.counts(); checks != 1 {
		t.Fatalf("expected 1 check, got %d", checks)
	}
	// the guard is released once the cycle ends
	f.impl.set(ZeroVersion, nil, nil)
	if second := f.ctl.Update(false); second == first {
		t.Fatalf("guard not released")
	}
}

func TestCheckFailure(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	before := f.snapshot(t)
	f.impl.set("", errors.New("offline"), nil)
	if err := wait(t, f.ctl.Update(false)); !errors.Is(err, ErrCheck) {
		t.Fatalf("expected ErrCheck, got %v", err)
	}
	if after := f.snapshot(t); after != before {
		t.Fatalf("check failure changed state: %+v", after)
	}
	f.impl.set("v2", nil, nil)
	if err := wait(t, f.ctl.Update(false)); err != nil {
		t.Fatalf("next cycle should run: %v", err)
	}
}

// A failed build never leaves a superseded generation marked pending
func TestEvolveFailureSupersedesPending(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	f.impl.set("v2", nil, nil)
	wait(t, f.ctl.Update(false))
	f.impl.set("v3", nil, errors.New("disk full"))
	if err := wait(t, f.ctl.Update(false)); !errors.Is(err, ErrEvolve) {
		t.Fatalf("expected ErrEvolve, got %v", err)
	}
	s := f.snapshot(t)
	if s.ActivationPending || s.NextVersion != "v3" || s.ActiveCache != "cache-$zero$" {
		t.Fatalf("unexpected state %+v", s)
	}
	if ok, err := f.ctl.Activate(context.Background()); ok || err != nil {
		t.Fatalf("nothing should be activated: %t %v", ok, err)
	}
}

func TestActivationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.impl.set("v2", nil, nil)
	wait(t, f.ctl.Update(false))
	f.nextEvent(t)
	f.store.DeleteBucket(ctx, "cache-v2")
	f.store.OpenBucket(ctx, "cache-old")

	ok, err := f.ctl.Activate(ctx)
	if ok || !errors.Is(err, ErrActivation) {
		t.Fatalf("expected ErrActivation, got %t %v", ok, err)
	}
	s := f.snapshot(t)
	if s.ActiveCache != "cache-$zero$" || s.CurrentVersion != ZeroVersion || !s.ActivationPending {
		t.Fatalf("state not restored: %+v", s)
	}
	if !slices.Contains(f.buckets(t), "cache-old") {
		t.Fatalf("failed activation must not reclaim")
	}
	if ev := f.nextEvent(t); ev.Type != notify.ActivationFailed || ev.Error == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if f.ctl.State() != Failed {
		t.Fatalf("unexpected state %s", f.ctl.State())
	}
}

// Scheduling twice starts one cycle and one check
func TestScheduleIdempotent(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	f.impl.set(ZeroVersion, nil, nil)
	first := f.ctl.Schedule(true)
	second := f.ctl.Schedule(true)
	defer f.ctl.Stop()
	if first == nil || second != nil {
		t.Fatalf("expected one cycle, got %v %v", first, second)
	}
	wait(t, first)
	if checks, _ := f.impl.counts(); checks != 1 {
		t.Fatalf("expected 1 check, got %d", checks)
	}
	if st := f.ctl.Status(); !st.Scheduled || !st.AlreadyRunOnce || st.Period != "1h0m0s" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestScheduleNeverAndMalformed(t *testing.T) {
	for _, period := range []any{"never", "10x", nil, "NaNs", "Infs", "1e300h", math.NaN()} {
		f := newFixture(t)
		f.ctl.cfg.Option(OptPeriod, period)
		if cy := f.ctl.Schedule(false); cy != nil {
			t.Fatalf("period %v should not start a cycle", period)
		}
		if !f.ctl.Status().Scheduled {
			t.Fatalf("scheduled should be set for %v", period)
		}
	}
}

func TestScheduleOnce(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	f.impl.set(ZeroVersion, nil, nil)
	f.ctl.cfg.Option(OptPeriod, "once")
	wait(t, f.ctl.Schedule(false))
	time.Sleep(50 * time.Millisecond)
	if checks, _ := f.impl.counts(); checks != 1 {
		t.Fatalf("expected 1 check, got %d", checks)
	}
}

func TestSchedulePeriodic(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	f.impl.set(ZeroVersion, nil, nil)
	f.ctl.cfg.Option(OptPeriod, 10)
	f.ctl.Schedule(false)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if checks, _ := f.impl.counts(); checks >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("periodic updates did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.ctl.Stop()
	// allow a tick already in progress to finish
	time.Sleep(50 * time.Millisecond)
	stopped, _ := f.impl.counts()
	time.Sleep(100 * time.Millisecond)
	if checks, _ := f.impl.counts(); checks != stopped {
		t.Fatalf("updates continued after Stop: %d then %d", stopped, checks)
	}
}

// An observer that activates as soon as a build is pending runs without blocking the
// cycle, and the next trigger starts a fresh cycle
func TestObserverActivatesOnPending(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	activated := make(chan error, 4)
	f.observers.Add(notify.ObserverFunc(func(ctx context.Context, ev notify.Event) error {
		if ev.Type == notify.ActivationPending {
			_, err := f.ctl.Activate(ctx)
			activated <- err
		}
		return nil
	}))
	f.impl.set("v2", nil, nil)
	if err := wait(t, f.ctl.Update(false)); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	select {
	case err := <-activated:
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("observer did not activate")
	}
	want := configstore.Snapshot{ActiveCache: "cache-v2", CurrentVersion: "v2", NextVersion: "v2"}
	if s := f.snapshot(t); s != want {
		t.Fatalf("got %+v want %+v", s, want)
	}
	if got := f.buckets(t); !slices.Equal(got, []string{configstore.BucketName, "cache-v2"}) {
		t.Fatalf("unexpected buckets %v", got)
	}
	if f.ctl.State() != Done {
		t.Fatalf("unexpected state %s", f.ctl.State())
	}
	f.impl.set("v3", nil, nil)
	if err := wait(t, f.ctl.Update(false)); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if checks, evolves := f.impl.counts(); checks != 2 || evolves != 2 {
		t.Fatalf("expected a second full cycle, got %d checks %d evolves", checks, evolves)
	}
}

// An observer that activates on a broadcast through the in-process hub does not
// deadlock either
func TestHubObserverActivates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hub := notify.NewHub()
	f.ctl.notifier = notify.New(notify.Options{Broadcaster: hub})
	stop, err := notify.Relay(ctx, hub, notify.DefaultChannel, f.observers)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	defer stop()
	f.bootstrap(t)
	done := make(chan struct{})
	f.observers.Add(notify.ObserverFunc(func(ctx context.Context, ev notify.Event) error {
		switch ev.Type {
		case notify.ActivationPending:
			f.ctl.Activate(ctx)
		case notify.ActivationDone:
			close(done)
		}
		return nil
	}))
	f.impl.set("v2", nil, nil)
	wait(t, f.ctl.Update(false))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("activation through the hub did not complete")
	}
}

// Equal or older remote tags are no-ops: no evolve, no key writes, no event
func TestRegressingVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.impl.newer = func(local, remote string) bool { return remote > local }
	f.bootstrap(t)
	f.impl.set("v3", nil, nil)
	wait(t, f.ctl.Update(false))
	if ev := f.nextEvent(t); ev.Type != notify.ActivationPending {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ok, err := f.ctl.Activate(ctx); !ok || err != nil {
		t.Fatalf("activate: %t %v", ok, err)
	}
	f.nextEvent(t)
	before := f.snapshot(t)
	for _, remote := range []string{"v2", "v3", "v1"} {
		f.impl.set(remote, nil, nil)
		cy := f.ctl.Update(false)
		if err := wait(t, cy); err != nil {
			t.Fatalf("%s: %v", remote, err)
		}
		if outcome, _, _ := cy.Result(); outcome != OutcomeNoChange {
			t.Fatalf("%s: unexpected outcome %s", remote, outcome)
		}
	}
	if _, evolves := f.impl.counts(); evolves != 1 {
		t.Fatalf("expected only the first evolve, got %d", evolves)
	}
	if after := f.snapshot(t); after != before {
		t.Fatalf("keys changed: %+v then %+v", before, after)
	}
	select {
	case ev := <-f.events.C:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
