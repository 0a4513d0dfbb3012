// Package notify reports update lifecycle events to observers. Two strategies exist: when a
// Broadcaster is configured every event is published on a shared channel, otherwise each
// registered Observer is called directly.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aceeric/offliner/impl/metrics"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultChannel is the broadcast channel name
const DefaultChannel = "offliner-channel"

// Type is the wire type of an event
type Type string

const (
	ActivationPending Type = "offliner:activationPending"
	ActivationDone    Type = "offliner:activationDone"
	ActivationFailed  Type = "offliner:activationFailed"
)

// Event is a lifecycle event
type Event struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	Instance string    `json:"instance,omitempty"`
	Version  string    `json:"version,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// NewEvent creates an event with a fresh id
func NewEvent(typ Type, instance, version string) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     typ,
		Instance: instance,
		Version:  version,
		Time:     time.Now().UTC(),
	}
}

// Notifier publishes events
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Observer receives events
type Observer interface {
	Notify(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to an Observer
type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Observers is the registry of observers used by the direct strategy
type Observers struct {
	sync.Mutex
	next int
	obs  map[int]Observer
}

// NewObservers returns an empty registry
func NewObservers() *Observers {
	return &Observers{obs: map[int]Observer{}}
}

// Add registers an observer and returns a function that removes it
func (o *Observers) Add(obs Observer) func() {
	o.Lock()
	defer o.Unlock()
	id := o.next
	o.next++
	o.obs[id] = obs
	return func() {
		o.Lock()
		defer o.Unlock()
		delete(o.obs, id)
	}
}

// Len returns the number of registered observers
func (o *Observers) Len() int {
	o.Lock()
	defer o.Unlock()
	return len(o.obs)
}

// Deliver calls every registered observer. Observer failures are joined.
func (o *Observers) Deliver(ctx context.Context, ev Event) error {
	o.Lock()
	list := make([]Observer, 0, len(o.obs))
	for _, obs := range o.obs {
		list = append(list, obs)
	}
	o.Unlock()
	var errs []error
	for _, obs := range list {
		if err := obs.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options selects the notification strategy
type Options struct {
	// Broadcaster, if set, selects the broadcast strategy
	Broadcaster Broadcaster
	// Channel is the broadcast channel, DefaultChannel if empty
	Channel string
	// Observers is used by the direct strategy
	Observers *Observers
}

// New returns the Notifier for the passed options. The strategy is chosen once here.
func New(opts Options) Notifier {
	if opts.Broadcaster != nil {
		channel := opts.Channel
		if channel == "" {
			channel = DefaultChannel
		}
		return &broadcastNotifier{b: opts.Broadcaster, channel: channel}
	}
	obs := opts.Observers
	if obs == nil {
		obs = NewObservers()
	}
	return &directNotifier{obs: obs}
}

type broadcastNotifier struct {
	b       Broadcaster
	channel string
}

func (n *broadcastNotifier) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	metrics.IncNotifications(string(ev.Type))
	if err := n.b.Publish(ctx, n.channel, b); err != nil {
		return fmt.Errorf("unable to broadcast %s: %w", ev.Type, err)
	}
	return nil
}

type directNotifier struct {
	obs *Observers
}

func (n *directNotifier) Notify(ctx context.Context, ev Event) error {
	metrics.IncNotifications(string(ev.Type))
	return n.obs.Deliver(ctx, ev)
}

// Relay subscribes to the broadcast channel and delivers every received event to the
// observers. This is how observers in this process see events when the broadcast
// strategy is in use. Call the returned function to stop relaying.
func Relay(ctx context.Context, b Broadcaster, channel string, obs *Observers) (func(), error) {
	if channel == "" {
		channel = DefaultChannel
	}
	return b.Subscribe(ctx, channel, func(payload []byte) {
		ev := Event{}
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warnf("ignoring malformed message on %s: %s", channel, err)
			return
		}
		if err := obs.Deliver(ctx, ev); err != nil {
			log.Warnf("observer error delivering %s: %s", ev.Type, err)
		}
	})
}
