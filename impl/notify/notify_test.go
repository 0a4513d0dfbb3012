package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetOutput(io.Discard)
}

func TestDirect(t *testing.T) {
	obs := NewObservers()
	a := NewChannelObserver(4)
	b := NewChannelObserver(4)
	obs.Add(a)
	remove := obs.Add(b)
	n := New(Options{Observers: obs})
	if _, ok := n.(*directNotifier); !ok {
		t.Fatalf("expected direct strategy, got %T", n)
	}
	ev := NewEvent(ActivationDone, "", "v2")
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := <-a.C; got.ID != ev.ID || got.Type != ActivationDone {
		t.Fatalf("unexpected event %+v", got)
	}
	<-b.C
	remove()
	n.Notify(context.Background(), NewEvent(ActivationFailed, "", "v3"))
	if len(b.C) != 0 || len(a.C) != 1 {
		t.Fatalf("removed observer still notified")
	}
}

func TestDirectJoinsObserverErrors(t *testing.T) {
	obs := NewObservers()
	boom := errors.New("boom")
	obs.Add(ObserverFunc(func(context.Context, Event) error { return boom }))
	got := NewChannelObserver(1)
	obs.Add(got)
	err := New(Options{Observers: obs}).Notify(context.Background(), NewEvent(ActivationPending, "", "v1"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected observer error, got %v", err)
	}
	if len(got.C) != 1 {
		t.Fatalf("a failing observer must not stop delivery to others")
	}
}

func TestChannelObserverDrops(t *testing.T) {
	o := NewChannelObserver(1)
	o.Notify(context.Background(), NewEvent(ActivationDone, "", "1"))
	if err := o.Notify(context.Background(), NewEvent(ActivationDone, "", "2")); err != nil {
		t.Fatalf("full queue should not error: %v", err)
	}
	if ev := <-o.C; ev.Version != "1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

// Events published through the broadcast strategy reach observers via Relay
func TestBroadcastHub(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	obs := NewObservers()
	got := NewChannelObserver(1)
	obs.Add(got)
	stop, err := Relay(ctx, hub, "", obs)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	defer stop()
	n := New(Options{Broadcaster: hub})
	if _, ok := n.(*broadcastNotifier); !ok {
		t.Fatalf("expected broadcast strategy, got %T", n)
	}
	ev := NewEvent(ActivationPending, "app", "v9")
	if err := n.Notify(ctx, ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if rcv := <-got.C; rcv.ID != ev.ID || rcv.Instance != "app" || rcv.Version != "v9" {
		t.Fatalf("unexpected event %+v", rcv)
	}
}

func TestHubArgs(t *testing.T) {
	hub := NewHub()
	if _, err := hub.Subscribe(context.Background(), "", func([]byte) {}); !errors.Is(err, errEmptyChannel) {
		t.Fatalf("expected empty channel error, got %v", err)
	}
	if _, err := hub.Subscribe(context.Background(), "c", nil); !errors.Is(err, errNilHandler) {
		t.Fatalf("expected nil handler error, got %v", err)
	}
}

func TestRedisBroadcaster(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer srv.Close()
	ctx := context.Background()
	rb, err := NewRedisBroadcaster("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer rb.Close()

	received := make(chan []byte, 1)
	stop, err := rb.Subscribe(ctx, DefaultChannel, func(b []byte) { received <- b })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()
	ev := NewEvent(ActivationDone, "", "v2")
	if err := New(Options{Broadcaster: rb}).Notify(ctx, ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case b := <-received:
		rcv := Event{}
		if err := json.Unmarshal(b, &rcv); err != nil || rcv.ID != ev.ID {
			t.Fatalf("unexpected payload %s %v", b, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}
}

func TestNATSBroadcasterErrors(t *testing.T) {
	var nilB *NATSBroadcaster
	if err := nilB.Publish(context.Background(), DefaultChannel, nil); !errors.Is(err, errNilBroadcaster) {
		t.Fatalf("expected nil broadcaster error, got %v", err)
	}
	b := &NATSBroadcaster{nc: &nats.Conn{}}
	if err := b.Publish(context.Background(), "", nil); !errors.Is(err, errEmptyChannel) {
		t.Fatalf("expected empty channel error, got %v", err)
	}
	if _, err := b.Subscribe(context.Background(), DefaultChannel, nil); !errors.Is(err, errNilHandler) {
		t.Fatalf("expected nil handler error, got %v", err)
	}
	var nilR *RedisBroadcaster
	if _, err := nilR.Subscribe(context.Background(), DefaultChannel, func([]byte) {}); !errors.Is(err, errNilBroadcaster) {
		t.Fatalf("expected nil broadcaster error, got %v", err)
	}
}
