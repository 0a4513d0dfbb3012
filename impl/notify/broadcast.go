package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

var (
	errNilBroadcaster = errors.New("broadcaster not initialized")
	errEmptyChannel   = errors.New("empty channel")
	errNilHandler     = errors.New("nil handler")
)

// Broadcaster is a shared publish/subscribe channel
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe calls fn with each message published on the channel until the
	// returned function is called
	Subscribe(ctx context.Context, channel string, fn func([]byte)) (func(), error)
	Close() error
}

func checkArgs(channel string, fn func([]byte)) error {
	if channel == "" {
		return errEmptyChannel
	}
	if fn == nil {
		return errNilHandler
	}
	return nil
}

// Hub is an in-process Broadcaster
type Hub struct {
	sync.Mutex
	next int
	subs map[string]map[int]func([]byte)
}

// NewHub returns an empty Hub
func NewHub() *Hub {
	return &Hub{subs: map[string]map[int]func([]byte){}}
}

func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errEmptyChannel
	}
	h.Lock()
	fns := []func([]byte){}
	for _, fn := range h.subs[channel] {
		fns = append(fns, fn)
	}
	h.Unlock()
	for _, fn := range fns {
		fn(append([]byte(nil), payload...))
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, channel string, fn func([]byte)) (func(), error) {
	if err := checkArgs(channel, fn); err != nil {
		return nil, err
	}
	h.Lock()
	defer h.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = map[int]func([]byte){}
	}
	id := h.next
	h.next++
	h.subs[channel][id] = fn
	return func() {
		h.Lock()
		defer h.Unlock()
		delete(h.subs[channel], id)
	}, nil
}

func (h *Hub) Close() error {
	return nil
}

// RedisBroadcaster broadcasts over Redis pub/sub
type RedisBroadcaster struct {
	client *redis.Client
}

// NewRedisBroadcaster connects to the Redis server at the passed URL
func NewRedisBroadcaster(url string) (*RedisBroadcaster, error) {
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	return &RedisBroadcaster{client: client}, nil
}

func (r *RedisBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	if r == nil || r.client == nil {
		return errNilBroadcaster
	}
	if channel == "" {
		return errEmptyChannel
	}
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *RedisBroadcaster) Subscribe(ctx context.Context, channel string, fn func([]byte)) (func(), error) {
	if r == nil || r.client == nil {
		return nil, errNilBroadcaster
	}
	if err := checkArgs(channel, fn); err != nil {
		return nil, err
	}
	sub := r.client.Subscribe(ctx, channel)
	// wait for the subscription to be confirmed so no message published after
	// Subscribe returns is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("unable to subscribe to %s: %w", channel, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			fn([]byte(msg.Payload))
		}
	}()
	return func() {
		sub.Close()
		<-done
	}, nil
}

func (r *RedisBroadcaster) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// NATSBroadcaster broadcasts over NATS core subjects
type NATSBroadcaster struct {
	nc *nats.Conn
}

// NewNATSBroadcaster connects to the NATS server at the passed URL
func NewNATSBroadcaster(url string) (*NATSBroadcaster, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Name("offliner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warnf("disconnected from NATS: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to NATS at %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to nats: %w", err)
	}
	return &NATSBroadcaster{nc: nc}, nil
}

func (n *NATSBroadcaster) Publish(_ context.Context, channel string, payload []byte) error {
	if n == nil || n.nc == nil {
		return errNilBroadcaster
	}
	if channel == "" {
		return errEmptyChannel
	}
	return n.nc.Publish(channel, payload)
}

func (n *NATSBroadcaster) Subscribe(_ context.Context, channel string, fn func([]byte)) (func(), error) {
	if n == nil || n.nc == nil {
		return nil, errNilBroadcaster
	}
	if err := checkArgs(channel, fn); err != nil {
		return nil, err
	}
	sub, err := n.nc.Subscribe(channel, func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debugf("nats unsubscribe: %s", err)
		}
	}, nil
}

func (n *NATSBroadcaster) Close() error {
	if n != nil && n.nc != nil {
		n.nc.Close()
	}
	return nil
}
