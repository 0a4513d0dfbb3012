package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// ChannelObserver queues events on a buffered channel. When the buffer is full the
// event is dropped so a slow reader never stalls the notifier.
type ChannelObserver struct {
	C chan Event
}

// NewChannelObserver creates a ChannelObserver with the passed buffer size
func NewChannelObserver(size int) *ChannelObserver {
	return &ChannelObserver{C: make(chan Event, size)}
}

func (o *ChannelObserver) Notify(_ context.Context, ev Event) error {
	select {
	case o.C <- ev:
	default:
		log.Warnf("observer queue full, dropping event %s", ev.Type)
	}
	return nil
}

// LogObserver logs every event
var LogObserver = ObserverFunc(func(_ context.Context, ev Event) error {
	if ev.Error != "" {
		log.Warnf("event %s version=%s error=%s", ev.Type, ev.Version, ev.Error)
	} else {
		log.Infof("event %s version=%s", ev.Type, ev.Version)
	}
	return nil
})
