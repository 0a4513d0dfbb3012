// Package trigger watches a file for out-of-band messages. Writing "update" or "activate"
// to the file posts that message to the running server. The file is removed once handled.
package trigger

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultMessage is posted when the trigger file is empty
const DefaultMessage = "update"

var waitFor = 100 * time.Millisecond

// Handler receives the message read from the trigger file
type Handler func(msg string) error

// Watcher watches one trigger file
type Watcher struct {
	path    string
	handler Handler
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
	done    chan struct{}
}

// Watch starts watching the passed file. The parent directory must exist. The file
// itself need not.
//
// fsnotify can emit several events while a single file is written. They are deduplicated
// with a timer that is reset on each event so the handler runs once, shortly after the
// last one. See https://github.com/fsnotify/fsnotify/blob/main/cmd/fsnotify/dedup.go
func Watch(path string, handler Handler) (*Watcher, error) {
	path = filepath.Clean(path)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:    path,
		handler: handler,
		watcher: fw,
		done:    make(chan struct{}),
	}
	w.timer = time.AfterFunc(math.MaxInt64, w.handle)
	w.timer.Stop()
	log.Infof("watching trigger file %s", path)
	go w.loop()
	// a file that was written while the server was down is handled now
	if _, err := os.Stat(path); err == nil {
		w.timer.Reset(waitFor)
	}
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("trigger watcher error: %s", err)
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.mu.Lock()
			w.timer.Reset(waitFor)
			w.mu.Unlock()
		}
	}
}

// handle reads and removes the trigger file and then calls the handler. A missing
// file means a duplicate event for a file that was already handled.
func (w *Watcher) handle() {
	b, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debugf("trigger file not found (already processed): %s", w.path)
		return
	} else if err != nil {
		log.Errorf("unable to read trigger file %s: %s", w.path, err)
		return
	}
	if err := os.Remove(w.path); err != nil {
		log.Errorf("error attempting to remove trigger file %s: %s", w.path, err)
	}
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = DefaultMessage
	}
	log.Infof("trigger file posted message %q", msg)
	if err := w.handler(msg); err != nil {
		log.Errorf("trigger message %q failed: %s", msg, err)
	}
}

// Close stops watching and waits for the event loop to end
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.timer.Stop()
	w.mu.Unlock()
	err := w.watcher.Close()
	<-w.done
	return err
}
