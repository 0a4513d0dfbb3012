// Package fetch answers intercepted requests by trying an ordered list of sources
// against the active generation. The first source that succeeds wins.
package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/entry"
	"github.com/aceeric/offliner/impl/metrics"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrPipelineExhausted is returned by Dispatch when every source failed. It wraps
	// the error of the last source.
	ErrPipelineExhausted = errors.New("fetch pipeline exhausted")
	// ErrEndOfPipeline is the error of the terminal source added by OrFail
	ErrEndOfPipeline = errors.New("end of fetch pipeline")
)

// SourceHandler tries to produce a response for a request
type SourceHandler interface {
	Handle(req *http.Request, active blobstore.Bucket) (*entry.Response, error)
}

// SourceHandlerFunc adapts a function to a SourceHandler
type SourceHandlerFunc func(req *http.Request, active blobstore.Bucket) (*entry.Response, error)

func (f SourceHandlerFunc) Handle(req *http.Request, active blobstore.Bucket) (*entry.Response, error) {
	return f(req, active)
}

// Named is implemented by sources that want their name reported with the response
type Named interface {
	Name() string
}

// Pipeline is the ordered list of sources
type Pipeline struct {
	sync.RWMutex
	handlers []SourceHandler
}

// New returns an empty pipeline
func New() *Pipeline {
	return &Pipeline{}
}

// Use appends a source
func (p *Pipeline) Use(h SourceHandler) *Pipeline {
	p.Lock()
	defer p.Unlock()
	p.handlers = append(p.handlers, h)
	return p
}

// OrFail appends a source that always fails
func (p *Pipeline) OrFail() *Pipeline {
	return p.Use(orFail{})
}

// Pipeline returns a copy of the sources in order
func (p *Pipeline) Pipeline() []SourceHandler {
	p.RLock()
	defer p.RUnlock()
	return append([]SourceHandler(nil), p.handlers...)
}

// Dispatch tries each source in order and returns the first successful response. Later
// sources are not invoked once one succeeds. No source is retried.
func (p *Pipeline) Dispatch(req *http.Request, active blobstore.Bucket) (*entry.Response, error) {
	var lastErr error = ErrEndOfPipeline
	for i, h := range p.Pipeline() {
		name := nameOf(h, i)
		resp, err := h.Handle(req, active)
		if err == nil && resp != nil {
			if resp.Source == "" {
				resp.Source = name
			}
			metrics.IncDispatches(resp.Source)
			return resp, nil
		}
		if err == nil {
			err = fmt.Errorf("source %s returned no response", name)
		}
		log.Debugf("source %s could not answer %s: %s", name, req.URL, err)
		lastErr = err
	}
	metrics.IncDispatches("exhausted")
	return nil, fmt.Errorf("%w for %s: %w", ErrPipelineExhausted, req.URL, lastErr)
}

func nameOf(h SourceHandler, i int) string {
	if n, ok := h.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("source-%d", i)
}

type orFail struct{}

func (orFail) Name() string {
	return "fail"
}

func (orFail) Handle(*http.Request, blobstore.Bucket) (*entry.Response, error) {
	return nil, ErrEndOfPipeline
}
