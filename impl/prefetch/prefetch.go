// Package prefetch populates a cache generation with the declared resource set. Resources
// are typed; each type is handled by one registered Fetcher. Running the pipeline calls
// the fetchers one after the other, in registration order, each with the resources of its
// type.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aceeric/offliner/impl/blobstore"

	log "github.com/sirupsen/logrus"
)

// ErrNormalization is logged when a raw resource declaration can't be turned into a Resource
var ErrNormalization = errors.New("unable to normalize resource")

// Resource is a declared resource. Fields are interpreted by the Fetcher for Type.
type Resource struct {
	Type   string         `json:"type" yaml:"type"`
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Fetcher knows how to normalize and prefetch one type of resource
type Fetcher interface {
	Type() string
	// Normalize converts a raw declaration into a Resource of this fetcher's type
	Normalize(raw any) (Resource, error)
	// Prefetch stores every passed resource into the target bucket. It must return
	// only when all resources are stored, or with an error.
	Prefetch(ctx context.Context, resources []Resource, target blobstore.Bucket) error
}

// Pipeline is the prefetch pipeline: a fetcher registry plus the declared resources
type Pipeline struct {
	sync.Mutex
	fetchers  []Fetcher
	def       Fetcher
	resources []Resource
}

// New returns an empty pipeline
func New() *Pipeline {
	return &Pipeline{}
}

// Use registers a fetcher. A fetcher of an already registered type replaces the existing one
// in place. The most recently registered fetcher becomes the default normalizer.
func (p *Pipeline) Use(f Fetcher) *Pipeline {
	p.Lock()
	defer p.Unlock()
	replaced := false
	for i, existing := range p.fetchers {
		if existing.Type() == f.Type() {
			p.fetchers[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		p.fetchers = append(p.fetchers, f)
	}
	p.def = f
	return p
}

// AddResources declares resources. A Resource, or a map with a non-empty "type" entry, is
// taken as-is. Anything else is handed to the default fetcher to normalize. Entries that
// can't be normalized are logged and dropped.
func (p *Pipeline) AddResources(raw ...any) *Pipeline {
	p.Lock()
	defer p.Unlock()
	for _, r := range raw {
		res, err := p.normalize(r)
		if err != nil {
			log.Warnf("dropping resource %v: %s", r, err)
			continue
		}
		p.resources = append(p.resources, res)
	}
	return p
}

func (p *Pipeline) normalize(raw any) (Resource, error) {
	switch r := raw.(type) {
	case Resource:
		if r.Type != "" {
			return r, nil
		}
	case *Resource:
		if r != nil && r.Type != "" {
			return *r, nil
		}
	case map[string]any:
		if typ, ok := r["type"].(string); ok && typ != "" {
			return Resource{Type: typ, Fields: r}, nil
		}
	}
	if p.def == nil {
		return Resource{}, fmt.Errorf("%w: no fetcher registered", ErrNormalization)
	}
	res, err := p.def.Normalize(raw)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %w", ErrNormalization, err)
	}
	return res, nil
}

// Resources returns a copy of the declared resources
func (p *Pipeline) Resources() []Resource {
	p.Lock()
	defer p.Unlock()
	return append([]Resource(nil), p.resources...)
}

// Fetchers returns a copy of the registered fetchers in registration order
func (p *Pipeline) Fetchers() []Fetcher {
	p.Lock()
	defer p.Unlock()
	return append([]Fetcher(nil), p.fetchers...)
}

// Run prefetches all declared resources into the target. Fetchers run strictly one after
// the other and the first failure stops the run.
func (p *Pipeline) Run(ctx context.Context, target blobstore.Bucket) error {
	fetchers := p.Fetchers()
	byType := map[string][]Resource{}
	for _, r := range p.Resources() {
		byType[r.Type] = append(byType[r.Type], r)
	}
	for _, f := range fetchers {
		if err := ctx.Err(); err != nil {
			return err
		}
		matching := byType[f.Type()]
		delete(byType, f.Type())
		log.Debugf("prefetching %d resource(s) of type %s into %s", len(matching), f.Type(), target.Name())
		if err := f.Prefetch(ctx, matching, target); err != nil {
			return fmt.Errorf("prefetch of type %s failed: %w", f.Type(), err)
		}
	}
	for typ, rs := range byType {
		log.Warnf("skipped %d resource(s) of type %s: no fetcher registered", len(rs), typ)
	}
	return nil
}
