// Package fetchers has the built-in prefetch fetchers.
package fetchers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/entry"
	"github.com/aceeric/offliner/impl/metrics"
	"github.com/aceeric/offliner/impl/prefetch"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// URLType is the resource type handled by URLFetcher
const URLType = "url"

const defaultParallel = 4

// URLFetcher prefetches plain URLs with GET requests. A resource of this type has a
// single "url" field.
type URLFetcher struct {
	client   *http.Client
	parallel int
	base     *url.URL
}

// URLOption configures a URLFetcher
type URLOption func(*URLFetcher)

// WithClient sets the HTTP client
func WithClient(client *http.Client) URLOption {
	return func(f *URLFetcher) {
		f.client = client
	}
}

// WithTimeout sets the timeout of the default HTTP client
func WithTimeout(timeout time.Duration) URLOption {
	return func(f *URLFetcher) {
		f.client = &http.Client{Timeout: timeout}
	}
}

// WithParallel sets how many URLs are fetched at once
func WithParallel(n int) URLOption {
	return func(f *URLFetcher) {
		if n > 0 {
			f.parallel = n
		}
	}
}

// WithBase resolves relative URLs against the passed base
func WithBase(base string) URLOption {
	return func(f *URLFetcher) {
		if u, err := url.Parse(base); err == nil {
			f.base = u
		}
	}
}

// NewURLFetcher creates a URLFetcher
func NewURLFetcher(opts ...URLOption) *URLFetcher {
	f := &URLFetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		parallel: defaultParallel,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *URLFetcher) Type() string {
	return URLType
}

// Normalize accepts a string or *url.URL
func (f *URLFetcher) Normalize(raw any) (prefetch.Resource, error) {
	var s string
	switch r := raw.(type) {
	case string:
		s = r
	case *url.URL:
		s = r.String()
	default:
		return prefetch.Resource{}, fmt.Errorf("unsupported declaration %T", raw)
	}
	u, err := f.resolve(s)
	if err != nil {
		return prefetch.Resource{}, err
	}
	return prefetch.Resource{Type: URLType, Fields: map[string]any{"url": u}}, nil
}

func (f *URLFetcher) resolve(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() && f.base != nil {
		u = f.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("not an http(s) url: %q", s)
	}
	return entry.Key(u.String()), nil
}

// Prefetch GETs every resource and stores the response. Any error or non-2xx status
// fails the whole batch so a generation is never left partially populated.
func (f *URLFetcher) Prefetch(ctx context.Context, resources []prefetch.Resource, target blobstore.Bucket) error {
	urls := make([]string, 0, len(resources))
	for _, res := range resources {
		raw, ok := res.Fields["url"].(string)
		if !ok {
			return fmt.Errorf("resource %v has no url", res.Fields)
		}
		u, err := f.resolve(raw)
		if err != nil {
			return err
		}
		urls = append(urls, u)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallel)
	for _, u := range urls {
		g.Go(func() error {
			return f.fetchOne(gctx, u, target)
		})
	}
	return g.Wait()
}

func (f *URLFetcher) fetchOne(ctx context.Context, u string, target blobstore.Bucket) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("unable to fetch %s: %w", u, err)
	}
	r, err := entry.FromHTTP(u, resp)
	if err != nil {
		return err
	}
	if r.Status < 200 || r.Status > 299 {
		return fmt.Errorf("unable to fetch %s: status %d", u, r.Status)
	}
	if err := entry.Store(ctx, target, r); err != nil {
		return fmt.Errorf("unable to store %s in %s: %w", u, target.Name(), err)
	}
	log.Debugf("prefetched %s into %s", u, target.Name())
	metrics.AddPrefetched(1)
	return nil
}
