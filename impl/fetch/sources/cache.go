// Package sources has the built-in fetch pipeline sources: the active generation and
// the network.
package sources

import (
	"context"
	"net/http"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/entry"
	"github.com/aceeric/offliner/impl/notify"

	lru "github.com/hashicorp/golang-lru"
)

// CacheSource answers from the active generation. Decoded entries are memoized in an
// LRU keyed by generation and URL.
type CacheSource struct {
	memo *lru.Cache
}

// NewCacheSource creates a CacheSource. A memo size of zero or less disables the memo.
func NewCacheSource(memoSize int) (*CacheSource, error) {
	cs := &CacheSource{}
	if memoSize > 0 {
		memo, err := lru.New(memoSize)
		if err != nil {
			return nil, err
		}
		cs.memo = memo
	}
	return cs, nil
}

func (cs *CacheSource) Name() string {
	return "cache"
}

func (cs *CacheSource) Handle(req *http.Request, active blobstore.Bucket) (*entry.Response, error) {
	if active == nil {
		return nil, blobstore.ErrBucketGone
	}
	url := entry.KeyFor(req)
	memoKey := active.Name() + "\x00" + url
	if cs.memo != nil {
		if v, ok := cs.memo.Get(memoKey); ok {
			return copyOf(v.(*entry.Response), cs.Name()), nil
		}
	}
	r, err := entry.Load(req.Context(), active, url)
	if err != nil {
		return nil, err
	}
	if cs.memo != nil {
		cs.memo.Add(memoKey, r)
	}
	return copyOf(r, cs.Name()), nil
}

// Notify drops the memo once a swap commits. The reclaimed generation names may be
// reused by a later build.
func (cs *CacheSource) Notify(_ context.Context, ev notify.Event) error {
	if ev.Type == notify.ActivationDone && cs.memo != nil {
		cs.memo.Purge()
	}
	return nil
}

// MemoLen returns the number of memoized entries
func (cs *CacheSource) MemoLen() int {
	if cs.memo == nil {
		return 0
	}
	return cs.memo.Len()
}

// copyOf returns a shallow copy so callers setting Source never touch the memo entry
func copyOf(r *entry.Response, source string) *entry.Response {
	c := *r
	c.Source = source
	return &c
}
