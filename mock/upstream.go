package mock

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SchemeType specifies http or https
type SchemeType string

const (
	HTTP  SchemeType = "http"
	HTTPS SchemeType = "https"
)

// VersionPath is where the upstream publishes its release version as JSON
const VersionPath = "/version.json"

// UpstreamParams configures the mock upstream
type UpstreamParams struct {
	Scheme    SchemeType
	TlsConfig *tls.Config
	CliAuth   tls.ClientAuthType
	DelayMs   int
	// Paths are the resources served. Each body is "<path>@<version>".
	Paths []string
}

// Upstream is a running mock origin
type Upstream struct {
	*httptest.Server
	mu      sync.Mutex
	version string
	paths   map[string]bool
	down    atomic.Bool
	hits    atomic.Int64
}

// NewUpstream starts an upstream serving the passed paths at version "v1"
func NewUpstream(params UpstreamParams) *Upstream {
	u := &Upstream{version: "v1", paths: map[string]bool{}}
	for _, p := range params.Paths {
		u.paths[p] = true
	}
	u.Server = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		// delayMs supports simulating slow links
		if params.DelayMs != 0 {
			time.Sleep(time.Duration(params.DelayMs) * time.Millisecond)
		}
		if u.down.Load() {
			// drop the connection so the client sees a transport error
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		version := u.Version()
		if r.URL.Path == VersionPath {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"version":%q}`, version)
			return
		}
		u.mu.Lock()
		found := u.paths[r.URL.Path]
		u.mu.Unlock()
		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentType(r.URL.Path))
		w.Header().Set("X-Upstream-Version", version)
		fmt.Fprintf(w, "%s@%s", r.URL.Path, version)
	}))
	if params.Scheme == HTTPS {
		u.Server.TLS = params.TlsConfig
		if u.Server.TLS != nil {
			u.Server.TLS.ClientAuth = params.CliAuth
		}
		u.Server.StartTLS()
	} else {
		u.Server.Start()
	}
	return u
}

// Version returns the release version currently served
func (u *Upstream) Version() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.version
}

// SetVersion publishes a new release
func (u *Upstream) SetVersion(version string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.version = version
}

// AddPath adds a served resource
func (u *Upstream) AddPath(path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths[path] = true
}

// SetDown simulates losing the network: while down every request fails at the transport
func (u *Upstream) SetDown(down bool) {
	u.down.Store(down)
}

// Hits returns the number of requests received
func (u *Upstream) Hits() int64 {
	return u.hits.Load()
}

// Body returns the body the upstream serves for the path at the version
func Body(path, version string) string {
	return path + "@" + version
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		return "text/javascript; charset=utf-8"
	case strings.HasSuffix(path, ".css"):
		return "text/css; charset=utf-8"
	}
	return "application/octet-stream"
}
