// Package impl is the HTTP face of the Offliner. Command routes are handled here, and
// every other request is intercepted: GETs go through the fetch pipeline and anything
// else is proxied to the upstream.
package impl

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/aceeric/offliner/impl/globals"
	"github.com/aceeric/offliner/impl/offliner"

	"github.com/labstack/echo/v4"
)

// OfflinerServer holds the state shared by the handlers
type OfflinerServer struct {
	offliner   *offliner.Offliner
	upstream   *url.URL
	client     *http.Client
	shutdownCh chan bool
}

// NewOfflinerServer creates the server. Intercepted request paths are resolved against
// upstream. If upstream is empty then only absolute (proxy-form) request URIs can be
// served. The client is used for proxied requests.
func NewOfflinerServer(o *offliner.Offliner, upstream string, client *http.Client, shutdownCh chan bool) (*OfflinerServer, error) {
	s := &OfflinerServer{
		offliner:   o,
		client:     client,
		shutdownCh: shutdownCh,
	}
	if upstream != "" {
		u, err := url.Parse(strings.TrimSuffix(upstream, "/"))
		if err != nil {
			return nil, err
		}
		s.upstream = u
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	return s, nil
}

// RegisterHandlers registers the command routes and then the catch-all interceptor
func (s *OfflinerServer) RegisterHandlers(e *echo.Echo) {
	e.GET(globals.HealthPath, s.Health)
	cmd := e.Group(globals.CmdPrefix)
	cmd.GET("/stop", s.CmdStop)
	cmd.GET("/status", s.CmdStatus)
	cmd.GET("/events", s.CmdEvents)
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		cmd.Add(method, "/activate", s.CmdActivate)
		cmd.Add(method, "/update", s.CmdUpdate)
		cmd.Add(method, "/message", s.CmdMessage)
	}
	e.Any("/*", s.Intercept)
}
