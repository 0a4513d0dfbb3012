package impl

import (
	"io"
	"net/http"
	"net/url"

	"github.com/aceeric/offliner/impl/metrics"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// hop-by-hop headers are not forwarded by the proxy
var hopHeaders = []string{"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization", "Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade"}

// Intercept handles every request that isn't a command. GET goes through the fetch
// pipeline, other methods are proxied to the upstream unchanged.
func (s *OfflinerServer) Intercept(ctx echo.Context) error {
	target, err := s.targetFor(ctx.Request())
	if err != nil {
		return ctx.String(http.StatusBadGateway, err.Error()+"\n")
	}
	if ctx.Request().Method != http.MethodGet {
		return s.proxy(ctx, target)
	}
	req := ctx.Request().Clone(ctx.Request().Context())
	req.URL = target
	req.Host = target.Host
	req.RequestURI = ""
	resp, err := s.offliner.Fetch(req)
	if err != nil {
		log.Warnf("unable to serve %s: %s", target, err)
		return ctx.String(http.StatusBadGateway, err.Error()+"\n")
	}
	return resp.Write(ctx.Response())
}

// targetFor maps the inbound request to the upstream URL it stands for
func (s *OfflinerServer) targetFor(r *http.Request) (*url.URL, error) {
	if r.URL.IsAbs() {
		return r.URL, nil
	}
	if s.upstream == nil {
		return nil, errNoUpstream
	}
	return s.upstream.Parse(s.upstream.Path + r.URL.RequestURI())
}

// proxy forwards the request to the upstream and streams the response back
func (s *OfflinerServer) proxy(ctx echo.Context, target *url.URL) error {
	metrics.IncProxied()
	in := ctx.Request()
	out, err := http.NewRequestWithContext(in.Context(), in.Method, target.String(), in.Body)
	if err != nil {
		return ctx.String(http.StatusBadGateway, err.Error()+"\n")
	}
	out.Header = in.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.ContentLength = in.ContentLength
	resp, err := s.client.Do(out)
	if err != nil {
		log.Warnf("proxy %s %s failed: %s", in.Method, target, err)
		return ctx.String(http.StatusBadGateway, err.Error()+"\n")
	}
	defer resp.Body.Close()
	for k, v := range resp.Header {
		for _, val := range v {
			ctx.Response().Header().Add(k, val)
		}
	}
	for _, h := range hopHeaders {
		ctx.Response().Header().Del(h)
	}
	ctx.Response().Header().Set("X-Offliner-Source", "proxy")
	ctx.Response().WriteHeader(resp.StatusCode)
	_, err = io.Copy(ctx.Response(), resp.Body)
	return err
}
