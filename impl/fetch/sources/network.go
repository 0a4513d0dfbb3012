package sources

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/entry"
)

var hopHeaders = []string{"Connection", "Keep-Alive", "Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade"}

// NetworkSource answers by forwarding the request to its URL. Any HTTP status is an
// answer; only transport failures fail the source.
type NetworkSource struct {
	client *http.Client
}

// NewNetworkSource creates a NetworkSource with the passed client timeout
func NewNetworkSource(timeout time.Duration) *NetworkSource {
	return &NetworkSource{client: &http.Client{Timeout: timeout}}
}

// NewNetworkSourceWithClient creates a NetworkSource using the passed client
func NewNetworkSourceWithClient(client *http.Client) *NetworkSource {
	return &NetworkSource{client: client}
}

func (ns *NetworkSource) Name() string {
	return "network"
}

func (ns *NetworkSource) Handle(req *http.Request, _ blobstore.Bucket) (*entry.Response, error) {
	if !req.URL.IsAbs() {
		return nil, fmt.Errorf("network source needs an absolute url, got %s", req.URL)
	}
	out, err := http.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	resp, err := ns.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("network fetch of %s failed: %w", req.URL, err)
	}
	r, err := entry.FromHTTP(req.URL.String(), resp)
	if err != nil {
		return nil, err
	}
	r.Source = ns.Name()
	return r, nil
}
