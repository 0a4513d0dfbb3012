// Package entry defines how an HTTP response is stored in a cache generation. Entries are
// JSON with the body inline, keyed by the absolute request URL, and carry a digest of the
// body that is verified when the entry is read back.
package entry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aceeric/offliner/impl/blobstore"

	"github.com/opencontainers/go-digest"
)

// hop-by-hop headers are not stored
var skipHeaders = []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Set-Cookie"}

// Response is a stored (or freshly fetched) response
type Response struct {
	URL    string        `json:"url"`
	Status int           `json:"status"`
	Header http.Header   `json:"header,omitempty"`
	Body   []byte        `json:"body"`
	Digest digest.Digest `json:"digest"`
	Stored time.Time     `json:"stored"`
	// Source is the name of the source handler that produced the response. Not persisted.
	Source string `json:"-"`
}

// New creates a Response and computes the body digest
func New(rawURL string, status int, header http.Header, body []byte) *Response {
	hdr := http.Header{}
	for k, v := range header {
		hdr[k] = append([]string(nil), v...)
	}
	for _, h := range skipHeaders {
		hdr.Del(h)
	}
	return &Response{
		URL:    rawURL,
		Status: status,
		Header: hdr,
		Body:   body,
		Digest: digest.FromBytes(body),
		Stored: time.Now().UTC(),
	}
}

// FromHTTP reads the body of the passed response and closes it
func FromHTTP(rawURL string, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body for %s: %w", rawURL, err)
	}
	return New(rawURL, resp.StatusCode, resp.Header, body), nil
}

// Key returns the cache key for a URL: the absolute URL without any fragment
func Key(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// KeyFor returns the cache key for a request
func KeyFor(req *http.Request) string {
	return Key(req.URL.String())
}

// Encode serializes the response for storage
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Decode deserializes a stored response and verifies the body against the digest
func Decode(b []byte) (*Response, error) {
	r := &Response{}
	if err := json.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("malformed cache entry: %w", err)
	}
	if err := r.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("cache entry for %s has invalid digest: %w", r.URL, err)
	}
	if verifier := r.Digest.Verifier(); verifier != nil {
		verifier.Write(r.Body)
		if !verifier.Verified() {
			return nil, fmt.Errorf("cache entry for %s failed digest verification", r.URL)
		}
	}
	return r, nil
}

// Store writes the response into the bucket under its key
func Store(ctx context.Context, bucket blobstore.Bucket, r *Response) error {
	b, err := r.Encode()
	if err != nil {
		return err
	}
	return bucket.Put(ctx, Key(r.URL), b)
}

// Load reads the response stored for the passed URL
func Load(ctx context.Context, bucket blobstore.Bucket, rawURL string) (*Response, error) {
	b, err := bucket.Get(ctx, Key(rawURL))
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Write writes the response to an http.ResponseWriter
func (r *Response) Write(w http.ResponseWriter) error {
	for k, v := range r.Header {
		for _, val := range v {
			w.Header().Add(k, val)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	if r.Source != "" {
		w.Header().Set("X-Offliner-Source", r.Source)
	}
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}
