// Package updaters has the built-in update implementations.
package updaters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/update"
)

// maximum size of a version document
const maxVersionBytes = 64 * 1024

var errEmptyVersion = errors.New("version source returned an empty version")

// VersionSource returns the latest remote version tag
type VersionSource func(ctx context.Context) (string, error)

// Reinstall treats any remote tag that differs from the local one as a new version and
// builds the new generation by running the prefetch pipeline again.
type Reinstall struct {
	source VersionSource
}

// NewReinstall creates a Reinstall updater reading versions from the passed source
func NewReinstall(source VersionSource) *Reinstall {
	return &Reinstall{source: source}
}

// FromURL returns a VersionSource that GETs the passed URL. The body is either a JSON
// object with a "version" member or the plain version text.
func FromURL(url string, timeout time.Duration) VersionSource {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("version url %s returned status %d", url, resp.StatusCode)
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxVersionBytes))
		if err != nil {
			return "", err
		}
		return parseVersion(b)
	}
}

// FromFile returns a VersionSource that reads the passed file, in the same formats
// as FromURL
func FromFile(path string) VersionSource {
	return func(context.Context) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return parseVersion(b)
	}
}

func parseVersion(b []byte) (string, error) {
	doc := struct {
		Version any `json:"version"`
	}{}
	v := strings.TrimSpace(string(b))
	if strings.HasPrefix(v, "{") {
		if err := json.Unmarshal(b, &doc); err != nil {
			return "", fmt.Errorf("malformed version document: %w", err)
		}
		v = strings.TrimSpace(fmt.Sprint(doc.Version))
		if doc.Version == nil {
			v = ""
		}
	}
	if v == "" {
		return "", errEmptyVersion
	}
	return v, nil
}

func (r *Reinstall) Check(ctx context.Context, _ update.Flags) (string, error) {
	if r.source == nil {
		return "", errors.New("no version source configured")
	}
	return r.source(ctx)
}

func (r *Reinstall) IsNewVersion(local, remote string) bool {
	return remote != "" && local != remote
}

func (r *Reinstall) Evolve(ctx context.Context, _ update.Flags, _, _ blobstore.Bucket, reinstall update.ReinstallFunc) error {
	return reinstall(ctx)
}
