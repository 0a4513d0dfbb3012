// Package preload reads resource list files. A resource list has one resource per
// line. Blank lines and lines starting with '#' are skipped.
package preload

import (
	"bufio"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Load reads the resource list in the passed file
func Load(resourceListFile string) ([]any, error) {
	log.Infof("loading resources from file: %s", resourceListFile)
	f, err := os.Open(resourceListFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	resources, err := Read(f)
	if err != nil {
		return nil, err
	}
	log.Infof("loaded %d resources from %s", len(resources), resourceListFile)
	return resources, nil
}

// Read reads a resource list from the passed reader. Each resource is returned as
// a string for the default fetcher to normalize.
func Read(r io.Reader) ([]any, error) {
	resources := []any{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		resources = append(resources, line)
	}
	return resources, scanner.Err()
}
