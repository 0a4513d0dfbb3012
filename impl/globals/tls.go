package globals

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/aceeric/offliner/impl/config"
)

// ParseTls parses the TLS configuration for the server to use to establish TLS with
// downstream clients. Supports:
//   - 1-way: we provide our certs to the client and do not request client certs
//   - mTls: we provide our certs to the client, and require and verify client certs
//
// Client cert verification can be via the OS trust store (no CA specified in config), or
// via the provided CA. If there is no TLS configuration, then a nil tls.Config is returned
// to the caller. This means the server should serve on HTTP.
func ParseTls() (*tls.Config, error) {
	tlsCfg := config.GetServerTlsCfg()
	cfg := &tls.Config{}
	hasCfg := false
	if tlsCfg.Cert != "" && tlsCfg.Key != "" {
		if cert, err := tls.LoadX509KeyPair(tlsCfg.Cert, tlsCfg.Key); err != nil {
			return nil, err
		} else {
			cfg.Certificates = []tls.Certificate{cert}
			hasCfg = true
		}
	}
	cliAuth := strings.ToLower(tlsCfg.ClientAuth)
	if !slices.Contains([]string{"", "none", "verify"}, cliAuth) {
		return nil, fmt.Errorf("unsupported client auth value: %s", tlsCfg.ClientAuth)
	}
	if cliAuth == "verify" {
		hasCfg = true
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		if tlsCfg.CA != "" {
			cp, err := loadPool(tlsCfg.CA)
			if err != nil {
				return nil, err
			}
			cfg.ClientCAs = cp
		}
	}
	if hasCfg {
		return cfg, nil
	}
	return nil, nil
}

// UpstreamTls builds the client TLS configuration used by the network source and
// the prefetchers when talking to the upstream. A nil config means defaults.
func UpstreamTls() (*tls.Config, error) {
	tlsCfg := config.GetUpstreamTlsCfg()
	if tlsCfg.CA == "" && tlsCfg.Cert == "" && tlsCfg.Key == "" && !tlsCfg.InsecureSkipVerify {
		return nil, nil
	}
	cfg := &tls.Config{InsecureSkipVerify: tlsCfg.InsecureSkipVerify}
	if tlsCfg.CA != "" {
		cp, err := loadPool(tlsCfg.CA)
		if err != nil {
			return nil, fmt.Errorf("unable to load upstream CA from file %s: %w", tlsCfg.CA, err)
		}
		cfg.RootCAs = cp
	}
	if tlsCfg.Cert != "" && tlsCfg.Key != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.Cert, tlsCfg.Key)
		if err != nil {
			return nil, fmt.Errorf("unable to load upstream client cert and/or key from files: cert: %s, key: %s", tlsCfg.Cert, tlsCfg.Key)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return cp, nil
}
