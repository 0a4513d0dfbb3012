package globals

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aceeric/offliner/impl/config"
	"github.com/aceeric/offliner/mock"
)

var serverTls = `
serverTlsConfig:
  cert: %[1]s/cert.pem
  key: %[1]s/key.pem
  ca: %[1]s/ca.pem
  clientAuth: %[2]s
`

var upstreamTls = `
upstreamTlsConfig:
  cert: %[1]s/cert.pem
  key: %[1]s/key.pem
  ca: %[1]s/ca.pem
  insecureSkipVerify: true
`

// writeCerts writes a server cert, its key and the CA into the passed directory
func writeCerts(t *testing.T, dir string) {
	certSetup, err := mock.NewCertSetup()
	if err != nil {
		t.FailNow()
	}
	certSetup.ServerCertToFile(dir, "cert.pem")
	certSetup.ServerCertPrivKeyToFile(dir, "key.pem")
	certSetup.CaToFile(dir, "ca.pem")
}

func TestServerTls(t *testing.T) {
	withCerts := t.TempDir()
	writeCerts(t, withCerts)
	noCerts := t.TempDir()
	tests := []struct {
		name       string
		cfg        string
		expectNil  bool
		expectErr  bool
		clientAuth tls.ClientAuthType
	}{
		{name: "empty", cfg: "", expectNil: true},
		{name: "one way", cfg: fmt.Sprintf(serverTls, withCerts, "none"), clientAuth: tls.NoClientCert},
		{name: "mtls", cfg: fmt.Sprintf(serverTls, withCerts, "verify"), clientAuth: tls.RequireAndVerifyClientCert},
		{name: "bad client auth", cfg: fmt.Sprintf(serverTls, withCerts, "sometimes"), expectErr: true},
		{name: "missing files", cfg: fmt.Sprintf(serverTls, noCerts, "verify"), expectErr: true},
	}
	for _, tst := range tests {
		config.Set(config.Configuration{})
		if err := config.SetConfigFromStr([]byte(tst.cfg)); err != nil {
			t.Fatalf("%s: %s", tst.name, err)
		}
		cfg, err := ParseTls()
		switch {
		case tst.expectErr:
			if err == nil {
				t.Errorf("%s: expected error", tst.name)
			}
		case err != nil:
			t.Errorf("%s: %s", tst.name, err)
		case tst.expectNil:
			if cfg != nil {
				t.Errorf("%s: expected nil config", tst.name)
			}
		case cfg == nil || cfg.ClientAuth != tst.clientAuth:
			t.Errorf("%s: unexpected config %v", tst.name, cfg)
		}
	}
}

func TestUpstreamTls(t *testing.T) {
	config.Set(config.Configuration{})
	if cfg, err := UpstreamTls(); err != nil || cfg != nil {
		t.FailNow()
	}
	td := t.TempDir()
	if err := config.SetConfigFromStr([]byte(fmt.Sprintf(upstreamTls, td))); err != nil {
		t.FailNow()
	}
	if _, err := UpstreamTls(); err == nil {
		t.Fatalf("expected error with missing files")
	}
	writeCerts(t, td)
	cfg, err := UpstreamTls()
	if err != nil || cfg == nil {
		t.FailNow()
	}
	if !cfg.InsecureSkipVerify || cfg.RootCAs == nil || len(cfg.Certificates) != 1 {
		t.Fail()
	}
	os.WriteFile(filepath.Join(td, "ca.pem"), []byte("not a cert"), 0644)
	if _, err := UpstreamTls(); err == nil {
		t.Fail()
	}
}
