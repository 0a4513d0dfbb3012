package mock

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertSetup has a generated CA plus a server and a client cert signed by it
type CertSetup struct {
	CaPEM                *bytes.Buffer
	ServerCert           tls.Certificate
	ServerCertPEM        *bytes.Buffer
	ServerCertPrivKeyPEM *bytes.Buffer
	ClientCert           tls.Certificate
	ClientCertPEM        *bytes.Buffer
	ClientCertPrivKeyPEM *bytes.Buffer
}

// toFile writes the buffer to path/fileName unless the file already exists, and
// returns the full path
func toFile(buf *bytes.Buffer, path, fileName string) string {
	p := filepath.Join(path, fileName)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(p, buf.Bytes(), 0644); err != nil {
			panic(err)
		}
	}
	return p
}

func (cs CertSetup) CaToFile(path, fileName string) string {
	return toFile(cs.CaPEM, path, fileName)
}

func (cs CertSetup) ServerCertToFile(path, fileName string) string {
	return toFile(cs.ServerCertPEM, path, fileName)
}

func (cs CertSetup) ServerCertPrivKeyToFile(path, fileName string) string {
	return toFile(cs.ServerCertPrivKeyPEM, path, fileName)
}

func (cs CertSetup) ClientCertToFile(path, fileName string) string {
	return toFile(cs.ClientCertPEM, path, fileName)
}

func (cs CertSetup) ClientCertPrivKeyToFile(path, fileName string) string {
	return toFile(cs.ClientCertPrivKeyPEM, path, fileName)
}

// ServerTlsConfig returns a server config presenting the server cert
func (cs CertSetup) ServerTlsConfig() *tls.Config {
	return &tls.Config{Certificates: []tls.Certificate{cs.ServerCert}}
}

// ClientTlsConfig returns a client config that trusts the CA and presents the client cert.
// If insecure is true then the server cert is not verified.
func (cs CertSetup) ClientTlsConfig(insecure bool) *tls.Config {
	cp := x509.NewCertPool()
	cp.AppendCertsFromPEM(cs.CaPEM.Bytes())
	return &tls.Config{
		RootCAs:            cp,
		Certificates:       []tls.Certificate{cs.ClientCert},
		InsecureSkipVerify: insecure,
	}
}

// NewCertSetup was adapted from https://gist.github.com/shaneutt/5e1995295cff6721c89a71d13a71c251
func NewCertSetup() (CertSetup, error) {
	cs := CertSetup{}
	caCert, caPrivKey, caPEM, err := createCACert()
	if err != nil {
		return CertSetup{}, err
	}
	cs.CaPEM = caPEM
	cs.ServerCert, cs.ServerCertPEM, cs.ServerCertPrivKeyPEM, err = createCertItems(newX509("server", false), caCert, caPrivKey)
	if err != nil {
		return CertSetup{}, err
	}
	cs.ClientCert, cs.ClientCertPEM, cs.ClientCertPrivKeyPEM, err = createCertItems(newX509("client", false), caCert, caPrivKey)
	if err != nil {
		return CertSetup{}, err
	}
	return cs, nil
}

// createCertItems returns the tls.Certificate for the passed cert signed by the CA, with
// its PEM-encoded cert and key
func createCertItems(cert x509.Certificate, caCert x509.Certificate, caPrivKey *rsa.PrivateKey) (tls.Certificate, *bytes.Buffer, *bytes.Buffer, error) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	certBytes, err := x509.CreateCertificate(rand.Reader, &cert, &caCert, &pk.PublicKey, caPrivKey)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	certPEM := pemOf("CERTIFICATE", certBytes)
	privKeyPEM := pemOf("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(pk))
	certificate, err := tls.X509KeyPair(certPEM.Bytes(), privKeyPEM.Bytes())
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	return certificate, certPEM, privKeyPEM, nil
}

func pemOf(typ string, b []byte) *bytes.Buffer {
	buf := new(bytes.Buffer)
	pem.Encode(buf, &pem.Block{Type: typ, Bytes: b})
	return buf
}

// createCACert creates a self-signed CA with Common Name "root"
func createCACert() (x509.Certificate, *rsa.PrivateKey, *bytes.Buffer, error) {
	ca := newX509("root", true)
	caPrivKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return x509.Certificate{}, nil, nil, err
	}
	caBytes, err := x509.CreateCertificate(rand.Reader, &ca, &ca, &caPrivKey.PublicKey, caPrivKey)
	if err != nil {
		return x509.Certificate{}, nil, nil, err
	}
	return ca, caPrivKey, pemOf("CERTIFICATE", caBytes), nil
}

// newX509 returns a cert template valid for the loopback addresses
func newX509(cn string, isCA bool) x509.Certificate {
	keyUsage := x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	if isCA {
		keyUsage |= x509.KeyUsageCertSign
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	return x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		IsCA:                  isCA,
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:              keyUsage,
	}
}
