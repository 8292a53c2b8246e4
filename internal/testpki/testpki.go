// Package testpki builds throwaway certificate hierarchies for tests
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"
)

// CA is a certificate authority that can issue further certificates
type CA struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Leaf is an end-entity certificate and its key
type Leaf struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// LeafOption adjusts a leaf certificate template before issuing
type LeafOption func(*leafSettings)

type leafSettings struct {
	template *x509.Certificate
	rsaKey   bool
}

// WithDNSNames replaces the DNS subject alternative names
func WithDNSNames(names ...string) LeafOption {
	return func(s *leafSettings) {
		s.template.DNSNames = names
	}
}

// WithValidity sets the validity period
func WithValidity(notBefore, notAfter time.Time) LeafOption {
	return func(s *leafSettings) {
		s.template.NotBefore = notBefore
		s.template.NotAfter = notAfter
	}
}

// WithOCSPServer sets the OCSP responder URL
func WithOCSPServer(url string) LeafOption {
	return func(s *leafSettings) {
		s.template.OCSPServer = []string{url}
	}
}

// WithCRL sets the CRL distribution point
func WithCRL(url string) LeafOption {
	return func(s *leafSettings) {
		s.template.CRLDistributionPoints = []string{url}
	}
}

// WithRSAKey issues the leaf for an RSA 2048 key instead of ECDSA P-256
func WithRSAKey() LeafOption {
	return func(s *leafSettings) {
		s.rsaKey = true
	}
}

// NewRoot creates a self-signed root CA
func NewRoot(t testing.TB, commonName string) *CA {
	t.Helper()
	key := newECKey(t)
	template := caTemplate(t, commonName)
	cert := create(t, template, template, key.Public(), key)
	return &CA{Cert: cert, Key: key}
}

// Intermediate issues a subordinate CA
func (ca *CA) Intermediate(t testing.TB, commonName string) *CA {
	t.Helper()
	key := newECKey(t)
	cert := create(t, caTemplate(t, commonName), ca.Cert, key.Public(), ca.Key)
	return &CA{Cert: cert, Key: key}
}

// CrossSign issues a second certificate for other's subject and key under ca,
// so certificates issued by other also chain to ca.
func (ca *CA) CrossSign(t testing.TB, other *CA) *CA {
	t.Helper()
	template := caTemplate(t, other.Cert.Subject.CommonName)
	template.Subject = other.Cert.Subject
	template.SubjectKeyId = other.Cert.SubjectKeyId
	cert := create(t, template, ca.Cert, other.Cert.PublicKey, ca.Key)
	return &CA{Cert: cert, Key: other.Key}
}

// Leaf issues an end-entity certificate usable for TLS server and client auth.
// By default it is valid for 127.0.0.1, localhost and commonName.
func (ca *CA) Leaf(t testing.TB, commonName string, opts ...LeafOption) *Leaf {
	t.Helper()
	s := &leafSettings{
		template: &x509.Certificate{
			SerialNumber:          serial(t),
			Subject:               pkix.Name{CommonName: commonName, Organization: []string{"Test AP"}},
			NotBefore:             time.Now().Add(-time.Hour),
			NotAfter:              time.Now().Add(24 * time.Hour),
			KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
			BasicConstraintsValid: true,
			DNSNames:              []string{"localhost", commonName},
			IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	var key crypto.Signer
	if s.rsaKey {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generating RSA key: %v", err)
		}
		key = k
	} else {
		key = newECKey(t)
	}

	cert := create(t, s.template, ca.Cert, key.Public(), ca.Key)
	return &Leaf{Cert: cert, Key: key}
}

// SelfSigned creates a self-signed end-entity certificate outside any hierarchy
func SelfSigned(t testing.TB, commonName string) *Leaf {
	t.Helper()
	key := newECKey(t)
	template := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	cert := create(t, template, template, key.Public(), key)
	return &Leaf{Cert: cert, Key: key}
}

// TLSCertificate returns the leaf with the given chain for use in tls.Config
func (l *Leaf) TLSCertificate(chain ...*x509.Certificate) tls.Certificate {
	raw := [][]byte{l.Cert.Raw}
	for _, c := range chain {
		raw = append(raw, c.Raw)
	}
	return tls.Certificate{Certificate: raw, PrivateKey: l.Key, Leaf: l.Cert}
}

// Pool returns a pool holding certs
func Pool(certs ...*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool
}

// PEM encodes certs as concatenated CERTIFICATE blocks
func PEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// KeyPEM encodes key as a PKCS#8 PRIVATE KEY block
func KeyPEM(t testing.TB, key crypto.Signer) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshalling key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func caTemplate(t testing.TB, commonName string) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"Test PKI"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(48 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

func newECKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

func serial(t testing.TB) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("generating serial: %v", err)
	}
	return n.Add(n, big.NewInt(1))
}

func create(t testing.TB, template, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return cert
}
