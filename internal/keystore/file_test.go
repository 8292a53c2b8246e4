package keystore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ehf/internal/testpki"
	"github.com/sirosfoundation/go-ehf/pkg/security"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadKeyPair(t *testing.T) {
	dir := t.TempDir()
	root := testpki.NewRoot(t, "Root")
	ca := root.Intermediate(t, "AP CA")
	leaf := ca.Leaf(t, "APP_1000000111")

	certFile := writeFile(t, dir, "client.crt", testpki.PEM(leaf.Cert, ca.Cert))
	keyFile := writeFile(t, dir, "client.key", testpki.KeyPEM(t, leaf.Key))

	pair, err := LoadKeyPair(certFile, keyFile)
	require.NoError(t, err)
	require.Len(t, pair.Certificate, 2)
	assert.Equal(t, leaf.Cert.Raw, pair.Certificate[0])
	assert.Equal(t, ca.Cert.Raw, pair.Certificate[1])
	assert.Equal(t, "APP_1000000111", security.SimpleName(pair.Leaf))
}

func TestLoadKeyPair_PKCS1(t *testing.T) {
	dir := t.TempDir()
	leaf := testpki.NewRoot(t, "Root").Leaf(t, "APP_1", testpki.WithRSAKey())

	key, ok := leaf.Key.(*rsa.PrivateKey)
	require.True(t, ok)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	pair, err := LoadKeyPair(
		writeFile(t, dir, "c.pem", testpki.PEM(leaf.Cert)),
		writeFile(t, dir, "k.pem", keyPEM),
	)
	require.NoError(t, err)
	assert.Len(t, pair.Certificate, 1)
}

func TestLoadKeyPair_Errors(t *testing.T) {
	dir := t.TempDir()
	root := testpki.NewRoot(t, "Root")
	a := root.Leaf(t, "APP_A")
	b := root.Leaf(t, "APP_B")

	certFile := writeFile(t, dir, "a.crt", testpki.PEM(a.Cert))
	otherKey := writeFile(t, dir, "b.key", testpki.KeyPEM(t, b.Key))
	garbage := writeFile(t, dir, "garbage", []byte("not pem"))
	unknown := writeFile(t, dir, "unknown.key", pem.EncodeToMemory(&pem.Block{Type: "DSA PRIVATE KEY", Bytes: []byte{1}}))
	missing := filepath.Join(dir, "missing")

	tests := []struct {
		name     string
		certFile string
		keyFile  string
		wantErr  string
	}{
		{"missing cert", missing, otherKey, "reading certificate file"},
		{"missing key", certFile, missing, "reading key file"},
		{"bad cert", garbage, otherKey, "parsing certificate"},
		{"bad key", certFile, garbage, "no PEM block"},
		{"unsupported key", certFile, unknown, "unsupported key type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadKeyPair(tt.certFile, tt.keyFile)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadKeyPair(certFile, otherKey)
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestLoadCertificate(t *testing.T) {
	dir := t.TempDir()
	leaf := testpki.NewRoot(t, "Root").Leaf(t, "APP_1000000222")

	cert, err := LoadCertificate(writeFile(t, dir, "ap.pem", testpki.PEM(leaf.Cert)))
	require.NoError(t, err)
	assert.True(t, cert.Equal(leaf.Cert))

	_, err = LoadCertificate(filepath.Join(dir, "missing.pem"))
	require.Error(t, err)
}

func TestDescribe(t *testing.T) {
	root := testpki.NewRoot(t, "Root")

	ec := Describe(root.Leaf(t, "APP_EC").Cert)
	assert.Equal(t, "EC", ec.Algorithm)
	assert.Equal(t, 256, ec.KeySize)
	assert.Equal(t, "APP_EC", ec.SimpleName)
	assert.Len(t, ec.Thumbprint, 40)

	leaf := root.Leaf(t, "APP_RSA", testpki.WithRSAKey())
	info := Describe(leaf.Cert)
	assert.Equal(t, "RSA", info.Algorithm)
	assert.Equal(t, leaf.Cert.PublicKey.(*rsa.PublicKey).N.BitLen(), info.KeySize)
	assert.Equal(t, leaf.Cert.NotAfter, info.NotAfter)
}
