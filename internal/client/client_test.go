package client

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ehf/internal/config"
	"github.com/sirosfoundation/go-ehf/internal/testpki"
	"github.com/sirosfoundation/go-ehf/pkg/dispatch"
	"github.com/sirosfoundation/go-ehf/pkg/peppol"
	"github.com/sirosfoundation/go-ehf/pkg/security"
	"github.com/sirosfoundation/go-ehf/pkg/transport"
)

const (
	sender    = "9908:810017902"
	recipient = "9908:974763907"
)

const invoice = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
    xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ProfileID>urn:www.cenbii.eu:profile:bii04:ver1.0</cbc:ProfileID>
  <cbc:ID>INV-1</cbc:ID>
</Invoice>`

const serviceGroupXML = `<?xml version="1.0" encoding="UTF-8"?>
<ServiceGroup xmlns="http://busdox.org/serviceMetadata/publishing/1.0/" xmlns:ids="http://busdox.org/transport/identifiers/1.0/">
  <ids:ParticipantIdentifier scheme="iso6523-actorid-upis">9908:974763907</ids:ParticipantIdentifier>
  <ServiceMetadataReferenceCollection>
    <ServiceMetadataReference href="http://smp.example/iso6523-actorid-upis::9908:974763907/services/invoice"/>
  </ServiceMetadataReferenceCollection>
</ServiceGroup>`

func serviceMetadataXML(address, cert string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<SignedServiceMetadata xmlns="http://busdox.org/serviceMetadata/publishing/1.0/"
    xmlns:ids="http://busdox.org/transport/identifiers/1.0/"
    xmlns:wsa="http://www.w3.org/2005/08/addressing">
  <ServiceMetadata>
    <ServiceInformation>
      <ids:ParticipantIdentifier scheme="iso6523-actorid-upis">%s</ids:ParticipantIdentifier>
      <ids:DocumentIdentifier scheme="busdox-docid-qns">%s</ids:DocumentIdentifier>
      <ProcessList>
        <Process>
          <ids:ProcessIdentifier scheme="cenbii-procid-ubl">%s</ids:ProcessIdentifier>
          <ServiceEndpointList>
            <Endpoint transportProfile="busdox-transport-start">
              <wsa:EndpointReference>
                <wsa:Address>%s</wsa:Address>
              </wsa:EndpointReference>
              <ServiceActivationDate>2010-01-01T00:00:00Z</ServiceActivationDate>
              <ServiceExpirationDate>2099-12-31T00:00:00Z</ServiceExpirationDate>
              <Certificate>%s</Certificate>
            </Endpoint>
          </ServiceEndpointList>
        </Process>
      </ProcessList>
    </ServiceInformation>
  </ServiceMetadata>
</SignedServiceMetadata>`, recipient, peppol.DocumentTypeInvoicePeppol4aEHF, peppol.ProcessBii04, address, cert)
}

// testNetwork is a PKI, an SMP and an access point on loopback
type testNetwork struct {
	dir    string
	root   *testpki.CA
	apCA   *testpki.CA
	ap     *testpki.Leaf
	apURL  string
	smpURL string

	mu       sync.Mutex
	received []byte
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()
	n := &testNetwork{dir: t.TempDir()}
	n.root = testpki.NewRoot(t, "PEPPOL Root TEST CA")
	n.apCA = n.root.Intermediate(t, "PEPPOL ACCESS POINT TEST CA")
	n.ap = n.apCA.Leaf(t, "APP_1000000222")

	ap := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n.mu.Lock()
		n.received = body
		n.mu.Unlock()
		_, _ = w.Write([]byte(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body><CreateResponse/></s:Body></s:Envelope>`))
	}))
	ap.TLS = n.apTLSConfig()
	ap.StartTLS()
	t.Cleanup(ap.Close)
	n.apURL = ap.URL + "/oxalis"

	smp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		groupPath := "/" + peppol.ParticipantScheme + "::" + recipient
		switch {
		case r.URL.Path == groupPath:
			if r.Method == http.MethodHead {
				return
			}
			_, _ = w.Write([]byte(serviceGroupXML))
		case strings.HasPrefix(r.URL.Path, groupPath+"/services/"):
			_, _ = w.Write([]byte(serviceMetadataXML(n.apURL, base64.StdEncoding.EncodeToString(n.ap.Cert.Raw))))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(smp.Close)
	n.smpURL = smp.URL
	return n
}

func (n *testNetwork) apTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{n.ap.TLSCertificate(n.apCA.Cert)},
		ClientAuth:   tls.RequestClientCert,
	}
}

func (n *testNetwork) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(n.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// config returns a static-mode configuration trusting the test PKI
func (n *testNetwork) config(t *testing.T) *config.Config {
	t.Helper()
	client := n.apCA.Leaf(t, "APP_1000000111", testpki.WithRSAKey())

	cfg := config.Default()
	cfg.Client.CertFile = n.write(t, "client.crt", testpki.PEM(client.Cert, n.apCA.Cert))
	cfg.Client.KeyFile = n.write(t, "client.key", testpki.KeyPEM(t, client.Key))
	cfg.Directory.Mode = config.DirectoryModeStatic
	cfg.Directory.SMPURL = n.smpURL
	cfg.Trust.CAFile = n.write(t, "ca.pem", testpki.PEM(n.root.Cert, n.apCA.Cert))
	cfg.Trust.RootThumbprints = []string{security.Thumbprint(n.root.Cert)}
	cfg.Trust.AccessPointCAThumbprints = []string{security.Thumbprint(n.apCA.Cert)}
	return cfg
}

func TestSend(t *testing.T) {
	n := newTestNetwork(t)
	cfg := n.config(t)
	cfg.Dispatch.CacheChannels = true

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	res, err := c.Send(context.Background(), []byte(invoice), sender, recipient, "", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.MessageID, "uuid:"))
	assert.Equal(t, n.apURL, res.Endpoint.Address.String())
	assert.Contains(t, string(res.Response), "CreateResponse")

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Contains(t, string(n.received), "INV-1")
	assert.Contains(t, string(n.received), res.MessageID)
}

func TestSend_Policy(t *testing.T) {
	n := newTestNetwork(t)
	cfg := n.config(t)
	cfg.Trust.Policy.Path = n.write(t, "trust.rego", []byte(`package ehf.trust

default allow = false

allow {
	input.simple_name == "APP_1000000999"
}
`))

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), []byte(invoice), sender, recipient, "", "")
	require.Error(t, err)
	require.ErrorIs(t, err, transport.ErrPeerRejected)
	phase, ok := dispatch.FailedPhase(err)
	require.True(t, ok)
	assert.Equal(t, dispatch.PhaseTransport, phase)
}

func TestSend_Untrusted(t *testing.T) {
	n := newTestNetwork(t)
	cfg := n.config(t)
	cfg.Trust.AccessPointCAThumbprints = []string{strings.Repeat("AB", 20)}

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), []byte(invoice), sender, recipient, "", "")
	require.ErrorIs(t, err, transport.ErrPeerRejected)
}

func TestSend_RetriesResolveFailures(t *testing.T) {
	n := newTestNetwork(t)
	cfg := n.config(t)
	cfg.Directory.SMPURL = "http://127.0.0.1:1"
	cfg.Dispatch.Retry.MaxAttempts = 2
	cfg.Dispatch.Retry.InitialInterval = 1

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := c.sender.(*dispatch.Retrier)
	require.True(t, ok)

	_, err = c.Send(context.Background(), []byte(invoice), sender, recipient, "", "")
	phase, ok := dispatch.FailedPhase(err)
	require.True(t, ok)
	assert.Equal(t, dispatch.PhaseResolve, phase)
}

func TestSendKnown(t *testing.T) {
	n := newTestNetwork(t)
	cfg := n.config(t)
	cfg.Directory.SMPURL = "http://127.0.0.1:1"
	cfg.Service.Address = n.apURL
	cfg.Service.CertFile = n.write(t, "ap.pem", testpki.PEM(n.ap.Cert))

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	res, err := c.SendKnown(context.Background(), []byte(invoice), sender, recipient, "", "")
	require.NoError(t, err)
	assert.Equal(t, n.apURL, res.Endpoint.Address.String())

	cfg.Service = config.ServiceConfig{}
	c, err = New(context.Background(), cfg)
	require.NoError(t, err)
	_, err = c.SendKnown(context.Background(), []byte(invoice), sender, recipient, "", "")
	require.ErrorIs(t, err, ErrNoKnownService)
}

func TestSend_NoClientCertificate(t *testing.T) {
	c, err := New(context.Background(), config.Default())
	require.NoError(t, err)

	_, err = c.Send(context.Background(), []byte(invoice), sender, recipient, "", "")
	require.ErrorIs(t, err, ErrNoClientCertificate)
	_, err = c.SendKnown(context.Background(), []byte(invoice), sender, recipient, "", "")
	require.ErrorIs(t, err, ErrNoClientCertificate)
}

func TestLookup(t *testing.T) {
	n := newTestNetwork(t)
	c, err := New(context.Background(), n.config(t))
	require.NoError(t, err)

	sg, target, err := c.Lookup(context.Background(), recipient)
	require.NoError(t, err)
	assert.Equal(t, n.smpURL+"/iso6523-actorid-upis::9908:974763907", target)
	require.Len(t, sg.ServiceReferences, 1)

	_, _, err = c.Lookup(context.Background(), "other::9908:974763907")
	require.ErrorIs(t, err, peppol.ErrInvalidParticipant)

	_, _, err = c.Lookup(context.Background(), "9908:000000000")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`<validationResult><valid>true</valid></validationResult>`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Validation.URL = srv.URL + "/validate-ws/"
	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	res, err := c.Validate(context.Background(), []byte(invoice), "", "")
	require.NoError(t, err)
	assert.Equal(t, "validationResult", res.Response.Root().Tag)

	_, err = c.Validate(context.Background(), []byte(invoice), "invoice", "2.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"/validate-ws/", "/validate-ws/2.0/invoice"}, paths)

	for _, pair := range [][2]string{{"invoice", ""}, {"", "2.0"}} {
		_, err = c.Validate(context.Background(), []byte(invoice), pair[0], pair[1])
		require.ErrorIs(t, err, ErrIncompleteDocumentType)
	}
	assert.Len(t, paths, 2, "a half-specified type is not sent")
}

func TestNew_Errors(t *testing.T) {
	n := newTestNetwork(t)

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:    "missing CA bundle",
			mutate:  func(cfg *config.Config) { cfg.Trust.CAFile = filepath.Join(n.dir, "missing.pem") },
			wantErr: "loading CA bundle",
		},
		{
			name:    "key does not match",
			mutate:  func(cfg *config.Config) { cfg.Client.KeyFile = n.write(t, "other.key", testpki.KeyPEM(t, n.ap.Key)) },
			wantErr: "loading client certificate",
		},
		{
			name:    "bad policy",
			mutate:  func(cfg *config.Config) { cfg.Trust.Policy.Path = n.write(t, "bad.rego", []byte("package ehf.trust\n\nallow {")) },
			wantErr: "loading trust policy",
		},
		{
			name: "bad service certificate",
			mutate: func(cfg *config.Config) {
				cfg.Service.Address = n.apURL
				cfg.Service.CertFile = filepath.Join(n.dir, "missing-ap.pem")
			},
			wantErr: "service.certFile",
		},
		{
			name:    "unknown directory mode",
			mutate:  func(cfg *config.Config) { cfg.Directory.Mode = "dns" },
			wantErr: "unknown directory mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := n.config(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLocator(t *testing.T) {
	cfg := config.Default().Directory
	l, err := newLocator(cfg)
	require.NoError(t, err)
	assert.NotNil(t, l)

	cfg.Mode = config.DirectoryModeBDXL
	cfg.BDXL.Domain = "acc.edelivery.tech.ec.europa.eu"
	l, err = newLocator(cfg)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestWithChannelFactory(t *testing.T) {
	n := newTestNetwork(t)
	errClosed := errors.New("closed")
	c, err := New(context.Background(), n.config(t), WithChannelFactory(transport.FactoryFunc(func(transport.ChannelConfig) (transport.Channel, error) {
		return nil, errClosed
	})))
	require.NoError(t, err)

	_, err = c.Send(context.Background(), []byte(invoice), sender, recipient, "", "")
	require.ErrorIs(t, err, errClosed)
	phase, _ := dispatch.FailedPhase(err)
	assert.Equal(t, dispatch.PhaseConfigure, phase)
}
