package security

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/sirosfoundation/go-ehf/internal/testpki"
)

// ocspResponder answers every request with the given status for the issuer's certificates
func ocspResponder(t *testing.T, issuer *testpki.CA, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := ocsp.ParseRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		template := ocsp.Response{
			Status:       status,
			SerialNumber: req.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(time.Hour),
		}
		if status == ocsp.Revoked {
			template.RevokedAt = time.Now().Add(-time.Hour)
			template.RevocationReason = ocsp.KeyCompromise
		}
		resp, err := ocsp.CreateResponse(issuer.Cert, issuer.Cert, template, issuer.Key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	}))
}

func TestOCSPRevocationChecker(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	ca := root.Intermediate(t, "AP CA")

	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "good", status: ocsp.Good},
		{name: "revoked", status: ocsp.Revoked, wantErr: ErrCertificateRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := ocspResponder(t, ca, tt.status, &hits)
			defer srv.Close()

			leaf := ca.Leaf(t, "APP_1", testpki.WithOCSPServer(srv.URL))
			checker := NewOCSPRevocationChecker(&OCSPConfig{Timeout: 5 * time.Second, CacheTimeout: time.Hour, StrictMode: true})

			err := checker.CheckRevocation(context.Background(), leaf.Cert, ca.Cert)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			// cached: the responder is not asked again
			srv.Close()
			err2 := checker.CheckRevocation(context.Background(), leaf.Cert, ca.Cert)
			assert.Equal(t, err == nil, err2 == nil)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestOCSPRevocationChecker_StrictMode(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	ca := root.Intermediate(t, "AP CA")
	leaf := ca.Leaf(t, "APP_1") // no OCSP responder, no CRL

	lenient := NewOCSPRevocationChecker(DefaultOCSPConfig())
	require.NoError(t, lenient.CheckRevocation(context.Background(), leaf.Cert, ca.Cert))

	strictConfig := DefaultOCSPConfig()
	strictConfig.StrictMode = true
	strict := NewOCSPRevocationChecker(strictConfig)
	err := strict.CheckRevocation(context.Background(), leaf.Cert, ca.Cert)
	require.ErrorIs(t, err, ErrRevocationUnknown)

	require.Error(t, strict.CheckRevocation(context.Background(), nil, ca.Cert))
	require.Error(t, strict.CheckRevocation(context.Background(), leaf.Cert, nil))
}

func TestOCSPRevocationChecker_CRLFallback(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	ca := root.Intermediate(t, "AP CA")

	var crlDER []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(crlDER)
	}))
	defer srv.Close()

	revoked := ca.Leaf(t, "APP_REVOKED", testpki.WithCRL(srv.URL+"/ca.crl"))
	good := ca.Leaf(t, "APP_GOOD", testpki.WithCRL(srv.URL+"/ca.crl"))

	var err error
	crlDER, err = x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: revoked.Cert.SerialNumber, RevocationTime: time.Now().Add(-time.Minute)},
		},
	}, ca.Cert, ca.Key)
	require.NoError(t, err)

	config := DefaultOCSPConfig()
	config.StrictMode = true
	checker := NewOCSPRevocationChecker(config)

	require.ErrorIs(t, checker.CheckRevocation(context.Background(), revoked.Cert, ca.Cert), ErrCertificateRevoked)
	require.NoError(t, checker.CheckRevocation(context.Background(), good.Cert, ca.Cert))

	// a CRL signed by someone else is not accepted
	other := root.Intermediate(t, "Other CA")
	err = NewOCSPRevocationChecker(config).CheckRevocation(context.Background(), good.Cert, other.Cert)
	require.ErrorIs(t, err, ErrRevocationUnknown)
}

func TestTrustValidator_OCSPIntegration(t *testing.T) {
	n := newTestNetwork(t)
	var hits atomic.Int32
	srv := ocspResponder(t, n.apCA, ocsp.Revoked, &hits)
	defer srv.Close()

	leaf := n.apCA.Leaf(t, "APP_OCSP", testpki.WithOCSPServer(srv.URL))
	v := n.validator()

	require.NoError(t, v.Validate(context.Background(), leaf.Cert, TrustContext{ExpectedIssuer: IssuerAccessPointCA}))
	err := v.Validate(context.Background(), leaf.Cert, TrustContext{ExpectedIssuer: IssuerAccessPointCA, RevocationCheck: true})
	require.ErrorIs(t, err, ErrChainBuildFailed)
	require.ErrorIs(t, err, ErrCertificateRevoked)
}
