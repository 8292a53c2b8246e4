package security

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

var (
	// ErrCertificateRevoked is returned when a certificate has been revoked
	ErrCertificateRevoked = errors.New("certificate has been revoked")
	// ErrRevocationUnknown is returned in strict mode when no source could determine the status
	ErrRevocationUnknown = errors.New("revocation status could not be determined")
)

// RevocationChecker checks the revocation status of a certificate
type RevocationChecker interface {
	// CheckRevocation returns nil if cert is not revoked, ErrCertificateRevoked
	// if it is, and another error if the status could not be established
	CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error
}

// OCSPConfig configures OCSP checking behavior
type OCSPConfig struct {
	// HTTPClient for OCSP and CRL requests (optional)
	HTTPClient *http.Client
	// Timeout for OCSP and CRL requests
	Timeout time.Duration
	// CRLFallback enables CRL checking if OCSP fails
	CRLFallback bool
	// CacheTimeout for caching OCSP results and CRLs
	CacheTimeout time.Duration
	// StrictMode fails if revocation status cannot be determined
	StrictMode bool
}

// DefaultOCSPConfig returns default configuration
func DefaultOCSPConfig() *OCSPConfig {
	return &OCSPConfig{
		Timeout:      10 * time.Second,
		CRLFallback:  true,
		CacheTimeout: 1 * time.Hour,
		StrictMode:   false,
	}
}

// OCSPRevocationChecker implements RevocationChecker using OCSP with optional CRL fallback
type OCSPRevocationChecker struct {
	config     *OCSPConfig
	httpClient *http.Client
	crls       *ttlCache[*x509.RevocationList]
	results    *ttlCache[error]
}

// NewOCSPRevocationChecker creates a new OCSP-based revocation checker
func NewOCSPRevocationChecker(config *OCSPConfig) *OCSPRevocationChecker {
	if config == nil {
		config = DefaultOCSPConfig()
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &OCSPRevocationChecker{
		config:     config,
		httpClient: client,
		crls:       newTTLCache[*x509.RevocationList](config.CacheTimeout),
		results:    newTTLCache[error](config.CacheTimeout),
	}
}

// CheckRevocation checks certificate revocation status, OCSP first
func (c *OCSPRevocationChecker) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error {
	if cert == nil {
		return errors.New("certificate is nil")
	}
	if issuer == nil {
		return errors.New("issuer certificate is nil")
	}

	ocspErr := c.checkOCSP(ctx, cert, issuer)
	if ocspErr == nil || errors.Is(ocspErr, ErrCertificateRevoked) {
		return ocspErr
	}

	var crlErr error
	if c.config.CRLFallback {
		crlErr = c.checkCRL(ctx, cert, issuer)
		if crlErr == nil || errors.Is(crlErr, ErrCertificateRevoked) {
			return crlErr
		}
	}

	if !c.config.StrictMode {
		return nil
	}
	if crlErr != nil {
		return fmt.Errorf("%w: OCSP: %v, CRL: %v", ErrRevocationUnknown, ocspErr, crlErr)
	}
	return fmt.Errorf("%w: OCSP: %v", ErrRevocationUnknown, ocspErr)
}

func (c *OCSPRevocationChecker) checkOCSP(ctx context.Context, cert, issuer *x509.Certificate) error {
	key := Thumbprint(issuer) + "/" + cert.SerialNumber.String()
	if cached, ok := c.results.get(key); ok {
		return cached
	}

	if len(cert.OCSPServer) == 0 {
		return errors.New("no OCSP server URL in certificate")
	}

	request, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("failed to create OCSP request: %w", err)
	}

	raw, err := c.postOCSP(ctx, cert.OCSPServer[0], request)
	if err != nil {
		return fmt.Errorf("OCSP request failed: %w", err)
	}

	resp, err := ocsp.ParseResponseForCert(raw, cert, issuer)
	if err != nil {
		return fmt.Errorf("failed to parse OCSP response: %w", err)
	}

	var result error
	switch resp.Status {
	case ocsp.Good:
	case ocsp.Revoked:
		result = fmt.Errorf("%w at %s", ErrCertificateRevoked, resp.RevokedAt.UTC().Format(time.RFC3339))
	case ocsp.Unknown:
		return errors.New("OCSP status unknown")
	default:
		return fmt.Errorf("unexpected OCSP status: %d", resp.Status)
	}

	c.results.set(key, result)
	return result
}

// postOCSP sends the request with POST and falls back to GET
func (c *OCSPRevocationChecker) postOCSP(ctx context.Context, responder string, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responder, bytes.NewReader(request))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.getOCSP(ctx, responder, request)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.getOCSP(ctx, responder, request)
	}
	return io.ReadAll(resp.Body)
}

func (c *OCSPRevocationChecker) getOCSP(ctx context.Context, responder string, request []byte) ([]byte, error) {
	reqURL := responder + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(request))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *OCSPRevocationChecker) checkCRL(ctx context.Context, cert, issuer *x509.Certificate) error {
	if len(cert.CRLDistributionPoints) == 0 {
		return errors.New("no CRL distribution points in certificate")
	}

	var lastErr error
	for _, dp := range cert.CRLDistributionPoints {
		crl, err := c.fetchCRL(ctx, dp, issuer)
		if err != nil {
			lastErr = err
			continue
		}
		for _, revoked := range crl.RevokedCertificateEntries {
			if revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return fmt.Errorf("%w at %s", ErrCertificateRevoked, revoked.RevocationTime.UTC().Format(time.RFC3339))
			}
		}
		return nil
	}
	return fmt.Errorf("failed to check CRL: %w", lastErr)
}

func (c *OCSPRevocationChecker) fetchCRL(ctx context.Context, location string, issuer *x509.Certificate) (*x509.RevocationList, error) {
	if cached, ok := c.crls.get(location); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CRL server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	crl, err := x509.ParseRevocationList(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return nil, fmt.Errorf("CRL signature: %w", err)
	}

	c.crls.set(location, crl)
	return crl, nil
}

// ttlCache is a small thread-safe cache with a fixed entry lifetime
type ttlCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]ttlEntry[V]
	ttl     time.Duration
}

type ttlEntry[V any] struct {
	value   V
	storeAt time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		entries: make(map[string]ttlEntry[V]),
		ttl:     ttl,
	}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	entry, ok := c.entries[key]
	if !ok || time.Since(entry.storeAt) > c.ttl {
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = ttlEntry[V]{value: value, storeAt: time.Now()}
}
