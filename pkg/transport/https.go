package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirosfoundation/go-ehf/pkg/security"
	"github.com/sirosfoundation/go-ehf/pkg/token"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// RecommendedTLS12CipherSuites are the TLS 1.2 suites offered to access points
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

const maxResponseSize = 10 << 20

// HTTPSConfig contains HTTPS client configuration shared by all channels
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	Timeout         time.Duration
	IdleConnTimeout time.Duration
	UserAgent       string
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       "go-ehf/1.0",
	}
}

// HTTPSFactory opens HTTPS channels. Every Open builds a new TLS client whose
// peer verification is fixed to the ChannelConfig.
type HTTPSFactory struct {
	config *HTTPSConfig
}

// NewHTTPSFactory creates a factory
func NewHTTPSFactory(config *HTTPSConfig) *HTTPSFactory {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	return &HTTPSFactory{config: config}
}

// Open creates a channel to cfg.Address
func (f *HTTPSFactory) Open(cfg ChannelConfig) (Channel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ch := &httpsChannel{
		address:   cfg.Address.String(),
		userAgent: f.config.UserAgent,
	}

	tlsConfig := &tls.Config{
		MinVersion:   f.config.MinTLSVersion,
		MaxVersion:   f.config.MaxTLSVersion,
		CipherSuites: f.config.CipherSuites,
		ServerName:   cfg.Address.Hostname(),
		// Chain and identity are checked by verifyPeer against the pinned
		// network CAs rather than the system roots.
		InsecureSkipVerify: true, //nolint:gosec
	}
	if cfg.ClientCertificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.ClientCertificate}
	}

	ch.client = &http.Client{
		Transport: &http.Transport{
			DialTLSContext:      ch.dialTLS(cfg, tlsConfig),
			IdleConnTimeout:     f.config.IdleConnTimeout,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
		},
		Timeout: f.config.Timeout,
	}
	return ch, nil
}

type httpsChannel struct {
	address   string
	userAgent string
	client    *http.Client

	mu       sync.Mutex
	rejected error
}

// peerRejection marks an error raised by peer verification during the handshake
type peerRejection struct {
	err error
}

func (r *peerRejection) Error() string { return r.err.Error() }
func (r *peerRejection) Unwrap() error { return r.err }

// dialTLS opens a connection and runs the handshake with peer verification
// bound to the dialing request's context.
func (c *httpsChannel) dialTLS(cfg ChannelConfig, base *tls.Config) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		raw, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		tlsConfig := base.Clone()
		tlsConfig.VerifyPeerCertificate = c.verifier(ctx, cfg)
		conn := tls.Client(raw, tlsConfig)
		if err := conn.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return nil, err
		}
		return conn, nil
	}
}

func (c *httpsChannel) verifier(ctx context.Context, cfg ChannelConfig) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		err := verifyPeer(ctx, cfg, rawCerts)
		if err != nil {
			err = &peerRejection{err: err}
			c.mu.Lock()
			c.rejected = err
			c.mu.Unlock()
		}
		return err
	}
}

func verifyPeer(ctx context.Context, cfg ChannelConfig, rawCerts [][]byte) error {
	chain := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("failed to parse peer certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return security.ErrNoCertificate
	}

	if name := security.SimpleName(chain[0]); !strings.EqualFold(name, cfg.Identity) {
		return fmt.Errorf("%w: expected %q, got %q", ErrIdentityMismatch, cfg.Identity, name)
	}
	if cfg.VerifyPeer != nil {
		return cfg.VerifyPeer(ctx, chain)
	}
	return nil
}

// Send posts the enveloped document and returns the response body
func (c *httpsChannel) Send(ctx context.Context, tok *token.Token, req *Request) ([]byte, error) {
	envelope, err := BuildEnvelope(tok, req, c.address)
	if err != nil {
		return nil, err
	}
	payload, err := envelope.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to write envelope: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", ContentTypeSOAP12)
	httpReq.Header.Set("User-Agent", c.userAgent)

	c.mu.Lock()
	c.rejected = nil
	c.mu.Unlock()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if rej := c.rejection(err); rej != nil {
			return nil, fmt.Errorf("%w: %w", ErrPeerRejected, rej.err)
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ParseFault(resp.StatusCode, body)
	}
	return body, nil
}

// rejection finds the verification failure behind a failed request. The TLS
// stack usually passes the error through; the recorded copy covers the cases
// where it does not.
func (c *httpsChannel) rejection(err error) *peerRejection {
	var rej *peerRejection
	if errors.As(err, &rej) {
		return rej
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejected != nil && errors.As(c.rejected, &rej) {
		return rej
	}
	return nil
}
