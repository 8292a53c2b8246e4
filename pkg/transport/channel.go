package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
	"github.com/sirosfoundation/go-ehf/pkg/token"
)

var (
	// ErrPeerRejected is returned when the access point's certificate fails verification.
	// The verification error is wrapped alongside it.
	ErrPeerRejected = errors.New("peer certificate rejected")
	// ErrIdentityMismatch is returned when the peer certificate names a different identity
	ErrIdentityMismatch = errors.New("peer identity mismatch")
	// ErrInsecureAddress is returned for addresses that are not https
	ErrInsecureAddress = errors.New("access point address must use https")
	// ErrNoIdentity is returned when a channel is opened without a peer identity
	ErrNoIdentity = errors.New("peer identity is required")
)

// ChannelConfig fixes the peer of a channel. Identity and verification cannot
// change once a channel is open.
type ChannelConfig struct {
	// Address of the access point
	Address *url.URL
	// Identity is the simple name the peer certificate must carry
	Identity string
	// PeerCertificate is the certificate the peer is expected to present
	PeerCertificate *x509.Certificate
	// VerifyPeer decides whether the presented chain is trusted. ctx is the
	// context of the request whose connection is being established.
	VerifyPeer func(ctx context.Context, chain []*x509.Certificate) error
	// ClientCertificate is presented to the peer
	ClientCertificate *tls.Certificate
}

func (c ChannelConfig) validate() error {
	if c.Address == nil {
		return errors.New("address is required")
	}
	if c.Address.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrInsecureAddress, c.Address.Redacted())
	}
	if c.Identity == "" {
		return ErrNoIdentity
	}
	return nil
}

// Request is one document and its routing metadata
type Request struct {
	Metadata peppol.MessageMetadata
	Document []byte
}

// Channel sends requests to one access point
type Channel interface {
	Send(ctx context.Context, tok *token.Token, req *Request) ([]byte, error)
}

// Factory opens channels
type Factory interface {
	Open(cfg ChannelConfig) (Channel, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(cfg ChannelConfig) (Channel, error)

// Open calls f
func (f FactoryFunc) Open(cfg ChannelConfig) (Channel, error) {
	return f(cfg)
}

// Fault is a SOAP fault or a non-success HTTP response from the access point
type Fault struct {
	StatusCode int
	Code       string
	Subcode    string
	Reason     string
	Raw        []byte
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("access point returned status %d", f.StatusCode)
	if f.Code != "" {
		msg += ": " + f.Code
		if f.Subcode != "" {
			msg += "/" + f.Subcode
		}
	}
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	return msg
}
