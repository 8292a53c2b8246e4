package discovery

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
	"github.com/sirosfoundation/go-ehf/pkg/security"
)

// Stage identifies the step of a directory lookup that failed
type Stage int

const (
	// StageProbe covers locating the SMP and checking the participant is registered
	StageProbe Stage = iota + 1
	// StageAddressResolution covers fetching the endpoint address and certificate
	StageAddressResolution
	// StageMetadataParse covers fetching and parsing the service group
	StageMetadataParse
)

func (s Stage) String() string {
	switch s {
	case StageProbe:
		return "probe"
	case StageAddressResolution:
		return "address resolution"
	case StageMetadataParse:
		return "metadata parse"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// LookupError reports which stage of a lookup failed, for which target
type LookupError struct {
	Stage  Stage
	Target string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("directory lookup failed at %s (%s): %v", e.Stage, e.Target, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Query names the participant and the service a document will be sent to
type Query struct {
	Participant  peppol.ParticipantIdentifier
	DocumentType string
	// Process matches any process when empty
	Process string
	// TransportProfile matches any profile when empty
	TransportProfile string
}

// ResolvedEndpoint is where and to whom a document is sent
type ResolvedEndpoint struct {
	Address          *url.URL
	Certificate      *x509.Certificate
	SMPURL           string
	TransportProfile string
	// ServiceGroup is nil when it was not fetched or could not be parsed
	ServiceGroup *ServiceGroup
}

// Resolver turns a query into an endpoint
type Resolver interface {
	Resolve(ctx context.Context, q Query) (*ResolvedEndpoint, error)
}

// LookupConfig configures a Lookup
type LookupConfig struct {
	// Locator finds the SMP, an SMLLocator for the production zone if nil
	Locator Locator
	// SMP is the SMP client, NewSMPClient() if nil
	SMP *SMPClient
	// TolerateMetadataErrors logs service group failures instead of failing the lookup
	TolerateMetadataErrors bool
	Logger                 *slog.Logger
}

// Lookup resolves participants through the SML/SMP directory. It holds no
// per-call state and is safe for concurrent use.
type Lookup struct {
	locator          Locator
	smp              *SMPClient
	tolerateMetadata bool
	logger           *slog.Logger
}

// NewLookup creates a directory lookup
func NewLookup(cfg LookupConfig) *Lookup {
	l := &Lookup{
		locator:          cfg.Locator,
		smp:              cfg.SMP,
		tolerateMetadata: cfg.TolerateMetadataErrors,
		logger:           cfg.Logger,
	}
	if l.locator == nil {
		l.locator = NewSMLLocator(peppol.DefaultSMLDomain)
	}
	if l.smp == nil {
		l.smp = NewSMPClient()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Resolve finds the access point serving q. The stages run in order and the
// first failure aborts the lookup:
//
//  1. probe: locate the SMP and HEAD the participant's service group
//  2. address resolution: fetch the endpoint for the document type and
//     process, including its certificate
//  3. metadata parse: fetch the full service group
func (l *Lookup) Resolve(ctx context.Context, q Query) (*ResolvedEndpoint, error) {
	if q.Participant.IsZero() {
		return nil, &LookupError{Stage: StageProbe, Err: ErrInvalidPartyID}
	}

	smpURL, err := l.probe(ctx, q.Participant)
	if err != nil {
		return nil, err
	}
	target := ServiceGroupURL(smpURL, q.Participant)

	endpoint, err := l.smp.GetEndpoint(ctx, smpURL, q.Participant, q.DocumentType, q.Process, q.TransportProfile)
	if err != nil {
		return nil, &LookupError{Stage: StageAddressResolution, Target: target, Err: err}
	}
	resolved, err := newResolvedEndpoint(endpoint)
	if err != nil {
		return nil, &LookupError{Stage: StageAddressResolution, Target: target, Err: err}
	}
	resolved.SMPURL = target
	l.logger.Debug("endpoint resolved",
		"participant", q.Participant.String(),
		"address", resolved.Address.String(),
		"certificate", security.SimpleName(resolved.Certificate))

	sg, err := l.smp.GetServiceGroup(ctx, smpURL, q.Participant)
	if err != nil {
		if !l.tolerateMetadata {
			return nil, &LookupError{Stage: StageMetadataParse, Target: target, Err: err}
		}
		l.logger.Warn("ignoring service group failure",
			"participant", q.Participant.String(),
			"smp_url", target,
			"error", err)
	}
	resolved.ServiceGroup = sg

	return resolved, nil
}

// ServiceGroup returns the participant's service group without resolving an
// endpoint. Failures are reported with the probe or metadata parse stage.
func (l *Lookup) ServiceGroup(ctx context.Context, participant peppol.ParticipantIdentifier) (*ServiceGroup, string, error) {
	if participant.IsZero() {
		return nil, "", &LookupError{Stage: StageProbe, Err: ErrInvalidPartyID}
	}
	smpURL, err := l.probe(ctx, participant)
	if err != nil {
		return nil, "", err
	}
	target := ServiceGroupURL(smpURL, participant)

	sg, err := l.smp.GetServiceGroup(ctx, smpURL, participant)
	if err != nil {
		return nil, target, &LookupError{Stage: StageMetadataParse, Target: target, Err: err}
	}
	return sg, target, nil
}

func (l *Lookup) probe(ctx context.Context, participant peppol.ParticipantIdentifier) (string, error) {
	smpURL, err := l.locator.LocateSMP(ctx, participant)
	if err != nil {
		return "", &LookupError{Stage: StageProbe, Target: participant.String(), Err: err}
	}
	target := ServiceGroupURL(smpURL, participant)
	l.logger.Debug("probing SMP", "participant", participant.String(), "smp_url", target)

	if err := l.smp.Probe(ctx, smpURL, participant); err != nil {
		return "", &LookupError{Stage: StageProbe, Target: target, Err: err}
	}
	return smpURL, nil
}

func newResolvedEndpoint(ep *Endpoint) (*ResolvedEndpoint, error) {
	if ep.EndpointURL == "" {
		return nil, errors.New("endpoint has no address")
	}
	address, err := url.Parse(ep.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint address: %w", err)
	}
	if !address.IsAbs() || address.Host == "" {
		return nil, fmt.Errorf("endpoint address %q is not absolute", ep.EndpointURL)
	}
	if ep.Certificate == "" {
		return nil, errors.New("endpoint has no certificate")
	}
	cert, err := security.ParseCertificate([]byte(ep.Certificate))
	if err != nil {
		return nil, fmt.Errorf("endpoint certificate: %w", err)
	}
	return &ResolvedEndpoint{
		Address:          address,
		Certificate:      cert,
		TransportProfile: ep.TransportProfile,
	}, nil
}

// StaticResolver returns a fixed endpoint for every query. It serves the
// known access point configured locally.
type StaticResolver struct {
	Address     *url.URL
	Certificate *x509.Certificate
}

// Resolve returns a copy of the configured endpoint
func (r StaticResolver) Resolve(_ context.Context, _ Query) (*ResolvedEndpoint, error) {
	target := ""
	if r.Address != nil {
		target = r.Address.String()
	}
	if r.Address == nil || r.Certificate == nil {
		return nil, &LookupError{
			Stage:  StageAddressResolution,
			Target: target,
			Err:    errors.New("static endpoint requires an address and a certificate"),
		}
	}
	address := *r.Address
	return &ResolvedEndpoint{
		Address:     &address,
		Certificate: r.Certificate,
	}, nil
}
