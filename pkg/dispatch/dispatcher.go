package dispatch

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-ehf/pkg/discovery"
	"github.com/sirosfoundation/go-ehf/pkg/peppol"
	"github.com/sirosfoundation/go-ehf/pkg/security"
	"github.com/sirosfoundation/go-ehf/pkg/token"
	"github.com/sirosfoundation/go-ehf/pkg/transport"
)

// Request is one document to send
type Request struct {
	Document  []byte
	Sender    string
	Recipient string
	// DocumentType defaults to peppol.DocumentTypeInvoicePeppol4aEHF
	DocumentType string
	// Process defaults to the document's ProfileID
	Process string
}

// Result describes a successful dispatch
type Result struct {
	MessageID string
	Response  []byte
	Elapsed   time.Duration
	Endpoint  *discovery.ResolvedEndpoint
}

// Config holds the collaborators of a Dispatcher. Resolver, Validator and
// ClientCertificate are required.
type Config struct {
	Resolver discovery.Resolver
	// Channels opens the channel for each dispatch, an HTTPSFactory if nil
	Channels transport.Factory
	// Minter mints the sender token, a SAMLMinter if nil
	Minter    token.Minter
	Validator *security.TrustValidator
	// ClientCertificate signs tokens and authenticates the TLS session
	ClientCertificate tls.Certificate
	// AssuranceLevel claimed for senders, peppol.AssuranceLevel if zero
	AssuranceLevel  int
	RevocationCheck bool
	// Check is run after the built-in trust checks on the access point certificate
	Check security.CertificateCheck
	// Channel is the channel identifier sent with every message
	Channel string
	// OnTransition is called after every state change
	OnTransition func(messageID string, state State)
	Logger       *slog.Logger
}

// Dispatcher sends documents to the access point serving the recipient.
// It keeps no state between calls and is safe for concurrent use.
type Dispatcher struct {
	resolver        discovery.Resolver
	channels        transport.Factory
	minter          token.Minter
	validator       *security.TrustValidator
	clientCert      tls.Certificate
	assuranceLevel  int
	revocationCheck bool
	check           security.CertificateCheck
	channelID       string
	onTransition    func(string, State)
	logger          *slog.Logger
}

// New creates a Dispatcher
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("trust validator is required")
	}
	if len(cfg.ClientCertificate.Certificate) == 0 {
		return nil, errors.New("client certificate is required")
	}

	d := &Dispatcher{
		resolver:        cfg.Resolver,
		channels:        cfg.Channels,
		minter:          cfg.Minter,
		validator:       cfg.Validator,
		clientCert:      cfg.ClientCertificate,
		assuranceLevel:  cfg.AssuranceLevel,
		revocationCheck: cfg.RevocationCheck,
		check:           cfg.Check,
		channelID:       cfg.Channel,
		onTransition:    cfg.OnTransition,
		logger:          cfg.Logger,
	}
	if d.channels == nil {
		d.channels = transport.NewHTTPSFactory(nil)
	}
	if d.minter == nil {
		d.minter = token.NewSAMLMinter()
	}
	if d.assuranceLevel == 0 {
		d.assuranceLevel = peppol.AssuranceLevel
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d, nil
}

// Send resolves the recipient's access point and delivers req to it.
//
// The steps are validation, metadata, resolution, channel configuration,
// token minting and transport. Each runs only if the previous one
// succeeded; a failure is returned as a *DispatchError naming the phase,
// except for invalid requests, which fail with ErrInvalidArgument before
// any network call. Nothing is retried.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	r := d.newRun()

	md, err := d.prepare(r, &req)
	if err != nil {
		return nil, err
	}

	endpoint, err := d.resolver.Resolve(ctx, discovery.Query{
		Participant:  md.RecipientID,
		DocumentType: md.DocumentTypeID,
		Process:      md.ProcessID,
	})
	if err != nil {
		return nil, r.fail(PhaseResolve, err)
	}
	r.advance(StateResolved)

	return d.deliver(ctx, r, start, md, req.Document, endpoint)
}

// SendTo delivers req to an endpoint resolved by the caller, such as a
// locally configured access point.
func (d *Dispatcher) SendTo(ctx context.Context, req Request, endpoint *discovery.ResolvedEndpoint) (*Result, error) {
	start := time.Now()
	r := d.newRun()

	if endpoint == nil || endpoint.Address == nil || endpoint.Certificate == nil {
		return nil, invalidArgument("endpoint requires an address and a certificate")
	}
	md, err := d.prepare(r, &req)
	if err != nil {
		return nil, err
	}
	r.advance(StateResolved)

	return d.deliver(ctx, r, start, md, req.Document, endpoint)
}

func (d *Dispatcher) newRun() *run {
	return &run{logger: d.logger, state: StateInit, observe: d.onTransition}
}

// prepare validates req, fills in defaults and builds the message metadata
func (d *Dispatcher) prepare(r *run, req *Request) (peppol.MessageMetadata, error) {
	if err := validateRequest(req); err != nil {
		return peppol.MessageMetadata{}, err
	}
	r.advance(StateValidated)

	if req.DocumentType == "" {
		req.DocumentType = peppol.DocumentTypeInvoicePeppol4aEHF
	}
	if req.Process == "" {
		req.Process = peppol.DetectProcessID(req.Document)
	}
	md := peppol.NewMessageMetadata(req.Sender, req.Recipient, req.DocumentType, req.Process, d.channelID)
	r.messageID = md.MessageID
	r.advance(StateMetadataBuilt)
	return md, nil
}

// validateRequest checks req and reduces the participants to their bare
// values, so "iso6523-actorid-upis::9908:974763907" and "9908:974763907"
// address the same participant.
func validateRequest(req *Request) error {
	if strings.TrimSpace(req.Sender) == "" {
		return invalidArgument("sender is required")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return invalidArgument("recipient is required")
	}
	sender, err := peppol.ParseParticipantIdentifier(req.Sender)
	if err != nil {
		return invalidArgument("sender: %v", err)
	}
	recipient, err := peppol.ParseParticipantIdentifier(req.Recipient)
	if err != nil {
		return invalidArgument("recipient: %v", err)
	}
	req.Sender, req.Recipient = sender.Value, recipient.Value
	if len(req.Document) == 0 {
		return invalidArgument("document is required")
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(req.Document); err != nil {
		return invalidArgument("document is not well-formed XML: %v", err)
	}
	if doc.Root() == nil {
		return invalidArgument("document has no root element")
	}
	return nil
}

// deliver runs the steps after resolution: pin the endpoint certificate,
// open a channel bound to it, mint the token and send.
func (d *Dispatcher) deliver(ctx context.Context, r *run, start time.Time, md peppol.MessageMetadata, document []byte, endpoint *discovery.ResolvedEndpoint) (*Result, error) {
	identity := security.SimpleName(endpoint.Certificate)
	if identity == "" {
		return nil, r.fail(PhaseConfigure, errors.New("access point certificate has no usable name"))
	}
	tc := security.TrustContext{
		ExpectedIssuer:      security.IssuerAccessPointCA,
		ExpectedCertificate: endpoint.Certificate,
		RevocationCheck:     d.revocationCheck,
		Check:               d.check,
	}
	ch, err := d.channels.Open(transport.ChannelConfig{
		Address:           endpoint.Address,
		Identity:          identity,
		PeerCertificate:   endpoint.Certificate,
		VerifyPeer:        d.validator.PeerVerifier(tc),
		ClientCertificate: &d.clientCert,
	})
	if err != nil {
		return nil, r.fail(PhaseConfigure, err)
	}
	r.advance(StateChannelConfigured)

	tok, err := d.minter.Mint(md.SenderID.Value, d.assuranceLevel, endpoint.Address.String(), d.clientCert)
	if err != nil {
		return nil, r.fail(PhaseToken, err)
	}
	r.advance(StateTokenMinted)

	resp, err := ch.Send(ctx, tok, &transport.Request{Metadata: md, Document: document})
	if err != nil {
		return nil, r.fail(PhaseTransport, err)
	}
	r.advance(StateSent)

	res := &Result{
		MessageID: md.MessageID,
		Response:  resp,
		Elapsed:   time.Since(start),
		Endpoint:  endpoint,
	}
	r.advance(StateDone)
	return res, nil
}
