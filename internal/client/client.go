// Package client assembles the directory lookup, trust validator and
// dispatcher from configuration.
//
// # Endpoint Resolution
//
// Send resolves the recipient through the configured directory:
//
//  1. sml - the SMP host is derived from the participant under the SML zone
//  2. bdxl - the SMP URL is read from a U-NAPTR record
//  3. static - a single SMP serves every participant
//
// SendKnown skips the directory and sends to the access point named in the
// service section of the configuration.
//
// # Retry Policy
//
// Sends that fail to resolve are retried with exponential backoff when
// dispatch.retry.maxAttempts is above one. Trust and transport failures are
// returned at once.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/sirosfoundation/go-ehf/internal/config"
	"github.com/sirosfoundation/go-ehf/internal/keystore"
	"github.com/sirosfoundation/go-ehf/pkg/discovery"
	"github.com/sirosfoundation/go-ehf/pkg/dispatch"
	"github.com/sirosfoundation/go-ehf/pkg/peppol"
	"github.com/sirosfoundation/go-ehf/pkg/policy"
	"github.com/sirosfoundation/go-ehf/pkg/security"
	"github.com/sirosfoundation/go-ehf/pkg/token"
	"github.com/sirosfoundation/go-ehf/pkg/transport"
	"github.com/sirosfoundation/go-ehf/pkg/validation"
)

var (
	// ErrNoClientCertificate is returned by the send methods when no client certificate is configured
	ErrNoClientCertificate = errors.New("no client certificate configured")
	// ErrNoKnownService is returned by SendKnown when no service endpoint is configured
	ErrNoKnownService = errors.New("no known service configured")
	// ErrIncompleteDocumentType is returned by Validate when only one of
	// document type and version is given
	ErrIncompleteDocumentType = errors.New("document type and version must be given together")
)

// Client sends and validates documents using one configuration. It is safe
// for concurrent use.
type Client struct {
	lookup     *discovery.Lookup
	validator  *security.TrustValidator
	dispatcher *dispatch.Dispatcher
	sender     dispatch.Sender
	service    *discovery.ResolvedEndpoint
	validation *validation.Client
	logger     *slog.Logger
}

// Option customizes a Client
type Option func(*options)

type options struct {
	logger   *slog.Logger
	channels transport.Factory
	locator  discovery.Locator
}

// WithLogger sets the logger, slog.Default() otherwise
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithChannelFactory replaces the HTTPS channel factory
func WithChannelFactory(f transport.Factory) Option {
	return func(o *options) {
		o.channels = f
	}
}

// WithLocator replaces the locator chosen by directory.mode
func WithLocator(l discovery.Locator) Option {
	return func(o *options) {
		o.locator = l
	}
}

// New builds a Client. The policy file, CA bundle and key material named in
// cfg are read here.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	c := &Client{logger: o.logger}

	locator := o.locator
	if locator == nil {
		var err error
		if locator, err = newLocator(cfg.Directory); err != nil {
			return nil, err
		}
	}
	c.lookup = discovery.NewLookup(discovery.LookupConfig{
		Locator:                locator,
		SMP:                    discovery.NewSMPClientWithConfig(discovery.SMPClientConfig{Timeout: cfg.Directory.Timeout}),
		TolerateMetadataErrors: cfg.Directory.TolerateMetadataErrors,
		Logger:                 o.logger,
	})

	validator, err := newTrustValidator(cfg.Trust)
	if err != nil {
		return nil, err
	}
	c.validator = validator

	c.validation = validation.NewClientWithConfig(validation.ClientConfig{
		URL:     cfg.Validation.URL,
		Timeout: cfg.Validation.Timeout,
		Logger:  o.logger,
	})

	if cfg.Service.Address != "" {
		if c.service, err = newKnownService(cfg.Service); err != nil {
			return nil, err
		}
	}

	if cfg.Client.CertFile == "" {
		o.logger.Debug("no client certificate configured, sending disabled")
		return c, nil
	}

	pair, err := keystore.LoadKeyPair(cfg.Client.CertFile, cfg.Client.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}

	var check security.CertificateCheck
	if cfg.Trust.Policy.Path != "" {
		engine, err := policy.NewEngine(ctx, cfg.Trust.Policy.Path, cfg.Trust.Policy.Query)
		if err != nil {
			return nil, fmt.Errorf("loading trust policy: %w", err)
		}
		check = engine.Check
	}

	channels := o.channels
	if channels == nil {
		httpsConfig := transport.DefaultHTTPSConfig()
		httpsConfig.Timeout = cfg.Dispatch.Timeout
		channels = transport.NewHTTPSFactory(httpsConfig)
	}
	if cfg.Dispatch.CacheChannels {
		channels = transport.NewChannelCache(channels)
	}

	c.dispatcher, err = dispatch.New(dispatch.Config{
		Resolver:          c.lookup,
		Channels:          channels,
		Minter:            token.NewSAMLMinter(token.WithLifetime(cfg.Dispatch.TokenLifetime)),
		Validator:         validator,
		ClientCertificate: pair,
		AssuranceLevel:    cfg.Dispatch.AssuranceLevel,
		RevocationCheck:   cfg.Trust.RevocationCheck,
		Check:             check,
		Channel:           cfg.Dispatch.Channel,
		Logger:            o.logger,
	})
	if err != nil {
		return nil, err
	}

	c.sender = c.dispatcher
	if r := cfg.Dispatch.Retry; r.MaxAttempts > 1 {
		c.sender = dispatch.NewRetrier(c.dispatcher, dispatch.RetryPolicy{
			MaxAttempts:     r.MaxAttempts,
			InitialInterval: r.InitialInterval,
			Multiplier:      r.Multiplier,
			MaxInterval:     r.MaxInterval,
		}, o.logger)
	}

	return c, nil
}

func newLocator(cfg config.DirectoryConfig) (discovery.Locator, error) {
	switch cfg.Mode {
	case config.DirectoryModeSML:
		return discovery.NewSMLLocator(cfg.SMLDomain), nil
	case config.DirectoryModeBDXL:
		return discovery.NewBDXLLocatorWithConfig(discovery.BDXLLocatorConfig{
			Domain:    cfg.BDXL.Domain,
			DNSServer: cfg.BDXL.DNSServer,
		}), nil
	case config.DirectoryModeStatic:
		return discovery.StaticLocator{URL: cfg.SMPURL}, nil
	default:
		return nil, fmt.Errorf("unknown directory mode %q", cfg.Mode)
	}
}

func newTrustValidator(cfg config.TrustConfig) (*security.TrustValidator, error) {
	thumbprints := security.NewThumbprintSet(cfg.RootThumbprints, cfg.AccessPointCAThumbprints, cfg.DirectoryCAThumbprints)

	var opts []security.ValidatorOption
	if cfg.CAFile != "" {
		certs, err := security.LoadCertificates(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("loading CA bundle: %w", err)
		}
		roots, intermediates := security.SplitCAs(certs)
		opts = append(opts, security.WithRoots(roots), security.WithIntermediatePool(intermediates))
	}
	if cfg.RevocationCheck {
		ocspConfig := security.DefaultOCSPConfig()
		ocspConfig.Timeout = cfg.OCSPTimeout
		opts = append(opts, security.WithRevocationChecker(security.NewOCSPRevocationChecker(ocspConfig)))
	}
	return security.NewTrustValidator(thumbprints, opts...), nil
}

func newKnownService(cfg config.ServiceConfig) (*discovery.ResolvedEndpoint, error) {
	address, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("service.address: %w", err)
	}
	cert, err := keystore.LoadCertificate(cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("service.certFile: %w", err)
	}
	return &discovery.ResolvedEndpoint{Address: address, Certificate: cert}, nil
}

// Validator returns the trust validator built from the trust section
func (c *Client) Validator() *security.TrustValidator {
	return c.validator
}

// Lookup returns the service group of participant and the URL it was read from
func (c *Client) Lookup(ctx context.Context, participant string) (*discovery.ServiceGroup, string, error) {
	id, err := peppol.ParseParticipantIdentifier(participant)
	if err != nil {
		return nil, "", err
	}
	sg, target, err := c.lookup.ServiceGroup(ctx, id)
	if err != nil {
		c.logger.Error("lookup failed", "participant", id.String(), "error", err)
		return nil, target, err
	}
	return sg, target, nil
}

// Send dispatches document to the access point serving receiver. Empty
// documentType and process select the EHF invoice type and the document's
// ProfileID.
func (c *Client) Send(ctx context.Context, document []byte, sender, receiver, documentType, process string) (*dispatch.Result, error) {
	if c.sender == nil {
		return nil, ErrNoClientCertificate
	}
	res, err := c.sender.Send(ctx, dispatch.Request{
		Document:     document,
		Sender:       sender,
		Recipient:    receiver,
		DocumentType: documentType,
		Process:      process,
	})
	if err != nil {
		c.logSendError(receiver, err)
		return nil, err
	}
	c.logger.Info("document sent", "message_id", res.MessageID, "address", res.Endpoint.Address.Redacted(), "elapsed", res.Elapsed)
	return res, nil
}

// SendKnown dispatches document to the configured service endpoint
func (c *Client) SendKnown(ctx context.Context, document []byte, sender, receiver, documentType, process string) (*dispatch.Result, error) {
	if c.dispatcher == nil {
		return nil, ErrNoClientCertificate
	}
	if c.service == nil {
		return nil, ErrNoKnownService
	}
	res, err := c.dispatcher.SendTo(ctx, dispatch.Request{
		Document:     document,
		Sender:       sender,
		Recipient:    receiver,
		DocumentType: documentType,
		Process:      process,
	}, c.service)
	if err != nil {
		c.logSendError(receiver, err)
		return nil, err
	}
	c.logger.Info("document sent", "message_id", res.MessageID, "address", c.service.Address.Redacted(), "elapsed", res.Elapsed)
	return res, nil
}

// Validate checks document with the validation service. The typed endpoint
// is used when both documentType and version are given and the generic one
// when neither is.
func (c *Client) Validate(ctx context.Context, document []byte, documentType, version string) (*validation.Result, error) {
	var (
		res *validation.Result
		err error
	)
	switch {
	case documentType == "" && version == "":
		res, err = c.validation.Validate(ctx, document)
	case documentType == "" || version == "":
		return nil, fmt.Errorf("%w: got document type %q and version %q", ErrIncompleteDocumentType, documentType, version)
	default:
		res, err = c.validation.ValidateAs(ctx, document, documentType, version)
	}
	if err != nil {
		c.logger.Error("validation failed", "error", err)
		return nil, err
	}
	return res, nil
}

func (c *Client) logSendError(receiver string, err error) {
	attrs := []any{"participant", receiver, "error", err}
	if phase, ok := dispatch.FailedPhase(err); ok {
		attrs = append(attrs, "phase", phase.String())
	}
	c.logger.Error("send failed", attrs...)
}
