package peppol

import (
	"errors"
	"fmt"
	"strings"
)

// Identifier schemes
const (
	// ParticipantScheme is the only participant identifier scheme used on the network
	ParticipantScheme = "iso6523-actorid-upis"
	// DocumentTypeScheme is the document type identifier scheme
	DocumentTypeScheme = "busdox-docid-qns"
	// ProcessScheme is the process identifier scheme
	ProcessScheme = "cenbii-procid-ubl"
)

// Document types
const (
	// DocumentTypeInvoicePeppol4a is the PEPPOL BIS invoice-only profile for cross-border invoices
	DocumentTypeInvoicePeppol4a = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:www.cenbii.eu:transaction:biicoretrdm010:ver1.0:#urn:www.peppol.eu:bis:peppol4a:ver1.0::2.0"
	// DocumentTypeInvoicePeppol4aEHF is the Norwegian EHF invoice-only customization
	DocumentTypeInvoicePeppol4aEHF = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:www.cenbii.eu:transaction:biicoretrdm010:ver1.0:#urn:www.peppol.eu:bis:peppol4a:ver1.0#urn:www.difi.no:ehf:faktura:ver1::2.0"
)

// Process types
const (
	// ProcessBii04 is the BII04 invoice-only process
	ProcessBii04 = "urn:www.cenbii.eu:profile:bii04:ver1.0"
)

const (
	// DefaultChannel is the channel identifier sent when the caller names none
	DefaultChannel = ""
	// DefaultSMLDomain is the production SML zone
	DefaultSMLDomain = "sml.peppolcentral.org"
	// AssuranceLevel is the authentication assurance level claimed for senders
	AssuranceLevel = 3
)

// ErrInvalidParticipant is returned when a participant identifier cannot be parsed
var ErrInvalidParticipant = errors.New("invalid participant identifier")

// ParticipantIdentifier identifies a network participant independently of its address
type ParticipantIdentifier struct {
	Scheme string
	Value  string
}

// NewParticipantIdentifier returns an identifier in the participant scheme.
// The value is trimmed and lower-cased.
func NewParticipantIdentifier(value string) ParticipantIdentifier {
	return ParticipantIdentifier{
		Scheme: ParticipantScheme,
		Value:  strings.ToLower(strings.TrimSpace(value)),
	}
}

// ParseParticipantIdentifier accepts either "scheme::value" or a bare value
// such as "9908:974763907".
func ParseParticipantIdentifier(s string) (ParticipantIdentifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ParticipantIdentifier{}, fmt.Errorf("%w: empty", ErrInvalidParticipant)
	}
	scheme, value, found := strings.Cut(s, "::")
	if !found {
		return NewParticipantIdentifier(s), nil
	}
	if !strings.EqualFold(scheme, ParticipantScheme) {
		return ParticipantIdentifier{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidParticipant, scheme)
	}
	if strings.TrimSpace(value) == "" {
		return ParticipantIdentifier{}, fmt.Errorf("%w: empty value", ErrInvalidParticipant)
	}
	return NewParticipantIdentifier(value), nil
}

// String returns the URL form "scheme::value"
func (p ParticipantIdentifier) String() string {
	return p.Scheme + "::" + p.Value
}

// IsZero reports whether the identifier has no value
func (p ParticipantIdentifier) IsZero() bool {
	return p.Value == ""
}
