package discovery

import (
	"context"
	"crypto/md5" //nolint:gosec // the SML host label is defined as an MD5 hash
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
)

// Locator finds the base URL of the SMP serving a participant
type Locator interface {
	LocateSMP(ctx context.Context, participant peppol.ParticipantIdentifier) (string, error)
}

// SMLLocator derives the SMP host from the participant identifier the way the
// SML publishes it in DNS: B-<md5(value)>.<scheme>.<domain>. No lookup is made;
// the host is resolved when the SMP is contacted.
type SMLLocator struct {
	// Domain is the SML zone, peppol.DefaultSMLDomain if empty
	Domain string
}

// NewSMLLocator creates a locator for the given SML zone
func NewSMLLocator(domain string) *SMLLocator {
	return &SMLLocator{Domain: domain}
}

// LocateSMP returns http://B-<md5>.<scheme>.<domain>
func (l *SMLLocator) LocateSMP(_ context.Context, participant peppol.ParticipantIdentifier) (string, error) {
	host, err := l.Host(participant)
	if err != nil {
		return "", err
	}
	return "http://" + host, nil
}

// Host returns the SML host name for participant
func (l *SMLLocator) Host(participant peppol.ParticipantIdentifier) (string, error) {
	if participant.IsZero() {
		return "", ErrInvalidPartyID
	}
	domain := l.Domain
	if domain == "" {
		domain = peppol.DefaultSMLDomain
	}
	scheme := participant.Scheme
	if scheme == "" {
		scheme = peppol.ParticipantScheme
	}
	sum := md5.Sum([]byte(strings.ToLower(participant.Value))) //nolint:gosec
	return fmt.Sprintf("B-%s.%s.%s", hex.EncodeToString(sum[:]), strings.ToLower(scheme), strings.TrimSuffix(domain, ".")), nil
}

// StaticLocator always returns the same SMP
type StaticLocator struct {
	URL string
}

// LocateSMP returns the configured URL
func (l StaticLocator) LocateSMP(_ context.Context, participant peppol.ParticipantIdentifier) (string, error) {
	if participant.IsZero() {
		return "", ErrInvalidPartyID
	}
	if l.URL == "" {
		return "", errors.New("no SMP URL configured")
	}
	return l.URL, nil
}
