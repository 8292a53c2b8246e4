package dispatch

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned before any network call when a required
// field of a Request is missing or the document is not well-formed XML.
var ErrInvalidArgument = errors.New("invalid argument")

// Phase identifies the step of a dispatch that failed
type Phase int

const (
	// PhaseResolve covers the directory lookup; the cause is a *discovery.LookupError
	PhaseResolve Phase = iota + 1
	// PhaseConfigure covers building the trust context and opening the channel
	PhaseConfigure
	// PhaseToken covers minting the sender-vouches token
	PhaseToken
	// PhaseTransport covers the round trip, including the peer certificate check
	PhaseTransport
)

func (p Phase) String() string {
	switch p {
	case PhaseResolve:
		return "resolve"
	case PhaseConfigure:
		return "configure"
	case PhaseToken:
		return "token"
	case PhaseTransport:
		return "transport"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DispatchError reports the phase a send failed in and the original cause
type DispatchError struct {
	Phase     Phase
	MessageID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of %s failed at %s: %v", e.MessageID, e.Phase, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// FailedPhase returns the phase of the DispatchError in err's chain
func FailedPhase(err error) (Phase, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Phase, true
	}
	return 0, false
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
