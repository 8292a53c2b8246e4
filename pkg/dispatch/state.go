package dispatch

import (
	"fmt"
	"log/slog"
)

// State is a step of the linear dispatch state machine:
//
//	Init → Validated → MetadataBuilt → Resolved → ChannelConfigured → TokenMinted → Sent → Done
//
// Any step may move to Failed instead. Done and Failed are terminal.
type State int

const (
	StateInit State = iota
	StateValidated
	StateMetadataBuilt
	StateResolved
	StateChannelConfigured
	StateTokenMinted
	StateSent
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:              "init",
	StateValidated:         "validated",
	StateMetadataBuilt:     "metadata-built",
	StateResolved:          "resolved",
	StateChannelConfigured: "channel-configured",
	StateTokenMinted:       "token-minted",
	StateSent:              "sent",
	StateDone:              "done",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// run tracks the state of one dispatch
type run struct {
	logger    *slog.Logger
	messageID string
	state     State
	observe   func(messageID string, s State)
}

func (r *run) advance(next State) {
	r.logger.Debug("dispatch state", "message_id", r.messageID, "from", r.state.String(), "to", next.String())
	r.state = next
	if r.observe != nil {
		r.observe(r.messageID, next)
	}
}

func (r *run) fail(phase Phase, err error) error {
	r.logger.Debug("dispatch state",
		"message_id", r.messageID,
		"from", r.state.String(),
		"to", StateFailed.String(),
		"phase", phase.String(),
		"error", err)
	r.state = StateFailed
	if r.observe != nil {
		r.observe(r.messageID, StateFailed)
	}
	return &DispatchError{Phase: phase, MessageID: r.messageID, Err: err}
}
