package peppol

import (
	"github.com/google/uuid"
)

// MessageMetadata carries the routing headers of one outbound message
type MessageMetadata struct {
	SenderID       ParticipantIdentifier
	RecipientID    ParticipantIdentifier
	DocumentTypeID string
	ProcessID      string
	ChannelID      string
	// MessageID is "uuid:" followed by a random UUID, new for every call
	MessageID string
}

// NewMessageMetadata builds metadata for a single send.
func NewMessageMetadata(sender, recipient, documentType, process, channel string) MessageMetadata {
	return MessageMetadata{
		SenderID:       NewParticipantIdentifier(sender),
		RecipientID:    NewParticipantIdentifier(recipient),
		DocumentTypeID: documentType,
		ProcessID:      process,
		ChannelID:      channel,
		MessageID:      NewMessageID(),
	}
}

// NewMessageID returns a fresh message identifier
func NewMessageID() string {
	return "uuid:" + uuid.NewString()
}
