package peppol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParticipantIdentifier(t *testing.T) {
	p := NewParticipantIdentifier("  9908:ABC123 ")
	assert.Equal(t, ParticipantScheme, p.Scheme)
	assert.Equal(t, "9908:abc123", p.Value)
	assert.Equal(t, "iso6523-actorid-upis::9908:abc123", p.String())
	assert.False(t, p.IsZero())
	assert.True(t, NewParticipantIdentifier("").IsZero())
}

func TestParseParticipantIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare value", input: "9908:974763907", want: "9908:974763907"},
		{name: "qualified", input: "iso6523-actorid-upis::9908:974763907", want: "9908:974763907"},
		{name: "qualified upper case scheme", input: "ISO6523-ACTORID-UPIS::9908:XYZ", want: "9908:xyz"},
		{name: "empty", input: "   ", wantErr: true},
		{name: "unknown scheme", input: "other::9908:1", wantErr: true},
		{name: "empty value", input: "iso6523-actorid-upis::", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseParticipantIdentifier(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidParticipant)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Value)
			assert.Equal(t, ParticipantScheme, p.Scheme)
		})
	}
}

func TestNewMessageMetadata(t *testing.T) {
	a := NewMessageMetadata("9908:SENDER", "9908:Receiver", DocumentTypeInvoicePeppol4aEHF, ProcessBii04, DefaultChannel)
	b := NewMessageMetadata("9908:SENDER", "9908:Receiver", DocumentTypeInvoicePeppol4aEHF, ProcessBii04, DefaultChannel)

	assert.Equal(t, "9908:sender", a.SenderID.Value)
	assert.Equal(t, "9908:receiver", a.RecipientID.Value)
	assert.True(t, strings.HasPrefix(a.MessageID, "uuid:"))
	assert.Len(t, a.MessageID, len("uuid:")+36)
	assert.NotEqual(t, a.MessageID, b.MessageID)
}

func TestDetectProcessID(t *testing.T) {
	tests := []struct {
		name     string
		document string
		want     string
	}{
		{
			name: "profile present",
			document: `<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
  xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:CustomizationID>urn:www.cenbii.eu:transaction:biitrns010:ver2.0</cbc:CustomizationID>
  <cbc:ProfileID>urn:www.cenbii.eu:profile:bii05:ver2.0</cbc:ProfileID>
</Invoice>`,
			want: "urn:www.cenbii.eu:profile:bii05:ver2.0",
		},
		{
			name: "profile in other namespace",
			document: `<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2">
  <ProfileID>urn:www.cenbii.eu:profile:bii05:ver2.0</ProfileID>
</Invoice>`,
			want: ProcessBii04,
		},
		{
			name:     "no profile",
			document: `<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"/>`,
			want:     ProcessBii04,
		},
		{
			name:     "not xml",
			document: `not xml at all`,
			want:     ProcessBii04,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProcessID([]byte(tt.document)))
		})
	}
}
