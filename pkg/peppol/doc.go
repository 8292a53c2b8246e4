// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package peppol holds the identifier schemes, document and process types and
per-message routing metadata used when exchanging EHF/PEPPOL BIS documents.

# Participant Identifiers

Participants are addressed by an ISO 6523 identifier in the
iso6523-actorid-upis scheme. Values are matched case-insensitively and are
lower-cased before use:

	p := peppol.NewParticipantIdentifier("9908:974763907")
	p.String() // "iso6523-actorid-upis::9908:974763907"

# Message Metadata

Every send gets fresh metadata with a new "uuid:" message identifier:

	md := peppol.NewMessageMetadata(sender, receiver,
	    peppol.DocumentTypeInvoicePeppol4aEHF, peppol.ProcessBii04, peppol.DefaultChannel)

# Process Detection

When the caller does not name a process, it is taken from the cbc:ProfileID
element of the UBL document:

	process := peppol.DetectProcessID(document)
*/
package peppol
