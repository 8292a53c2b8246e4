// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport delivers documents to access points over HTTPS.

A Channel is bound to one access point when it is opened. ChannelConfig
fixes the address, the identity the peer certificate must carry and the
function that decides whether the presented chain is trusted. None of these
can change afterwards, so a channel is normally opened for every dispatch.

	factory := transport.NewHTTPSFactory(nil)
	ch, err := factory.Open(transport.ChannelConfig{
	    Address:           endpoint.Address,
	    Identity:          security.SimpleName(endpoint.Certificate),
	    PeerCertificate:   endpoint.Certificate,
	    VerifyPeer:        validator.PeerVerifier(tc),
	    ClientCertificate: &clientCert,
	})
	resp, err := ch.Send(ctx, tok, &transport.Request{Metadata: md, Document: doc})

# Peer verification

The TLS handshake does not use the system roots. The presented chain is
parsed, the leaf's simple name is compared with Identity, and VerifyPeer is
called with the chain and the context of the request that dialed the
connection. A failure aborts the handshake and Send returns an
error matching both ErrPeerRejected and the verification error.

# Envelope

Requests are SOAP 1.2 envelopes. The header carries WS-Addressing fields,
the PEPPOL routing identifiers (sender, recipient, document type, process,
channel and message id) and a WS-Security header holding the sender-vouches
assertion. The document is the body. Non-2xx responses are returned as a
*Fault with the SOAP fault code and reason when present.

# Caching

ChannelCache is an optional Factory that reuses channels per address and
replaces an entry when the address is reopened with a different peer
certificate.

# TLS Configuration

TLS 1.2 and 1.3 are offered. For TLS 1.2, the following cipher suites are used:
  - TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
  - TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256

# References

  - SOAP 1.2: https://www.w3.org/TR/soap12-part1/
  - WS-Addressing 1.0: https://www.w3.org/TR/ws-addr-core/
  - TLS 1.3 RFC 8446: https://datatracker.ietf.org/doc/html/rfc8446
*/
package transport
