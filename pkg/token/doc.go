// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package token mints the sender-vouches security tokens that accompany a
document sent to an access point.

A token is a signed SAML 2.0 assertion. The sending access point vouches for
the sender participant named in the subject; the recipient does not need to
verify the sender's own credentials. The assertion is restricted to the
address of the receiving access point and carries the authentication
assurance level claimed for the sender.

	minter := token.NewSAMLMinter()
	tok, err := minter.Mint("9908:974763907", peppol.AssuranceLevel,
	    "https://ap.example/oxalis", clientCert)

The assertion is signed with an enveloped XML signature (RSA-SHA256,
exclusive canonicalization) by the client certificate's RSA key, and the
certificate is carried in KeyInfo. A token is valid for one call.
*/
package token
