// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package dispatch sends one business document to the access point serving
its recipient.

A Dispatcher runs a fixed, linear pipeline for every Send:

	Init → Validated → MetadataBuilt → Resolved → ChannelConfigured → TokenMinted → Sent → Done

Any step may end in Failed instead. Requests with an empty sender,
recipient or document fail with ErrInvalidArgument before any network
call. Other failures are returned as a *DispatchError that names the phase
and wraps the original cause, so callers can match both:

	res, err := d.Send(ctx, dispatch.Request{
	    Document:  invoice,
	    Sender:    "9908:974763907",
	    Recipient: "9908:810017902",
	})
	var lerr *discovery.LookupError
	switch {
	case errors.Is(err, dispatch.ErrInvalidArgument):
	case errors.As(err, &lerr):
	    // directory lookup failed at lerr.Stage
	case errors.Is(err, security.ErrCertificateMismatch):
	    // the access point presented a certificate other than the published one
	}

# Trust

The certificate published for the access point is pinned. A fresh
TrustContext expecting the access point CA as issuer and that exact
certificate is bound to the channel as its peer check, and the channel
identity is the certificate's simple name. Both are fixed before the
channel is used, which is why a channel is opened for every dispatch.
transport.ChannelCache can be passed as Channels to reuse channels.

# Retries

The Dispatcher never retries. Retrier layers exponential backoff on top
and only repeats sends whose lookup failed; trust decisions and transport
faults are returned at once.
*/
package dispatch
