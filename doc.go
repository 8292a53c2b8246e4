// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package goehf sends EHF business documents to PEPPOL access points.

# Overview

go-ehf takes a UBL document, finds the access point serving its recipient
through the SML/SMP directory, checks that the access point certificate
belongs to the PEPPOL network and delivers the document over a mutually
authenticated TLS channel carrying a signed SAML sender-vouches token.

# Specifications Implemented

  - PEPPOL Transport Infrastructure Agreement, START profile
  - PEPPOL Service Metadata Locator (SML) 1.0 and BDXL U-NAPTR discovery
  - PEPPOL Service Metadata Publishing (SMP) 1.0
  - SAML 2.0 sender-vouches assertions: https://docs.oasis-open.org/security/saml/v2.0/
  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core1/
  - EHF invoice profiles: https://anskaffelser.dev/

# Package Structure

	github.com/sirosfoundation/go-ehf/pkg/peppol     - Identifiers, document types and message metadata
	github.com/sirosfoundation/go-ehf/pkg/security   - Thumbprint store, trust validator, OCSP/CRL
	github.com/sirosfoundation/go-ehf/pkg/discovery  - SML, BDXL and SMP lookup
	github.com/sirosfoundation/go-ehf/pkg/token      - SAML sender-vouches token minting
	github.com/sirosfoundation/go-ehf/pkg/transport  - SOAP over HTTPS channel with pinned peers
	github.com/sirosfoundation/go-ehf/pkg/dispatch   - The send pipeline and retries
	github.com/sirosfoundation/go-ehf/pkg/validation - REST schema validation client
	github.com/sirosfoundation/go-ehf/pkg/policy     - Rego policies as extra certificate checks

# Quick Start

	thumbprints := security.NewThumbprintSet(rootCAs, accessPointCAs, smpCAs)
	validator := security.NewTrustValidator(thumbprints,
	    security.WithRoots(roots),
	    security.WithIntermediatePool(intermediates),
	)

	d, err := dispatch.New(dispatch.Config{
	    Resolver:          discovery.NewLookup(discovery.LookupConfig{}),
	    Validator:         validator,
	    ClientCertificate: clientCert,
	})
	if err != nil {
	    return err
	}
	res, err := d.Send(ctx, dispatch.Request{
	    Document:  invoice,
	    Sender:    "9908:810017902",
	    Recipient: "9908:974763907",
	})

The ehf command in cmd/ehf wraps the same pipeline behind a YAML
configuration file.

# Trust

An access point is accepted only when its certificate chains to a pinned
root, is issued by a pinned access point CA and is the certificate the SMP
published for the recipient. See [security.TrustValidator].

# References

  - PEPPOL: https://peppol.org/
  - OpenPEPPOL eDEC specifications: https://docs.peppol.eu/edelivery/

# License

BSD-2-Clause License
*/
package goehf
