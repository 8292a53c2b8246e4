// Package discovery resolves PEPPOL participants to the access point that
// receives documents on their behalf.
//
// Resolution happens in two steps. A Locator finds the Service Metadata
// Publisher (SMP) serving the participant, then the SMP is queried over its
// REST binding for the endpoint address and certificate registered for a
// document type and process.
//
// # Locating the SMP
//
// Three locators are provided:
//
//   - SMLLocator derives the SMP host from the participant identifier the way
//     the SML publishes it: B-<md5(lower-cased value)>.<scheme>.<sml domain>.
//   - BDXLLocator performs a DNS U-NAPTR lookup of
//     <base32(sha256(value))>.<scheme>.<domain> and takes the SMP URL from
//     the record's regexp field.
//   - StaticLocator always returns one configured SMP.
//
// # Lookup stages
//
// Lookup.Resolve runs three stages and wraps any failure in a *LookupError
// naming the stage and the queried URL:
//
//	lookup := discovery.NewLookup(discovery.LookupConfig{
//	    Locator: discovery.NewSMLLocator(peppol.DefaultSMLDomain),
//	})
//	ep, err := lookup.Resolve(ctx, discovery.Query{
//	    Participant:  peppol.NewParticipantIdentifier("9908:974763907"),
//	    DocumentType: peppol.DocumentTypeInvoicePeppol4aEHF,
//	    Process:      peppol.ProcessBii04,
//	})
//	var lerr *discovery.LookupError
//	if errors.As(err, &lerr) && lerr.Stage == discovery.StageProbe {
//	    // participant not registered or SMP unreachable
//	}
//
// The probe stage locates the SMP and sends a HEAD request for the service
// group. The address resolution stage fetches the signed service metadata for
// the document type and selects the first active endpoint for the process; an
// endpoint without a certificate is rejected. The metadata parse stage fetches
// the full service group. It is informational, but its failure is fatal
// unless LookupConfig.TolerateMetadataErrors is set.
//
// StaticResolver serves a locally configured access point and skips the
// directory altogether.
//
// # References
//
//   - PEPPOL SML: https://docs.peppol.eu/edelivery/sml/
//   - PEPPOL SMP 1.0 (BusDox): https://docs.peppol.eu/edelivery/smp/
//   - OASIS BDX-Location 1.0: http://docs.oasis-open.org/bdxr/BDX-Location/v1.0/
//   - RFC 4848: https://www.rfc-editor.org/rfc/rfc4848.html
package discovery
