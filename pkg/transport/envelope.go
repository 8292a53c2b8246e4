package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-ehf/pkg/peppol"
	"github.com/sirosfoundation/go-ehf/pkg/token"
)

// Namespaces used in the envelope
const (
	NamespaceSOAP12      = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceSOAP11      = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceAddressing  = "http://www.w3.org/2005/08/addressing"
	NamespaceIdentifiers = "http://busdox.org/transport/identifiers/1.0/"
	NamespaceWSSE        = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NamespaceWSU         = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	// ActionCreate is the WS-Transfer action for submitting a document
	ActionCreate = "http://www.w3.org/2009/02/ws-tra/Create"
	// ContentTypeSOAP12 is the content type of a request
	ContentTypeSOAP12 = `application/soap+xml; charset=utf-8; action="` + ActionCreate + `"`
)

// BuildEnvelope wraps the document in a SOAP 1.2 envelope addressed to
// address. The routing identifiers travel in the header next to a
// WS-Security header holding tok.
func BuildEnvelope(tok *token.Token, req *Request, address string) (*etree.Document, error) {
	if req == nil || len(req.Document) == 0 {
		return nil, errors.New("document is required")
	}

	payload := etree.NewDocument()
	if err := payload.ReadFromBytes(req.Document); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if payload.Root() == nil {
		return nil, errors.New("document has no root element")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", NamespaceSOAP12)
	env.CreateAttr("xmlns:a", NamespaceAddressing)
	env.CreateAttr("xmlns:ids", NamespaceIdentifiers)
	env.CreateAttr("xmlns:wsse", NamespaceWSSE)
	env.CreateAttr("xmlns:wsu", NamespaceWSU)

	header := env.CreateElement("s:Header")
	addRoutingHeaders(header, req.Metadata, address)

	if tok != nil {
		if err := addSecurityHeader(header, tok); err != nil {
			return nil, err
		}
	}

	body := env.CreateElement("s:Body")
	body.AddChild(payload.Root().Copy())

	return doc, nil
}

func addRoutingHeaders(header *etree.Element, md peppol.MessageMetadata, address string) {
	header.CreateElement("a:Action").SetText(ActionCreate)
	header.CreateElement("a:To").SetText(address)
	header.CreateElement("a:MessageID").SetText(md.MessageID)

	identifier := func(name, scheme, value string) {
		el := header.CreateElement("ids:" + name)
		if scheme != "" {
			el.CreateAttr("scheme", scheme)
		}
		el.SetText(value)
	}
	identifier("MessageIdentifier", "", md.MessageID)
	identifier("ChannelIdentifier", "", md.ChannelID)
	identifier("RecipientIdentifier", md.RecipientID.Scheme, md.RecipientID.Value)
	identifier("SenderIdentifier", md.SenderID.Scheme, md.SenderID.Value)
	identifier("DocumentIdentifier", peppol.DocumentTypeScheme, md.DocumentTypeID)
	identifier("ProcessIdentifier", peppol.ProcessScheme, md.ProcessID)
}

func addSecurityHeader(header *etree.Element, tok *token.Token) error {
	assertion, err := tok.Element()
	if err != nil {
		return err
	}

	security := header.CreateElement("wsse:Security")
	security.CreateAttr("s:mustUnderstand", "true")

	ts := security.CreateElement("wsu:Timestamp")
	ts.CreateAttr("wsu:Id", "TS-"+strings.TrimPrefix(tok.ID, "_"))
	ts.CreateElement("wsu:Created").SetText(tok.IssuedAt.UTC().Format(time.RFC3339))
	ts.CreateElement("wsu:Expires").SetText(tok.Expires.UTC().Format(time.RFC3339))

	security.AddChild(assertion)
	return nil
}

// ParseFault extracts the code and reason of a SOAP 1.2 or 1.1 fault.
// A body that is not a fault yields a Fault with only the status and raw body.
func ParseFault(statusCode int, body []byte) *Fault {
	f := &Fault{StatusCode: statusCode, Raw: body}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil {
		f.Reason = strings.TrimSpace(truncate(string(body), 256))
		return f
	}

	fault := doc.Root().FindElement("./Body/Fault")
	if fault == nil {
		return f
	}

	// SOAP 1.2
	if v := fault.FindElement("./Code/Value"); v != nil {
		f.Code = strings.TrimSpace(v.Text())
		if sub := fault.FindElement("./Code/Subcode/Value"); sub != nil {
			f.Subcode = strings.TrimSpace(sub.Text())
		}
		if r := fault.FindElement("./Reason/Text"); r != nil {
			f.Reason = strings.TrimSpace(r.Text())
		}
		return f
	}

	// SOAP 1.1
	if v := fault.FindElement("./faultcode"); v != nil {
		f.Code = strings.TrimSpace(v.Text())
	}
	if r := fault.FindElement("./faultstring"); r != nil {
		f.Reason = strings.TrimSpace(r.Text())
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
