package peppol

import (
	"strings"

	"github.com/beevik/etree"
)

// UBLCommonBasicComponents is the namespace of cbc:* elements in UBL 2.x documents
const UBLCommonBasicComponents = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"

// DetectProcessID returns the ProfileID of a UBL document, or ProcessBii04
// when the document has none or cannot be parsed.
func DetectProcessID(document []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(document); err != nil {
		return ProcessBii04
	}
	root := doc.Root()
	if root == nil {
		return ProcessBii04
	}
	for _, child := range root.ChildElements() {
		if child.Tag != "ProfileID" || child.NamespaceURI() != UBLCommonBasicComponents {
			continue
		}
		if v := strings.TrimSpace(child.Text()); v != "" {
			return v
		}
	}
	return ProcessBii04
}
