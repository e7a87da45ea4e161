package saml

import "github.com/beevik/etree"

// SAML 2.0 namespace URIs.
const (
	nsProtocol  = "urn:oasis:names:tc:SAML:2.0:protocol"
	nsAssertion = "urn:oasis:names:tc:SAML:2.0:assertion"
)

// findFirst returns the first descendant of el (depth-first, document order)
// whose resolved namespace URI and local name match. Matching is done on the
// resolved URI rather than the prefix, so responses using saml2:/saml2p: or
// default namespaces all resolve the same way.
func findFirst(el *etree.Element, nsURI, local string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == local && child.NamespaceURI() == nsURI {
			return child
		}
		if found := findFirst(child, nsURI, local); found != nil {
			return found
		}
	}
	return nil
}

// findAll collects every descendant matching (nsURI, local) in document order.
func findAll(el *etree.Element, nsURI, local string) []*etree.Element {
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == local && child.NamespaceURI() == nsURI {
			out = append(out, child)
		}
		out = append(out, findAll(child, nsURI, local)...)
	}
	return out
}

// childElement returns a direct child matching (nsURI, local), or nil.
func childElement(el *etree.Element, nsURI, local string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == local && child.NamespaceURI() == nsURI {
			return child
		}
	}
	return nil
}
