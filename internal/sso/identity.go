package sso

import "github.com/forgebuild/forgebuild/backend/internal/sso/saml"

// ExternalIdentity is the identity material extracted from a validated
// assertion, before it is linked or provisioned locally.
type ExternalIdentity struct {
	NameID       string
	NameIDFormat string
	Email        string
	DisplayName  string
	Attributes   map[string][]string
}

// ResolveIdentity builds an ExternalIdentity from a validation result,
// resolving email and display name from the common attribute names IdPs use
// for them.
func ResolveIdentity(result *saml.ValidationResult) *ExternalIdentity {
	identity := &ExternalIdentity{
		NameID:       result.NameID,
		NameIDFormat: result.NameIDFormat,
		Attributes:   result.Attributes,
	}

	identity.Email = firstAttribute(result.Attributes,
		"email", "mail",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
		"http://schemas.xmlsoap.org/claims/EmailAddress")
	identity.DisplayName = firstAttribute(result.Attributes,
		"displayName", "cn",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name")

	return identity
}

// firstAttribute returns the first value of the first attribute found among
// the given names.
func firstAttribute(attributes map[string][]string, names ...string) string {
	for _, name := range names {
		if values, ok := attributes[name]; ok && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
