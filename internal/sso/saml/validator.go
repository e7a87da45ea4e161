package saml

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/forgebuild/forgebuild/backend/internal/config"
	"github.com/forgebuild/forgebuild/backend/pkg/debug"
)

// FailureReason classifies why a SAML response was rejected. The reason is
// logged server-side; the browser only ever sees a generic message.
type FailureReason string

const (
	ReasonMalformedResponse    FailureReason = "malformed_response"
	ReasonIdpStatusFailure     FailureReason = "idp_status_failure"
	ReasonReplayOrMismatch     FailureReason = "replay_or_mismatch"
	ReasonSignatureMissing     FailureReason = "signature_missing"
	ReasonSignatureInvalid     FailureReason = "signature_invalid"
	ReasonNoAssertion          FailureReason = "no_assertion"
	ReasonTimestampOutOfWindow FailureReason = "timestamp_out_of_window"
	ReasonAudienceMismatch     FailureReason = "audience_mismatch"
	ReasonNoNameID             FailureReason = "no_name_id"
)

// ValidationError carries the typed failure reason plus the underlying cause
// for server-side logging.
type ValidationError struct {
	Reason FailureReason
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("saml validation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("saml validation failed (%s)", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func failf(reason FailureReason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// ValidationResult is the extracted identity material from an accepted
// assertion.
type ValidationResult struct {
	NameID       string
	NameIDFormat string
	Attributes   map[string][]string
}

// clockSkew is the tolerance applied to NotBefore / NotOnOrAfter checks.
const clockSkew = 5 * time.Minute

// Validator checks a SAML response against the configured IdP trust
// parameters. It holds no mutable state; one instance serves concurrent
// callbacks.
type Validator struct {
	cfg *config.SAMLConfig
	now func() time.Time
}

// NewValidator creates a validator for the given SAML configuration.
func NewValidator(cfg *config.SAMLConfig) *Validator {
	return &Validator{cfg: cfg, now: time.Now}
}

// Validate runs the ordered validation pipeline over a Base64-encoded SAML
// response. expectedRequestID is the AuthnRequest id stored at login time, or
// empty when none is available. The first failing check stops the pipeline.
func (v *Validator) Validate(encodedResponse, expectedRequestID string) (*ValidationResult, *ValidationError) {
	// Decode and parse.
	raw, err := base64.StdEncoding.DecodeString(encodedResponse)
	if err != nil {
		return nil, failf(ReasonMalformedResponse, "base64 decode: %w", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, failf(ReasonMalformedResponse, "xml parse: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, failf(ReasonMalformedResponse, "empty document")
	}

	// IdP status.
	if statusCode := findFirst(root, nsProtocol, "StatusCode"); statusCode != nil {
		value := statusCode.SelectAttrValue("Value", "")
		if value != "" && !strings.HasSuffix(value, ":Success") {
			return nil, failf(ReasonIdpStatusFailure, "idp returned status %q", value)
		}
	}

	// InResponseTo correlation. A response that omits InResponseTo skips the
	// check entirely; unsolicited responses are otherwise indistinguishable
	// from IdP-initiated SSO.
	if expectedRequestID != "" {
		inResponseTo := root.SelectAttrValue("InResponseTo", "")
		if inResponseTo != "" && inResponseTo != expectedRequestID {
			return nil, failf(ReasonReplayOrMismatch,
				"InResponseTo %q does not match pending request %q", inResponseTo, expectedRequestID)
		}
	}

	// Signature. Skipped entirely when no IdP certificate is configured.
	if v.cfg.IDPCertificate != "" {
		cert, err := ParseCertificate(v.cfg.IDPCertificate)
		if err != nil {
			return nil, failf(ReasonSignatureInvalid, "parse idp certificate: %w", err)
		}
		if err := verifySignedDocument(root, cert); err != nil {
			if err == errNoSignature {
				return nil, failf(ReasonSignatureMissing, "response carries no signature")
			}
			return nil, failf(ReasonSignatureInvalid, "signature verification: %w", err)
		}
	} else {
		debug.Warning("SAML signature verification skipped: no IdP certificate configured")
	}

	// Assertion.
	assertion := findFirst(root, nsAssertion, "Assertion")
	if assertion == nil {
		return nil, failf(ReasonNoAssertion, "response contains no assertion")
	}

	// Conditions time window. A missing Conditions element means no time
	// constraint and is accepted.
	if conditions := childElement(assertion, nsAssertion, "Conditions"); conditions != nil {
		if verr := v.checkTimeWindow(conditions); verr != nil {
			return nil, verr
		}
		if verr := v.checkAudience(conditions); verr != nil {
			return nil, verr
		}
	}

	// Subject NameID.
	nameID := findFirst(assertion, nsAssertion, "NameID")
	if nameID == nil || strings.TrimSpace(nameID.Text()) == "" {
		return nil, failf(ReasonNoNameID, "assertion subject has no NameID")
	}

	return &ValidationResult{
		NameID:       strings.TrimSpace(nameID.Text()),
		NameIDFormat: nameID.SelectAttrValue("Format", ""),
		Attributes:   extractAttributes(assertion),
	}, nil
}

func (v *Validator) checkTimeWindow(conditions *etree.Element) *ValidationError {
	now := v.now()
	if nb := conditions.SelectAttrValue("NotBefore", ""); nb != "" {
		notBefore, err := time.Parse(time.RFC3339, nb)
		if err != nil {
			return failf(ReasonTimestampOutOfWindow, "unparseable NotBefore %q: %w", nb, err)
		}
		if now.Add(clockSkew).Before(notBefore) {
			return failf(ReasonTimestampOutOfWindow, "assertion not valid before %s", nb)
		}
	}
	if noa := conditions.SelectAttrValue("NotOnOrAfter", ""); noa != "" {
		notOnOrAfter, err := time.Parse(time.RFC3339, noa)
		if err != nil {
			return failf(ReasonTimestampOutOfWindow, "unparseable NotOnOrAfter %q: %w", noa, err)
		}
		if !notOnOrAfter.After(now.Add(-clockSkew)) {
			return failf(ReasonTimestampOutOfWindow, "assertion expired at %s", noa)
		}
	}
	return nil
}

// checkAudience enforces AudienceRestriction when one is present with at
// least one listed audience. A restriction with zero audiences is accepted.
func (v *Validator) checkAudience(conditions *etree.Element) *ValidationError {
	restriction := childElement(conditions, nsAssertion, "AudienceRestriction")
	if restriction == nil {
		return nil
	}
	audiences := findAll(restriction, nsAssertion, "Audience")
	if len(audiences) == 0 {
		return nil
	}
	for _, aud := range audiences {
		if strings.TrimSpace(aud.Text()) == v.cfg.SPEntityID {
			return nil
		}
	}
	return failf(ReasonAudienceMismatch,
		"audience restriction does not include %q", v.cfg.SPEntityID)
}

// extractAttributes flattens the assertion's AttributeStatement into a map
// from attribute name to its values in document order. When the IdP repeats
// an attribute name, the first occurrence wins.
func extractAttributes(assertion *etree.Element) map[string][]string {
	attrs := make(map[string][]string)
	statement := childElement(assertion, nsAssertion, "AttributeStatement")
	if statement == nil {
		return attrs
	}
	for _, attr := range statement.ChildElements() {
		if attr.Tag != "Attribute" || attr.NamespaceURI() != nsAssertion {
			continue
		}
		name := attr.SelectAttrValue("Name", "")
		if name == "" {
			continue
		}
		if _, dup := attrs[name]; dup {
			continue
		}
		var values []string
		for _, val := range attr.ChildElements() {
			if val.Tag == "AttributeValue" && val.NamespaceURI() == nsAssertion {
				values = append(values, val.Text())
			}
		}
		attrs[name] = values
	}
	return attrs
}
