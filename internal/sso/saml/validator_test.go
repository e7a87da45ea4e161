package saml

import (
	"encoding/base64"
	"encoding/pem"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/forgebuild/forgebuild/backend/internal/config"
	dsig "github.com/russellhaering/goxmldsig"
)

const testSPEntityID = "https://sp.example/metadata"

type responseOpts struct {
	statusValue    string
	inResponseTo   string
	omitAssertion  bool
	withConditions bool
	notBefore      string
	notOnOrAfter   string
	audiences      []string
	nameID         string
	nameIDFormat   string
	attributes     []testAttribute
}

type testAttribute struct {
	name   string
	values []string
}

func defaultResponse() responseOpts {
	return responseOpts{
		statusValue: "urn:oasis:names:tc:SAML:2.0:status:Success",
		nameID:      "user@idp.example",
	}
}

// buildResponse assembles a SAML response document the way IdPs emit them,
// with explicit samlp:/saml: prefixes.
func buildResponse(opts responseOpts) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	resp := doc.CreateElement("samlp:Response")
	resp.CreateAttr("xmlns:samlp", nsProtocol)
	resp.CreateAttr("xmlns:saml", nsAssertion)
	resp.CreateAttr("ID", "_response1")
	resp.CreateAttr("Version", "2.0")
	resp.CreateAttr("IssueInstant", time.Now().UTC().Format(time.RFC3339))
	if opts.inResponseTo != "" {
		resp.CreateAttr("InResponseTo", opts.inResponseTo)
	}

	status := resp.CreateElement("samlp:Status")
	statusCode := status.CreateElement("samlp:StatusCode")
	statusCode.CreateAttr("Value", opts.statusValue)

	if opts.omitAssertion {
		return doc
	}

	assertion := resp.CreateElement("saml:Assertion")
	assertion.CreateAttr("ID", "_assertion1")
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", time.Now().UTC().Format(time.RFC3339))
	assertion.CreateElement("saml:Issuer").SetText("https://idp.example")

	if opts.nameID != "" {
		subject := assertion.CreateElement("saml:Subject")
		nameID := subject.CreateElement("saml:NameID")
		nameID.SetText(opts.nameID)
		if opts.nameIDFormat != "" {
			nameID.CreateAttr("Format", opts.nameIDFormat)
		}
	}

	if opts.withConditions {
		conditions := assertion.CreateElement("saml:Conditions")
		if opts.notBefore != "" {
			conditions.CreateAttr("NotBefore", opts.notBefore)
		}
		if opts.notOnOrAfter != "" {
			conditions.CreateAttr("NotOnOrAfter", opts.notOnOrAfter)
		}
		if len(opts.audiences) > 0 {
			restriction := conditions.CreateElement("saml:AudienceRestriction")
			for _, aud := range opts.audiences {
				restriction.CreateElement("saml:Audience").SetText(aud)
			}
		}
	}

	if len(opts.attributes) > 0 {
		statement := assertion.CreateElement("saml:AttributeStatement")
		for _, attr := range opts.attributes {
			el := statement.CreateElement("saml:Attribute")
			el.CreateAttr("Name", attr.name)
			for _, value := range attr.values {
				el.CreateElement("saml:AttributeValue").SetText(value)
			}
		}
	}

	return doc
}

func encodeResponse(t *testing.T, doc *etree.Document) string {
	t.Helper()
	raw, err := doc.WriteToBytes()
	if err != nil {
		t.Fatalf("failed to serialize response: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// signResponse signs the response root with a fresh test key and returns the
// encoded document plus the signing certificate in PEM form.
func signResponse(t *testing.T, doc *etree.Document) (encoded string, certPEM string) {
	t.Helper()

	keyStore := dsig.RandomKeyStoreForTest()
	signingCtx := dsig.NewDefaultSigningContext(keyStore)

	signed, err := signingCtx.SignEnveloped(doc.Root())
	if err != nil {
		t.Fatalf("failed to sign response: %v", err)
	}

	signedDoc := etree.NewDocument()
	signedDoc.SetRoot(signed)

	_, certDER, err := keyStore.GetKeyPair()
	if err != nil {
		t.Fatalf("failed to get test key pair: %v", err)
	}
	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}))

	return encodeResponse(t, signedDoc), certPEM
}

func testConfig(certPEM string) *config.SAMLConfig {
	return &config.SAMLConfig{
		Enabled:        true,
		SPEntityID:     testSPEntityID,
		IDPEntityID:    "https://idp.example",
		IDPSSOURL:      "https://idp.example/sso",
		IDPCertificate: certPEM,
		DefaultRole:    "user",
	}
}

func TestValidateMalformedInput(t *testing.T) {
	v := NewValidator(testConfig(""))

	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "not!!!base64%%%"},
		{"base64 of garbage", base64.StdEncoding.EncodeToString([]byte("<<<not xml"))},
		{"base64 of empty", base64.StdEncoding.EncodeToString(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verr := v.Validate(tt.input, "")
			if verr == nil {
				t.Fatal("expected validation failure")
			}
			if verr.Reason != ReasonMalformedResponse {
				t.Errorf("reason = %s, want %s", verr.Reason, ReasonMalformedResponse)
			}
		})
	}
}

func TestValidateIdpStatusFailure(t *testing.T) {
	opts := defaultResponse()
	opts.statusValue = "urn:oasis:names:tc:SAML:2.0:status:Responder"
	encoded := encodeResponse(t, buildResponse(opts))

	_, verr := NewValidator(testConfig("")).Validate(encoded, "")
	if verr == nil || verr.Reason != ReasonIdpStatusFailure {
		t.Fatalf("got %v, want %s", verr, ReasonIdpStatusFailure)
	}
}

func TestValidateInResponseTo(t *testing.T) {
	tests := []struct {
		name         string
		inResponseTo string
		expectedID   string
		wantReason   FailureReason
	}{
		{"matching id accepted", "_abc123", "_abc123", ""},
		{"mismatched id rejected", "_other", "_abc123", ReasonReplayOrMismatch},
		{"absent InResponseTo skips check", "", "_abc123", ""},
		{"no expected id skips check", "_whatever", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultResponse()
			opts.inResponseTo = tt.inResponseTo
			encoded := encodeResponse(t, buildResponse(opts))

			_, verr := NewValidator(testConfig("")).Validate(encoded, tt.expectedID)
			if tt.wantReason == "" {
				if verr != nil {
					t.Fatalf("unexpected failure: %v", verr)
				}
				return
			}
			if verr == nil || verr.Reason != tt.wantReason {
				t.Fatalf("got %v, want %s", verr, tt.wantReason)
			}
		})
	}
}

func TestValidateSignatureEnforcement(t *testing.T) {
	// A properly signed response verifies against its own certificate.
	signedEncoded, certPEM := signResponse(t, buildResponse(defaultResponse()))
	result, verr := NewValidator(testConfig(certPEM)).Validate(signedEncoded, "")
	if verr != nil {
		t.Fatalf("signed response rejected: %v", verr)
	}
	if result.NameID != "user@idp.example" {
		t.Errorf("NameID = %q", result.NameID)
	}

	// Unsigned response with a certificate configured is rejected.
	unsignedEncoded := encodeResponse(t, buildResponse(defaultResponse()))
	_, verr = NewValidator(testConfig(certPEM)).Validate(unsignedEncoded, "")
	if verr == nil || verr.Reason != ReasonSignatureMissing {
		t.Fatalf("got %v, want %s", verr, ReasonSignatureMissing)
	}

	// Signed by one key, verified against another certificate.
	_, otherCertPEM := signResponse(t, buildResponse(defaultResponse()))
	_, verr = NewValidator(testConfig(otherCertPEM)).Validate(signedEncoded, "")
	if verr == nil || verr.Reason != ReasonSignatureInvalid {
		t.Fatalf("got %v, want %s", verr, ReasonSignatureInvalid)
	}

	// No certificate configured: unsigned response passes.
	_, verr = NewValidator(testConfig("")).Validate(unsignedEncoded, "")
	if verr != nil {
		t.Fatalf("unsigned response rejected without configured cert: %v", verr)
	}

	// Garbage certificate counts as a signature failure, not a panic.
	_, verr = NewValidator(testConfig("not a certificate")).Validate(unsignedEncoded, "")
	if verr == nil || verr.Reason != ReasonSignatureInvalid {
		t.Fatalf("got %v, want %s", verr, ReasonSignatureInvalid)
	}
}

func TestValidateNoAssertion(t *testing.T) {
	opts := defaultResponse()
	opts.omitAssertion = true
	encoded := encodeResponse(t, buildResponse(opts))

	_, verr := NewValidator(testConfig("")).Validate(encoded, "")
	if verr == nil || verr.Reason != ReasonNoAssertion {
		t.Fatalf("got %v, want %s", verr, ReasonNoAssertion)
	}
}

func TestValidateTimeWindow(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name         string
		notBefore    string
		notOnOrAfter string
		wantReason   FailureReason
	}{
		{"expired one second ago within skew", "", now.Add(-time.Second).Format(time.RFC3339), ""},
		{"expired six minutes ago", "", now.Add(-6 * time.Minute).Format(time.RFC3339), ReasonTimestampOutOfWindow},
		{"valid in one minute within skew", now.Add(time.Minute).Format(time.RFC3339), "", ""},
		{"valid in six minutes", now.Add(6 * time.Minute).Format(time.RFC3339), "", ReasonTimestampOutOfWindow},
		{"unparseable timestamp", "never", "", ReasonTimestampOutOfWindow},
		{"no constraints", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultResponse()
			opts.withConditions = true
			opts.notBefore = tt.notBefore
			opts.notOnOrAfter = tt.notOnOrAfter
			encoded := encodeResponse(t, buildResponse(opts))

			_, verr := NewValidator(testConfig("")).Validate(encoded, "")
			if tt.wantReason == "" {
				if verr != nil {
					t.Fatalf("unexpected failure: %v", verr)
				}
				return
			}
			if verr == nil || verr.Reason != tt.wantReason {
				t.Fatalf("got %v, want %s", verr, tt.wantReason)
			}
		})
	}
}

func TestValidateMissingConditionsAccepted(t *testing.T) {
	// No Conditions element at all means no time or audience constraint.
	encoded := encodeResponse(t, buildResponse(defaultResponse()))
	if _, verr := NewValidator(testConfig("")).Validate(encoded, ""); verr != nil {
		t.Fatalf("assertion without Conditions rejected: %v", verr)
	}
}

func TestValidateAudience(t *testing.T) {
	tests := []struct {
		name       string
		audiences  []string
		wantReason FailureReason
	}{
		{"matching audience", []string{testSPEntityID}, ""},
		{"our entity id among several", []string{"other-sp", testSPEntityID}, ""},
		{"foreign audience only", []string{"other-sp"}, ReasonAudienceMismatch},
		{"no audience restriction", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultResponse()
			opts.withConditions = true
			opts.audiences = tt.audiences
			encoded := encodeResponse(t, buildResponse(opts))

			_, verr := NewValidator(testConfig("")).Validate(encoded, "")
			if tt.wantReason == "" {
				if verr != nil {
					t.Fatalf("unexpected failure: %v", verr)
				}
				return
			}
			if verr == nil || verr.Reason != tt.wantReason {
				t.Fatalf("got %v, want %s", verr, tt.wantReason)
			}
		})
	}
}

func TestValidateNoNameID(t *testing.T) {
	opts := defaultResponse()
	opts.nameID = ""
	encoded := encodeResponse(t, buildResponse(opts))

	_, verr := NewValidator(testConfig("")).Validate(encoded, "")
	if verr == nil || verr.Reason != ReasonNoNameID {
		t.Fatalf("got %v, want %s", verr, ReasonNoNameID)
	}
}

func TestValidateExtractsIdentity(t *testing.T) {
	opts := defaultResponse()
	opts.nameID = "alice@idp.example"
	opts.nameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	opts.attributes = []testAttribute{
		{name: "email", values: []string{"alice@corp.example"}},
		{name: "groups", values: []string{"eng", "ops"}},
		{name: "groups", values: []string{"shadowed"}},
	}
	encoded := encodeResponse(t, buildResponse(opts))

	result, verr := NewValidator(testConfig("")).Validate(encoded, "")
	if verr != nil {
		t.Fatalf("unexpected failure: %v", verr)
	}
	if result.NameID != "alice@idp.example" {
		t.Errorf("NameID = %q", result.NameID)
	}
	if result.NameIDFormat != "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress" {
		t.Errorf("NameIDFormat = %q", result.NameIDFormat)
	}
	if got := result.Attributes["email"]; len(got) != 1 || got[0] != "alice@corp.example" {
		t.Errorf("email attribute = %v", got)
	}
	// Values keep document order; a repeated attribute name keeps the first
	// occurrence.
	if got := result.Attributes["groups"]; len(got) != 2 || got[0] != "eng" || got[1] != "ops" {
		t.Errorf("groups attribute = %v", got)
	}
}
