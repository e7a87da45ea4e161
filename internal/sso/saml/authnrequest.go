package saml

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/forgebuild/forgebuild/backend/internal/config"
)

// ErrDisabled is returned when an SSO operation is attempted while SAML is
// turned off in configuration.
var ErrDisabled = errors.New("saml authentication is disabled")

// authnRequest is the minimal AuthnRequest document sent to the IdP via the
// HTTP-Redirect binding.
type authnRequest struct {
	XMLName                     xml.Name     `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`
	SAMLP                       string       `xml:"xmlns:samlp,attr"`
	SAML                        string       `xml:"xmlns:saml,attr"`
	ID                          string       `xml:"ID,attr"`
	Version                     string       `xml:"Version,attr"`
	IssueInstant                string       `xml:"IssueInstant,attr"`
	Destination                 string       `xml:"Destination,attr"`
	AssertionConsumerServiceURL string       `xml:"AssertionConsumerServiceURL,attr"`
	ProtocolBinding             string       `xml:"ProtocolBinding,attr"`
	Issuer                      issuer       `xml:"Issuer"`
	NameIDPolicy                nameIDPolicy `xml:"NameIDPolicy"`
}

type issuer struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	Value   string   `xml:",chardata"`
}

type nameIDPolicy struct {
	XMLName     xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol NameIDPolicy"`
	AllowCreate bool     `xml:"AllowCreate,attr"`
}

// LoginRedirect is the outcome of building an AuthnRequest: where to send
// the browser, plus the correlation state the caller must park in its
// session until the IdP posts back.
type LoginRedirect struct {
	URL        string
	RequestID  string
	RelayState string
}

// BuildLoginRedirect constructs a SAML AuthnRequest for the HTTP-Redirect
// binding: the serialized request is raw-DEFLATE compressed, Base64 encoded,
// then percent-encoded onto the IdP SSO URL. acsURL is the already-resolved
// assertion consumer endpoint for this deployment.
func BuildLoginRedirect(cfg *config.SAMLConfig, acsURL string) (*LoginRedirect, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.SPEntityID == "" || cfg.IDPSSOURL == "" {
		return nil, fmt.Errorf("saml configuration incomplete: sp entity id and idp sso url are required")
	}

	requestID, err := generateRequestID()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}
	relayState, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate relay state: %w", err)
	}

	req := authnRequest{
		SAMLP:                       nsProtocol,
		SAML:                        nsAssertion,
		ID:                          requestID,
		Version:                     "2.0",
		IssueInstant:                time.Now().UTC().Format(time.RFC3339),
		Destination:                 cfg.IDPSSOURL,
		AssertionConsumerServiceURL: acsURL,
		ProtocolBinding:             "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST",
		Issuer:                      issuer{Value: cfg.SPEntityID},
		NameIDPolicy:                nameIDPolicy{AllowCreate: true},
	}

	encoded, err := deflateEncode(req)
	if err != nil {
		return nil, fmt.Errorf("encode authn request: %w", err)
	}

	sep := "?"
	if strings.Contains(cfg.IDPSSOURL, "?") {
		sep = "&"
	}
	redirectURL := fmt.Sprintf("%s%sSAMLRequest=%s&RelayState=%s",
		cfg.IDPSSOURL, sep, url.QueryEscape(encoded), url.QueryEscape(relayState))

	return &LoginRedirect{
		URL:        redirectURL,
		RequestID:  requestID,
		RelayState: relayState,
	}, nil
}

// deflateEncode serializes the request and applies the redirect-binding
// encoding: raw DEFLATE (no zlib framing) then standard Base64.
func deflateEncode(req authnRequest) (string, error) {
	xmlBytes, err := xml.Marshal(req)
	if err != nil {
		return "", err
	}

	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return "", err
	}
	if _, err := writer.Write(xmlBytes); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// generateRequestID returns an unguessable XML-id-safe request id. The
// leading underscore keeps it a valid xs:ID (ids must not start with a
// digit).
func generateRequestID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "_" + hex.EncodeToString(buf), nil
}

func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
