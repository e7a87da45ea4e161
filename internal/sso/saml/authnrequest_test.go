package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/forgebuild/forgebuild/backend/internal/config"
)

func requestConfig() *config.SAMLConfig {
	return &config.SAMLConfig{
		Enabled:    true,
		SPEntityID: testSPEntityID,
		IDPSSOURL:  "https://idp.example/sso",
	}
}

func TestBuildLoginRedirectDisabled(t *testing.T) {
	cfg := requestConfig()
	cfg.Enabled = false

	if _, err := BuildLoginRedirect(cfg, "https://sp.example/auth/saml/acs"); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestBuildLoginRedirectIncompleteConfig(t *testing.T) {
	cfg := requestConfig()
	cfg.SPEntityID = ""

	if _, err := BuildLoginRedirect(cfg, "https://sp.example/auth/saml/acs"); err == nil {
		t.Fatal("expected error for missing SP entity id")
	}
}

// Decoding the SAMLRequest query value back through base64 and raw DEFLATE
// must yield the AuthnRequest document carrying the returned request id.
func TestBuildLoginRedirectRoundTrip(t *testing.T) {
	redirect, err := BuildLoginRedirect(requestConfig(), "https://sp.example/auth/saml/acs")
	if err != nil {
		t.Fatalf("BuildLoginRedirect: %v", err)
	}

	if !strings.HasPrefix(redirect.URL, "https://idp.example/sso?") {
		t.Fatalf("redirect URL = %q", redirect.URL)
	}
	parsed, err := url.Parse(redirect.URL)
	if err != nil {
		t.Fatalf("parse redirect URL: %v", err)
	}
	query := parsed.Query()

	if got := query.Get("RelayState"); got != redirect.RelayState {
		t.Errorf("RelayState = %q, want %q", got, redirect.RelayState)
	}

	compressed, err := base64.StdEncoding.DecodeString(query.Get("SAMLRequest"))
	if err != nil {
		t.Fatalf("SAMLRequest is not base64: %v", err)
	}
	inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		t.Fatalf("SAMLRequest is not raw DEFLATE: %v", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(inflated); err != nil {
		t.Fatalf("inflated request is not XML: %v", err)
	}
	root := doc.Root()
	if root.Tag != "AuthnRequest" {
		t.Fatalf("root element = %s", root.Tag)
	}
	if got := root.SelectAttrValue("ID", ""); got != redirect.RequestID {
		t.Errorf("ID = %q, want %q", got, redirect.RequestID)
	}
	if got := root.SelectAttrValue("Destination", ""); got != "https://idp.example/sso" {
		t.Errorf("Destination = %q", got)
	}
	if got := root.SelectAttrValue("AssertionConsumerServiceURL", ""); got != "https://sp.example/auth/saml/acs" {
		t.Errorf("AssertionConsumerServiceURL = %q", got)
	}
	issuerEl := findFirst(root, nsAssertion, "Issuer")
	if issuerEl == nil || issuerEl.Text() != testSPEntityID {
		t.Errorf("Issuer = %v", issuerEl)
	}
}

func TestBuildLoginRedirectQuerySeparator(t *testing.T) {
	cfg := requestConfig()
	cfg.IDPSSOURL = "https://idp.example/sso?tenant=acme"

	redirect, err := BuildLoginRedirect(cfg, "https://sp.example/auth/saml/acs")
	if err != nil {
		t.Fatalf("BuildLoginRedirect: %v", err)
	}
	if !strings.HasPrefix(redirect.URL, "https://idp.example/sso?tenant=acme&SAMLRequest=") {
		t.Errorf("redirect URL = %q", redirect.URL)
	}
}

func TestRequestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		redirect, err := BuildLoginRedirect(requestConfig(), "https://sp.example/auth/saml/acs")
		if err != nil {
			t.Fatalf("BuildLoginRedirect: %v", err)
		}
		if !strings.HasPrefix(redirect.RequestID, "_") {
			t.Fatalf("request id %q does not start with underscore", redirect.RequestID)
		}
		if seen[redirect.RequestID] {
			t.Fatalf("duplicate request id %q", redirect.RequestID)
		}
		seen[redirect.RequestID] = true
	}
}
