package saml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// ParseCertificate parses an IdP signing certificate supplied either as a
// PEM block or as raw base64 DER (metadata exports often omit the PEM
// armor).
func ParseCertificate(certData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certData))
	if block == nil {
		der, err := base64.StdEncoding.DecodeString(certData)
		if err != nil {
			return nil, fmt.Errorf("certificate is neither PEM nor base64 DER")
		}
		return x509.ParseCertificate(der)
	}
	return x509.ParseCertificate(block.Bytes)
}

// errNoSignature distinguishes a missing signature from a broken one.
var errNoSignature = errors.New("no signature found on response or assertion")

// verifySignedDocument verifies the enveloped XML-DSig on the response
// document against cert. The signature may cover either the Response root or
// the Assertion element; either is accepted. Returns errNoSignature when
// neither element carries a signature, or the underlying validation error
// when a signature is present but does not verify.
func verifySignedDocument(root *etree.Element, cert *x509.Certificate) error {
	certStore := &dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}
	ctx := dsig.NewDefaultValidationContext(certStore)

	_, err := ctx.Validate(root)
	if err == nil {
		return nil
	}
	if !errors.Is(err, dsig.ErrMissingSignature) {
		return err
	}

	assertion := findFirst(root, nsAssertion, "Assertion")
	if assertion == nil {
		return errNoSignature
	}
	_, err = ctx.Validate(assertion)
	if err == nil {
		return nil
	}
	if errors.Is(err, dsig.ErrMissingSignature) {
		return errNoSignature
	}
	return err
}
