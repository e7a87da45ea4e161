package saml

import (
	"encoding/xml"
	"fmt"
	"net/url"

	crewjamsaml "github.com/crewjam/saml"
	"github.com/forgebuild/forgebuild/backend/internal/config"
)

// GenerateMetadata renders the SP metadata document advertising our entity
// id and the AssertionConsumerService endpoint. IdPs import this to set up
// their side of the trust.
func GenerateMetadata(cfg *config.SAMLConfig, acsURL string) ([]byte, error) {
	entityURL, err := url.Parse(cfg.SPEntityID)
	if err != nil {
		return nil, fmt.Errorf("invalid SP entity id: %w", err)
	}
	acs, err := url.Parse(acsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ACS URL: %w", err)
	}

	sp := crewjamsaml.ServiceProvider{
		EntityID:    cfg.SPEntityID,
		MetadataURL: *entityURL,
		AcsURL:      *acs,
		// Unsigned assertions are only tolerated in certless dev setups;
		// advertise the production posture.
		AuthnNameIDFormat: crewjamsaml.EmailAddressNameIDFormat,
	}

	metadata := sp.Metadata()

	xmlData, err := xml.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), xmlData...), nil
}
