package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/forgebuild/forgebuild/backend/pkg/debug"
	"github.com/joho/godotenv"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr  string
	DatabaseURL string

	// JWTExpiryMinutes controls session token lifetime after login.
	JWTExpiryMinutes int

	SAML SAMLConfig
}

// SAMLConfig holds the SAML service-provider configuration. It is immutable
// once loaded; handlers receive it by value per request.
type SAMLConfig struct {
	Enabled        bool
	SPEntityID     string
	IDPEntityID    string
	IDPSSOURL      string
	IDPMetadataURL string // accepted for operator convenience; not consulted by the login flow
	IDPCertificate string // PEM or raw base64 DER
	ACSURL         string // optional override; derived from the request when empty

	RoleAttribute string
	RoleMapping   map[string]string
	DefaultRole   string

	AutoCreateUsers bool
	AllowUnsigned   bool
	ProviderName    string
}

// Load reads configuration from the environment. A .env file is honored in
// development if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		debug.Warning("Failed to load .env file: %v", err)
	}

	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTExpiryMinutes: envInt("JWT_EXPIRY_MINUTES", 60),
		SAML: SAMLConfig{
			Enabled:         envBool("SAML_ENABLED"),
			SPEntityID:      os.Getenv("SAML_SP_ENTITY_ID"),
			IDPEntityID:     os.Getenv("SAML_IDP_ENTITY_ID"),
			IDPSSOURL:       os.Getenv("SAML_IDP_SSO_URL"),
			IDPMetadataURL:  os.Getenv("SAML_IDP_METADATA_URL"),
			IDPCertificate:  os.Getenv("SAML_IDP_CERTIFICATE"),
			ACSURL:          os.Getenv("SAML_ACS_URL"),
			RoleAttribute:   os.Getenv("SAML_ROLE_ATTRIBUTE"),
			RoleMapping:     parseRoleMapping(os.Getenv("SAML_ROLE_MAPPING")),
			DefaultRole:     envOr("SAML_DEFAULT_ROLE", "user"),
			AutoCreateUsers: envBool("SAML_AUTO_CREATE_USERS"),
			AllowUnsigned:   envBool("SAML_ALLOW_UNSIGNED"),
			ProviderName:    envOr("SAML_PROVIDER_NAME", "SAML"),
		},
	}

	if certFile := os.Getenv("SAML_IDP_CERTIFICATE_FILE"); certFile != "" && cfg.SAML.IDPCertificate == "" {
		data, err := os.ReadFile(certFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SAML_IDP_CERTIFICATE_FILE: %w", err)
		}
		cfg.SAML.IDPCertificate = string(data)
	}

	if err := cfg.SAML.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the SAML section for misconfiguration. A disabled section
// is always valid.
func (c *SAMLConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SPEntityID == "" {
		return fmt.Errorf("SAML_SP_ENTITY_ID is required when SAML is enabled")
	}
	if c.IDPSSOURL == "" {
		return fmt.Errorf("SAML_IDP_SSO_URL is required when SAML is enabled")
	}
	if c.IDPCertificate == "" && !c.AllowUnsigned {
		return fmt.Errorf("SAML_IDP_CERTIFICATE is required unless SAML_ALLOW_UNSIGNED=true")
	}
	if c.IDPCertificate == "" {
		debug.Error("SAML signature verification is DISABLED: no IdP certificate configured and SAML_ALLOW_UNSIGNED=true. Responses will be accepted unsigned.")
	}
	return nil
}

// parseRoleMapping parses "value=role,value2=role2" into a map. Later
// duplicates of a key are ignored.
func parseRoleMapping(raw string) map[string]string {
	mapping := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			debug.Warning("Ignoring malformed SAML_ROLE_MAPPING entry: %q", pair)
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		if _, exists := mapping[key]; !exists {
			mapping[key] = value
		}
	}
	return mapping
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		debug.Warning("Invalid integer for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
