package saml

import (
	"github.com/forgebuild/forgebuild/backend/internal/config"
	"github.com/forgebuild/forgebuild/backend/pkg/debug"
)

// ResolveRole maps the assertion's attributes to a local role name. The
// configured role attribute's values are scanned in document order and the
// first value with a mapping entry wins; everything else falls back to the
// default role.
func ResolveRole(attributes map[string][]string, cfg *config.SAMLConfig) string {
	if cfg.RoleAttribute == "" {
		return cfg.DefaultRole
	}

	values, ok := attributes[cfg.RoleAttribute]
	if !ok {
		debug.Warning("Role attribute %q not present in assertion, using default role %q",
			cfg.RoleAttribute, cfg.DefaultRole)
		return cfg.DefaultRole
	}

	for _, value := range values {
		if role, ok := cfg.RoleMapping[value]; ok {
			return role
		}
	}
	return cfg.DefaultRole
}
