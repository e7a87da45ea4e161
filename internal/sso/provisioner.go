package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/forgebuild/forgebuild/backend/internal/config"
	"github.com/forgebuild/forgebuild/backend/internal/models"
	"github.com/forgebuild/forgebuild/backend/internal/sso/saml"
	"github.com/forgebuild/forgebuild/backend/pkg/debug"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the slice of the user store the provisioner needs.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// IdentityStore persists IdP identity links.
type IdentityStore interface {
	FindLinkedUser(ctx context.Context, idpEntityID, nameID string) (*models.LinkedUser, error)
	Create(ctx context.Context, identity *models.UserIdentity) error
}

// Provisioner links validated external identities to local users, creating
// accounts just-in-time when configured to.
type Provisioner struct {
	users      UserStore
	identities IdentityStore
}

// NewProvisioner creates a provisioner over the given stores.
func NewProvisioner(users UserStore, identities IdentityStore) *Provisioner {
	return &Provisioner{users: users, identities: identities}
}

// FindLinked looks up the local user already linked to this identity. A nil
// result with nil error means no link exists yet.
func (p *Provisioner) FindLinked(ctx context.Context, idpEntityID, nameID string) (*models.LinkedUser, error) {
	return p.identities.FindLinkedUser(ctx, idpEntityID, nameID)
}

// Provision creates a local user for the external identity and records the
// identity link. When a concurrent callback wins the insert race on the
// unique (idp_entity_id, name_id) constraint, the existing link is returned
// instead of a duplicate.
func (p *Provisioner) Provision(ctx context.Context, identity *ExternalIdentity, cfg *config.SAMLConfig) (*models.LinkedUser, error) {
	username, err := p.deriveUsername(ctx, identity)
	if err != nil {
		return nil, err
	}

	passwordHash, err := unusablePasswordHash()
	if err != nil {
		return nil, fmt.Errorf("failed to generate placeholder credential: %w", err)
	}

	user := &models.User{
		Username:       username,
		Email:          identity.Email,
		PasswordHash:   passwordHash,
		Role:           saml.ResolveRole(identity.Attributes, cfg),
		AccountEnabled: true,
	}
	if err := p.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user for %s: %w", identity.NameID, err)
	}

	link := &models.UserIdentity{
		UserID:       user.ID,
		IDPEntityID:  cfg.IDPEntityID,
		NameID:       identity.NameID,
		NameIDFormat: identity.NameIDFormat,
		Email:        identity.Email,
		DisplayName:  identity.DisplayName,
		Attributes:   identity.Attributes,
	}
	if err := p.identities.Create(ctx, link); err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			debug.Warning("Lost provisioning race for %s, falling back to existing link", identity.NameID)
			return p.identities.FindLinkedUser(ctx, cfg.IDPEntityID, identity.NameID)
		}
		return nil, err
	}

	debug.Info("Provisioned user %s for identity %s (role %s)", user.Username, identity.NameID, user.Role)
	return &models.LinkedUser{
		ID:             user.ID,
		Username:       user.Username,
		Role:           user.Role,
		AccountEnabled: user.AccountEnabled,
	}, nil
}

// deriveUsername picks a username from the identity and probes the user
// store with numeric suffixes until it finds a free one.
func (p *Provisioner) deriveUsername(ctx context.Context, identity *ExternalIdentity) (string, error) {
	base := usernameBase(identity)

	candidate := base
	for suffix := 2; ; suffix++ {
		existing, err := p.users.FindByUsername(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to probe username %q: %w", candidate, err)
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, suffix)
	}
}

func usernameBase(identity *ExternalIdentity) string {
	if identity.Email != "" {
		if at := strings.Index(identity.Email, "@"); at > 0 {
			return strings.ToLower(identity.Email[:at])
		}
	}
	if identity.NameID != "" {
		name := identity.NameID
		if at := strings.Index(name, "@"); at > 0 {
			name = name[:at]
		}
		if len(name) > 20 {
			name = name[:20]
		}
		return strings.ToLower(name)
	}
	buf := make([]byte, 6)
	rand.Read(buf)
	return "sso-" + base64.RawURLEncoding.EncodeToString(buf)
}

// unusablePasswordHash returns a bcrypt hash of random bytes that are
// discarded immediately. SAML-linked users must never pass a local
// password check.
func unusablePasswordHash() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword(buf, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
