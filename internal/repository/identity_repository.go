package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgebuild/forgebuild/backend/internal/db"
	"github.com/forgebuild/forgebuild/backend/internal/models"
	"github.com/forgebuild/forgebuild/backend/internal/sso"
	"github.com/forgebuild/forgebuild/backend/pkg/debug"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// IdentityRepository handles database operations for IdP identity links
type IdentityRepository struct {
	db *db.DB
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *db.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// FindLinkedUser looks up the local user linked to (idpEntityID, nameID) and
// stamps the link's last login time. Returns nil when no link exists.
func (r *IdentityRepository) FindLinkedUser(ctx context.Context, idpEntityID, nameID string) (*models.LinkedUser, error) {
	linked := &models.LinkedUser{}
	var identityID uuid.UUID

	query := `
		SELECT ui.id, u.id, u.username, u.role, u.account_enabled
		FROM user_identities ui
		JOIN users u ON u.id = ui.user_id
		WHERE ui.idp_entity_id = $1 AND ui.name_id = $2
	`
	err := r.db.QueryRowContext(ctx, query, idpEntityID, nameID).Scan(
		&identityID,
		&linked.ID,
		&linked.Username,
		&linked.Role,
		&linked.AccountEnabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find linked user: %w", err)
	}

	touch := `UPDATE user_identities SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, touch, identityID); err != nil {
		return nil, fmt.Errorf("failed to update identity last login: %w", err)
	}

	return linked, nil
}

// Create inserts a new identity link. A concurrent insert for the same
// (idp_entity_id, name_id) pair trips the unique constraint and surfaces as
// sso.ErrDuplicateIdentity so callers can fall back to the existing link.
func (r *IdentityRepository) Create(ctx context.Context, identity *models.UserIdentity) error {
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	attributesJSON, err := json.Marshal(identity.Attributes)
	if err != nil {
		return fmt.Errorf("failed to serialize identity attributes: %w", err)
	}

	query := `
		INSERT INTO user_identities (id, user_id, idp_entity_id, name_id,
		                             name_id_format, email, display_name,
		                             attributes, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		identity.ID,
		identity.UserID,
		identity.IDPEntityID,
		identity.NameID,
		nullString(identity.NameIDFormat),
		nullString(identity.Email),
		nullString(identity.DisplayName),
		attributesJSON,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return fmt.Errorf("identity link for %s already exists: %w", identity.NameID, sso.ErrDuplicateIdentity)
		}
		return fmt.Errorf("failed to create identity link: %w", err)
	}

	debug.Info("Created identity link %s for user %s (idp %s)", identity.ID, identity.UserID, identity.IDPEntityID)
	return nil
}

// GetByUserID lists the identity links attached to a local user
func (r *IdentityRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.UserIdentity, error) {
	query := `
		SELECT id, user_id, idp_entity_id, name_id, name_id_format,
		       email, display_name, attributes, last_login_at, created_at, updated_at
		FROM user_identities
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*models.UserIdentity
	for rows.Next() {
		identity := &models.UserIdentity{}
		var nameIDFormat, email, displayName sql.NullString
		var lastLogin sql.NullTime
		var rawAttributes []byte

		err := rows.Scan(
			&identity.ID,
			&identity.UserID,
			&identity.IDPEntityID,
			&identity.NameID,
			&nameIDFormat,
			&email,
			&displayName,
			&rawAttributes,
			&lastLogin,
			&identity.CreatedAt,
			&identity.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}

		identity.NameIDFormat = nameIDFormat.String
		identity.Email = email.String
		identity.DisplayName = displayName.String
		if lastLogin.Valid {
			identity.LastLoginAt = &lastLogin.Time
		}
		if err := identity.ScanAttributes(rawAttributes); err != nil {
			return nil, fmt.Errorf("failed to decode identity attributes: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}
