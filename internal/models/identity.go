package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserIdentity links a local user to an identity asserted by an IdP. At most
// one link exists per (idp_entity_id, name_id) pair; the schema enforces this
// with a unique constraint so concurrent provisioning cannot create duplicates.
type UserIdentity struct {
	ID           uuid.UUID           `json:"id" db:"id"`
	UserID       uuid.UUID           `json:"user_id" db:"user_id"`
	IDPEntityID  string              `json:"idp_entity_id" db:"idp_entity_id"`
	NameID       string              `json:"name_id" db:"name_id"`
	NameIDFormat string              `json:"name_id_format,omitempty" db:"name_id_format"`
	Email        string              `json:"email,omitempty" db:"email"`
	DisplayName  string              `json:"display_name,omitempty" db:"display_name"`
	Attributes   map[string][]string `json:"attributes,omitempty" db:"attributes"`
	LastLoginAt  *time.Time          `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
}

// ScanAttributes populates Attributes from a raw database value.
func (ui *UserIdentity) ScanAttributes(value interface{}) error {
	if value == nil {
		ui.Attributes = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported attributes type %T", value)
	}

	if len(data) == 0 {
		ui.Attributes = nil
		return nil
	}
	return json.Unmarshal(data, &ui.Attributes)
}

// LinkedUser is the user record joined through an identity link, carrying
// just the fields the SSO flow needs.
type LinkedUser struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	AccountEnabled bool      `json:"account_enabled"`
}
