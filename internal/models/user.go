package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a local account. SAML-provisioned users carry a random, never
// disclosed password hash, so the local credential path cannot match them.
type User struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Username       string     `json:"username" db:"username"`
	Email          string     `json:"email,omitempty" db:"email"`
	PasswordHash   string     `json:"-" db:"password_hash"`
	Role           string     `json:"role" db:"role"`
	AccountEnabled bool       `json:"account_enabled" db:"account_enabled"`
	LastLogin      *time.Time `json:"last_login,omitempty" db:"last_login"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// LoginAttempt records an authentication attempt for auditing.
type LoginAttempt struct {
	ID            int64      `json:"id" db:"id"`
	UserID        *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	Username      string     `json:"username,omitempty" db:"username"`
	IPAddress     string     `json:"ip_address" db:"ip_address"`
	UserAgent     string     `json:"user_agent" db:"user_agent"`
	Success       bool       `json:"success" db:"success"`
	FailureReason string     `json:"failure_reason,omitempty" db:"failure_reason"`
	ProviderName  string     `json:"provider_name,omitempty" db:"provider_name"`
	AttemptedAt   time.Time  `json:"attempted_at" db:"attempted_at"`
}
