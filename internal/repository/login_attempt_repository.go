package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/forgebuild/forgebuild/backend/internal/db"
	"github.com/forgebuild/forgebuild/backend/internal/models"
	"github.com/forgebuild/forgebuild/backend/pkg/debug"
)

// LoginAttemptRepository records authentication attempts for audit
type LoginAttemptRepository struct {
	db *db.DB
}

// NewLoginAttemptRepository creates a new login attempt repository
func NewLoginAttemptRepository(db *db.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Record stores one login attempt. Failures to write audit rows are logged
// but never block the login flow.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) {
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now()
	}

	query := `
		INSERT INTO login_attempts (user_id, username, ip_address, user_agent,
		                            success, failure_reason, provider_name, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		attempt.UserID,
		nullString(attempt.Username),
		nullString(attempt.IPAddress),
		nullString(attempt.UserAgent),
		attempt.Success,
		nullString(attempt.FailureReason),
		nullString(attempt.ProviderName),
		attempt.AttemptedAt,
	)
	if err != nil {
		debug.Error("Failed to record login attempt: %v", err)
	}
}

// CountRecentFailures counts failed attempts from an IP within the window
func (r *LoginAttemptRepository) CountRecentFailures(ctx context.Context, ipAddress string, window time.Duration) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempted_at > $2
	`
	err := r.db.QueryRowContext(ctx, query, ipAddress, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent failures: %w", err)
	}
	return count, nil
}
