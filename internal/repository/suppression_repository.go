package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SuppressionRepository keeps the suppression list in Postgres and is usable
// as a suppression.Checker.
type SuppressionRepository struct {
	DB *sql.DB
}

func (r *SuppressionRepository) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var suppressed bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppressions WHERE email = $1)`,
		strings.ToLower(email),
	).Scan(&suppressed)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return suppressed, nil
}

// Add records an address; adding one twice is a no-op.
func (r *SuppressionRepository) Add(ctx context.Context, email, reason string) error {
	query := `
        INSERT INTO suppressions (email, reason, created_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (email) DO NOTHING
    `
	if _, err := r.DB.ExecContext(ctx, query, strings.ToLower(email), reason); err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	return nil
}
