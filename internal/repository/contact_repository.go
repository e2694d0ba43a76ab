package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// ContactRepositoryInterface supplies recipients when a send request names
// only a campaign.
type ContactRepositoryInterface interface {
	ListActive(ctx context.Context) ([]model.Recipient, error)
}

type ContactRepository struct {
	DB *sql.DB
}

// ListActive returns contacts with status 'active' in insertion order.
// Custom personalization values live in the jsonb fields column.
func (r *ContactRepository) ListActive(ctx context.Context) ([]model.Recipient, error) {
	query := `
        SELECT email, first_name, last_name, fields
        FROM contacts
        WHERE status = 'active'
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active contacts: %w", err)
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rec model.Recipient
		var first, last sql.NullString
		var fields []byte
		if err := rows.Scan(&rec.Email, &first, &last, &fields); err != nil {
			return nil, err
		}
		rec.FirstName = first.String
		rec.LastName = last.String
		if len(fields) > 0 {
			var extra map[string]any
			if err := json.Unmarshal(fields, &extra); err != nil {
				return nil, fmt.Errorf("contact %s fields: %w", rec.Email, err)
			}
			for k, v := range extra {
				rec.Set(k, v)
			}
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
