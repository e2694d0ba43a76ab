package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// CampaignRepositoryInterface is the campaign store the send pipeline reads
// from and reports outcomes to. backend.Client satisfies it too.
type CampaignRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, id int, status string) error
	UpdateSendOutcome(ctx context.Context, id int, outcome model.SendOutcome) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, subject, from_name, from_email, reply_to, html_content,
        plain_text_content, status, sent_at, sent_count, bounced_count`

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	var c model.Campaign
	var sentAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail, &c.ReplyTo, &c.HTMLContent,
		&c.PlainTextContent, &c.Status, &sentAt, &c.SentCount, &c.BouncedCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("get campaign %d: %w", id, err)
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	return &c, nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id int, status string) error {
	query := `UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`
	res, err := r.DB.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update campaign %d status: %w", id, err)
	}
	return requireRow(res, id)
}

// UpdateSendOutcome writes the aggregate result of a send run.
func (r *CampaignRepository) UpdateSendOutcome(ctx context.Context, id int, outcome model.SendOutcome) error {
	query := `
        UPDATE campaigns
        SET status = $1, sent_at = $2, sent_count = $3, bounced_count = $4, updated_at = NOW()
        WHERE id = $5
    `
	res, err := r.DB.ExecContext(ctx, query, outcome.Status, outcome.SentAt, outcome.SentCount, outcome.BouncedCount, id)
	if err != nil {
		return fmt.Errorf("update campaign %d outcome: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
