// internal/model/campaign.go
package model

import "time"

// Campaign statuses.
const (
	StatusPending       = "pending"
	StatusSending       = "sending"
	StatusSent          = "sent"
	StatusPartiallySent = "partially_sent"
	StatusFailed        = "failed"
)

type Campaign struct {
	ID               int        `db:"id" json:"id"`
	Name             string     `db:"name" json:"name,omitempty"`
	Subject          string     `db:"subject" json:"subject"`
	FromName         string     `db:"from_name" json:"from_name,omitempty"`
	FromEmail        string     `db:"from_email" json:"from_email,omitempty"`
	ReplyTo          string     `db:"reply_to" json:"reply_to,omitempty"`
	HTMLContent      string     `db:"html_content" json:"html_content"`
	PlainTextContent string     `db:"plain_text_content" json:"plain_text_content,omitempty"`
	Status           string     `db:"status" json:"status,omitempty"`
	SentAt           *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	SentCount        int        `db:"sent_count" json:"sent_count,omitempty"`
	BouncedCount     int        `db:"bounced_count" json:"bounced_count,omitempty"`
}

// SendOutcome is the aggregate written back to a campaign after a send run.
type SendOutcome struct {
	Status       string    `json:"status"`
	SentAt       time.Time `json:"sent_at"`
	SentCount    int       `json:"sent_count"`
	BouncedCount int       `json:"bounced_count"`
}
