// internal/model/rendered_email.go
package model

import "time"

type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// RenderedEmail is one send-ready message for a (campaign, recipient) pair.
type RenderedEmail struct {
	CampaignID    int       `json:"campaign_id"`
	To            string    `json:"to"`
	From          Address   `json:"from"`
	ReplyTo       string    `json:"reply_to,omitempty"`
	Subject       string    `json:"subject"`
	HTML          string    `json:"html"`
	Text          string    `json:"text"`
	TrackingToken string    `json:"tracking_token,omitempty"`
	RenderedAt    time.Time `json:"rendered_at"`
}
