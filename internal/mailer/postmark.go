package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mrz1836/postmark"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

type PostmarkSender struct {
	client *postmark.Client
	log    *slog.Logger
}

// NewPostmarkSender builds a sender on the Postmark transactional API. The
// account token is optional since only server endpoints are used.
func NewPostmarkSender(serverToken, accountToken string, timeout time.Duration, log *slog.Logger) (*PostmarkSender, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: Postmark server token is required", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.Discard()
	}
	client := postmark.NewClient(serverToken, accountToken)
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &PostmarkSender{client: client, log: log}, nil
}

// WithBaseURL points the client at another API host.
func (s *PostmarkSender) WithBaseURL(u string) *PostmarkSender {
	s.client.BaseURL = u
	return s
}

func (s *PostmarkSender) Send(ctx context.Context, email *model.RenderedEmail) error {
	from := email.From.Email
	if email.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", email.From.Name, email.From.Email)
	}
	tracked := email.TrackingToken != ""
	metadata := map[string]string{"campaign_id": strconv.Itoa(email.CampaignID)}
	trackLinks := "None"
	if tracked {
		metadata["tracking_token"] = email.TrackingToken
		trackLinks = "HtmlOnly"
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       from,
		To:         email.To,
		ReplyTo:    email.ReplyTo,
		Subject:    email.Subject,
		Tag:        "campaign-" + strconv.Itoa(email.CampaignID),
		HTMLBody:   email.HTML,
		TextBody:   email.Text,
		TrackOpens: tracked,
		TrackLinks: trackLinks,
		Metadata:   metadata,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	s.log.Debug("postmark accepted email", logger.Email(email.To), logger.CampaignID(email.CampaignID), slog.String("message_id", resp.MessageID))
	return nil
}
