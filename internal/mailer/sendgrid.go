package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

const sendGridPath = "/v3/mail/send"

type SendGridSender struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewSendGridSender talks to baseURL (https://api.sendgrid.com in
// production). timeout bounds each request.
func NewSendGridSender(apiKey, baseURL string, timeout time.Duration, log *slog.Logger) (*SendGridSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: SendGrid API key is required", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &SendGridSender{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To         []sgAddress       `json:"to"`
	Subject    string            `json:"subject"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgToggle struct {
	Enable bool `json:"enable"`
}

type sgTracking struct {
	ClickTracking sgToggle `json:"click_tracking"`
	OpenTracking  sgToggle `json:"open_tracking"`
}

type sgMessage struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	ReplyTo          *sgAddress          `json:"reply_to,omitempty"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	TrackingSettings sgTracking          `json:"tracking_settings"`
}

func (s *SendGridSender) Send(ctx context.Context, email *model.RenderedEmail) error {
	body, err := json.Marshal(s.payload(email))
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+sendGridPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: sendgrid status %d: %s", ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	s.log.Debug("sendgrid accepted email",
		logger.Email(email.To),
		logger.CampaignID(email.CampaignID),
		logger.StatusCode(resp.StatusCode),
		slog.String("message_id", resp.Header.Get("X-Message-Id")),
	)
	return nil
}

// payload enables provider tracking only for emails that carry a tracking
// token, so test sends stay untracked.
func (s *SendGridSender) payload(email *model.RenderedEmail) sgMessage {
	tracked := email.TrackingToken != ""
	msg := sgMessage{
		Personalizations: []sgPersonalization{{
			To:      []sgAddress{{Email: email.To}},
			Subject: email.Subject,
			CustomArgs: map[string]string{
				"campaign_id": strconv.Itoa(email.CampaignID),
			},
		}},
		From:    sgAddress{Email: email.From.Email, Name: email.From.Name},
		Subject: email.Subject,
		TrackingSettings: sgTracking{
			ClickTracking: sgToggle{Enable: tracked},
			OpenTracking:  sgToggle{Enable: tracked},
		},
	}
	if tracked {
		msg.Personalizations[0].CustomArgs["tracking_token"] = email.TrackingToken
	}
	if email.ReplyTo != "" {
		msg.ReplyTo = &sgAddress{Email: email.ReplyTo}
	}
	// text/plain must precede text/html.
	if email.Text != "" {
		msg.Content = append(msg.Content, sgContent{Type: "text/plain", Value: email.Text})
	}
	msg.Content = append(msg.Content, sgContent{Type: "text/html", Value: email.HTML})
	return msg
}
