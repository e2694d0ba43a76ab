// Package backend talks to the hosted REST backend that owns campaigns and
// contacts (email_campaigns and email_contacts tables).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/backoff"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

type Client struct {
	baseURL string
	http    *http.Client
	policy  backoff.Policy
}

func NewClient(baseURL string, timeout time.Duration, policy backoff.Policy) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		policy:  policy,
	}
}

// statusError carries a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.code, e.body)
}

func (c *Client) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	var campaign model.Campaign
	err := c.do(ctx, http.MethodGet, "/email_campaigns/"+strconv.Itoa(id), nil, &campaign)
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("fetch campaign %d: %w", id, err)
	}
	if campaign.ID == 0 {
		campaign.ID = id
	}
	return &campaign, nil
}

// ListActive fetches every contact and keeps those with status "active".
func (c *Client) ListActive(ctx context.Context) ([]model.Recipient, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/email_contacts", nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	recipients := make([]model.Recipient, 0, len(raw))
	for _, item := range raw {
		var probe struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(item, &probe); err != nil || probe.Status != "active" {
			continue
		}
		var r model.Recipient
		if err := json.Unmarshal(item, &r); err != nil {
			continue
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id int, status string) error {
	return c.patch(ctx, id, map[string]string{"status": status})
}

func (c *Client) UpdateSendOutcome(ctx context.Context, id int, outcome model.SendOutcome) error {
	return c.patch(ctx, id, outcome)
}

func (c *Client) patch(ctx context.Context, id int, body any) error {
	err := c.do(ctx, http.MethodPatch, "/email_campaigns/"+strconv.Itoa(id), body, nil)
	if err != nil {
		if isNotFound(err) {
			return appErrors.NewCampaignNotFound(id)
		}
		return fmt.Errorf("update campaign %d: %w", id, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

// do retries transport errors and 5xx responses. Other statuses are final.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}
	return backoff.Do(ctx, c.policy, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			se := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
			if resp.StatusCode >= 500 {
				return se
			}
			return backoff.Permanent(se)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

var (
	_ repository.CampaignRepositoryInterface = (*Client)(nil)
	_ repository.ContactRepositoryInterface  = (*Client)(nil)
)
