package suppression

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/backoff"
)

// HTTPChecker asks a suppression service at GET {base}/{email} and expects
// {"suppressed": bool}.
type HTTPChecker struct {
	baseURL string
	client  *http.Client
	policy  backoff.Policy
}

func NewHTTPChecker(baseURL string, timeout time.Duration, policy backoff.Policy) *HTTPChecker {
	return &HTTPChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
	}
}

func (c *HTTPChecker) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var out struct {
		Suppressed bool `json:"suppressed"`
	}
	err := backoff.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(strings.ToLower(email)), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("suppression service status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("suppression service status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode suppression response: %w", err))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return out.Suppressed, nil
}
