// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/suppression"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Suppression  suppression.Checker
	Sender       mailer.Sender
	Renderer     *RenderService
	Dispatch     DispatchOptions
	Queue        queue.Queue
	Metrics      *metrics.Metrics
	Log          *slog.Logger
}

// SendRequest is the body of a campaign send. Either CampaignID (fetch
// mode) or Campaign with Recipients (direct mode) must be set.
type SendRequest struct {
	CampaignID      int               `json:"campaign_id,omitempty"`
	CampaignIDCamel int               `json:"campaignId,omitempty"`
	Campaign        *model.Campaign   `json:"campaign,omitempty"`
	Recipients      []model.Recipient `json:"recipients,omitempty"`
}

func (r SendRequest) id() int {
	if r.CampaignID != 0 {
		return r.CampaignID
	}
	return r.CampaignIDCamel
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+'-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func (s *CampaignService) log() *slog.Logger {
	if s.Log == nil {
		return logger.Discard()
	}
	return s.Log
}

// SendCampaign runs the whole pipeline for one campaign: resolve the
// campaign and recipients, drop suppressed addresses, dispatch in batches
// and write the outcome back.
func (s *CampaignService) SendCampaign(ctx context.Context, req SendRequest) (*model.SendResult, error) {
	if s.Sender == nil {
		return nil, appErrors.ErrMailNotConfigured
	}

	campaign, err := s.resolveCampaign(ctx, req)
	if err != nil {
		return nil, err
	}

	recipients := req.Recipients
	fetched := false
	if len(recipients) == 0 && req.Campaign == nil && s.ContactRepo != nil {
		if recipients, err = s.ContactRepo.ListActive(ctx); err != nil {
			return nil, fmt.Errorf("load recipients: %w", err)
		}
		fetched = true
	}
	log := s.log().With(logger.CampaignID(campaign.ID))

	recipients, skipped, err := normalizeRecipients(recipients, fetched)
	if err != nil {
		return nil, err
	}
	for _, email := range skipped {
		log.Warn("skipping contact with invalid email", logger.Email(email))
	}
	s.Metrics.RecipientFailed(len(skipped))
	total := len(recipients) + len(skipped)

	valid, suppressed := suppression.Filter(ctx, recipients, s.Suppression, log)
	s.Metrics.Suppressed(suppressed)
	if len(valid) == 0 && len(skipped) == 0 {
		log.Info("all recipients suppressed", logger.Count("suppressed", suppressed))
		return &model.SendResult{Success: true, Suppressed: suppressed, Total: total}, nil
	}

	prepared, err := s.Renderer.Prepare(*campaign)
	if err != nil {
		return nil, fmt.Errorf("prepare campaign %d: %w", campaign.ID, err)
	}

	s.updateStatus(ctx, log, campaign.ID, model.StatusSending)

	start := time.Now()
	sent, failed := 0, len(skipped)
	if len(valid) > 0 {
		var dispatchFailed int
		sent, dispatchFailed = NewDispatcher(s.Sender, s.Renderer, s.Dispatch, log, s.Metrics).Dispatch(ctx, prepared, valid)
		failed += dispatchFailed
	}

	result := &model.SendResult{Success: true, Sent: sent, Failed: failed, Suppressed: suppressed, Total: total}
	result.Status = result.FinalStatus()
	s.Metrics.CampaignFinished(result.Status)
	log.Info("campaign send finished",
		logger.Count("sent", sent),
		logger.Count("failed", failed),
		logger.Count("suppressed", suppressed),
		slog.String("status", result.Status),
		logger.Elapsed(start),
	)

	s.writeOutcome(ctx, log, campaign.ID, model.SendOutcome{
		Status:       result.Status,
		SentAt:       time.Now().UTC(),
		SentCount:    sent,
		BouncedCount: failed,
	})
	return result, nil
}

func (s *CampaignService) resolveCampaign(ctx context.Context, req SendRequest) (*model.Campaign, error) {
	if req.Campaign != nil {
		if req.Campaign.ID == 0 {
			return nil, appErrors.Invalid("campaign id is required")
		}
		return req.Campaign, nil
	}
	id := req.id()
	if id <= 0 {
		return nil, appErrors.Invalid("campaign_id or campaign is required")
	}
	if s.CampaignRepo == nil {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return s.CampaignRepo.GetByID(ctx, id)
}

// normalizeRecipients trims addresses and drops case-insensitive duplicates
// keeping the first. A malformed address fails a caller-supplied list; with
// lenient set (contacts loaded from the store) it is returned in skipped
// instead.
func normalizeRecipients(in []model.Recipient, lenient bool) (out []model.Recipient, skipped []string, err error) {
	if len(in) == 0 {
		return nil, nil, fmt.Errorf("%w: recipient list is empty", appErrors.ErrNoRecipients)
	}
	seen := make(map[string]struct{}, len(in))
	out = make([]model.Recipient, 0, len(in))
	for i, r := range in {
		r.Email = strings.TrimSpace(r.Email)
		if !emailPattern.MatchString(r.Email) {
			switch {
			case lenient:
				skipped = append(skipped, r.Email)
				continue
			case r.Email == "":
				return nil, nil, appErrors.Invalid("recipient %d has no email", i)
			default:
				return nil, nil, appErrors.Invalid("recipient email %q is not valid", r.Email)
			}
		}
		key := strings.ToLower(r.Email)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out, skipped, nil
}

// Status write failures are logged and never reach the caller.
func (s *CampaignService) updateStatus(ctx context.Context, log *slog.Logger, id int, status string) {
	if s.CampaignRepo == nil {
		return
	}
	if err := s.CampaignRepo.UpdateStatus(ctx, id, status); err != nil {
		log.Warn("campaign status update failed", slog.String("status", status), logger.Error(err))
	}
}

func (s *CampaignService) writeOutcome(ctx context.Context, log *slog.Logger, id int, outcome model.SendOutcome) {
	if s.CampaignRepo == nil {
		return
	}
	if err := s.CampaignRepo.UpdateSendOutcome(context.WithoutCancel(ctx), id, outcome); err != nil {
		log.Warn("campaign outcome update failed", slog.String("status", outcome.Status), logger.Error(err))
	}
}

// Preview is a single rendered email plus authoring warnings.
type Preview struct {
	Email    *model.RenderedEmail `json:"email"`
	Warnings []string             `json:"warnings"`
}

// Preview renders c for r, or for the sample contact when r is nil. Nothing
// is sent.
func (s *CampaignService) Preview(c model.Campaign, r *model.Recipient) (*Preview, error) {
	recipient := PreviewContact()
	if r != nil && r.Email != "" {
		recipient = *r
	}
	prepared, err := s.Renderer.Prepare(c)
	if err != nil {
		return nil, err
	}
	email, err := s.Renderer.Render(prepared, recipient)
	if err != nil {
		return nil, err
	}
	warnings := []string{}
	for _, part := range []string{c.Subject, c.HTMLContent, c.PlainTextContent} {
		warnings = append(warnings, ValidateVariables(part).Errors...)
	}
	return &Preview{Email: email, Warnings: dedupe(warnings)}, nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// SendTest mails one untracked [TEST] copy of c to the given address.
func (s *CampaignService) SendTest(ctx context.Context, c model.Campaign, to string) error {
	if s.Sender == nil {
		return appErrors.ErrMailNotConfigured
	}
	to = strings.TrimSpace(to)
	if !emailPattern.MatchString(to) {
		return appErrors.Invalid("to_email %q is not valid", to)
	}
	prepared, err := s.Renderer.Prepare(c)
	if err != nil {
		return err
	}
	return s.Sender.Send(ctx, s.Renderer.RenderTest(prepared, to))
}

// EnqueueCampaign checks that the campaign exists and hands the send to the
// queue. It returns the job id.
func (s *CampaignService) EnqueueCampaign(ctx context.Context, id int, recipients []model.Recipient) (string, error) {
	if id <= 0 {
		return "", appErrors.Invalid("campaign id must be positive")
	}
	if s.Queue == nil {
		return "", errors.New("job queue not configured")
	}
	if s.CampaignRepo != nil {
		if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
			return "", err
		}
	}
	job := queue.NewSendJob(id, recipients)
	payload, err := job.Encode()
	if err != nil {
		return "", err
	}
	if err := s.Queue.Publish(ctx, queue.TopicCampaignSends, payload); err != nil {
		return "", fmt.Errorf("enqueue campaign %d: %w", id, err)
	}
	s.log().Info("campaign send enqueued", logger.CampaignID(id), logger.JobID(job.JobID))
	return job.JobID, nil
}

// HandleSendJob is the queue handler for TopicCampaignSends. Jobs that can
// never succeed (bad payload, unknown campaign, invalid input) are dropped
// instead of retried.
func (s *CampaignService) HandleSendJob(ctx context.Context, payload []byte) error {
	job, err := queue.DecodeSendJob(payload)
	if err != nil {
		s.log().Error("dropping malformed job", logger.Error(err))
		return nil
	}
	log := s.log().With(logger.JobID(job.JobID), logger.CampaignID(job.CampaignID))

	result, err := s.SendCampaign(ctx, SendRequest{CampaignID: job.CampaignID, Recipients: job.Recipients})
	switch {
	case err == nil:
		log.Info("job done", slog.String("status", result.Status), logger.Count("sent", result.Sent))
		return nil
	case appErrors.IsCampaignNotFound(err),
		errors.Is(err, appErrors.ErrInvalidInput),
		errors.Is(err, appErrors.ErrNoRecipients),
		errors.Is(err, appErrors.ErrMailNotConfigured):
		log.Error("dropping job", logger.Error(err))
		return nil
	default:
		return err
	}
}
