package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/tracking"
)

// Mock repositories

type MockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]model.Campaign
	statuses  []string
	outcomes  []model.SendOutcome
	updateErr error
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return &c, nil
}

func (m *MockCampaignRepo) UpdateStatus(_ context.Context, _ int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return m.updateErr
}

func (m *MockCampaignRepo) UpdateSendOutcome(_ context.Context, _ int, o model.SendOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return m.updateErr
}

type MockContactRepo struct {
	recipients []model.Recipient
}

func (m *MockContactRepo) ListActive(context.Context) ([]model.Recipient, error) {
	return m.recipients, nil
}

type setChecker map[string]bool

func (s setChecker) IsSuppressed(_ context.Context, email string) (bool, error) {
	return s[email], nil
}

// countingSender records every attempt and fails the attempts listed in failOn.
type countingSender struct {
	mu       sync.Mutex
	attempts []string
	failOn   map[int]bool
}

func (c *countingSender) Send(_ context.Context, e *model.RenderedEmail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, e.To)
	if c.failOn[len(c.attempts)] {
		return errors.New("provider rejected")
	}
	return nil
}

func newService(sender mailer.Sender) (*CampaignService, *MockCampaignRepo) {
	repo := &MockCampaignRepo{campaigns: map[int]model.Campaign{}}
	return &CampaignService{
		CampaignRepo: repo,
		Sender:       sender,
		Renderer: &RenderService{
			Injector:    tracking.NewInjector("https://app.example.com", ""),
			DefaultFrom: model.Address{Email: "noreply@example.com", Name: "Example"},
		},
		Dispatch: DispatchOptions{BatchSize: 2, Concurrency: 1},
	}, repo
}

func fiveRecipients() []model.Recipient {
	return []model.Recipient{
		{Email: "a@x.com"}, {Email: "b@x.com"}, {Email: "c@x.com"}, {Email: "d@x.com"}, {Email: "e@x.com"},
	}
}

func TestSendCampaignEndToEnd(t *testing.T) {
	sender := mailer.NewMemorySender()
	svc, repo := newService(sender)

	result, err := svc.SendCampaign(context.Background(), SendRequest{
		Campaign: &model.Campaign{
			ID:          1,
			Subject:     "Hi {{first_name}}",
			HTMLContent: "<p>Welcome {{first_name}}</p>",
			FromEmail:   "a@b.com",
		},
		Recipients: []model.Recipient{{Email: "x@y.com", FirstName: "Sam"}},
	})
	require.NoError(t, err)

	assert.Equal(t, model.SendResult{Success: true, Sent: 1, Total: 1, Status: model.StatusSent}, *result)

	sent := sender.Sent()
	require.Len(t, sent, 1)
	email := sent[0]
	assert.Equal(t, "Hi Sam", email.Subject)
	assert.Contains(t, email.HTML, "Welcome Sam")
	assert.Equal(t, "a@b.com", email.From.Email)
	assert.Equal(t, "Example", email.From.Name)

	wantToken := base64.URLEncoding.EncodeToString([]byte("x@y.com:1"))
	assert.Equal(t, wantToken, email.TrackingToken)
	assert.Contains(t, email.HTML, "/track/open/"+wantToken)
	unsub := base64.URLEncoding.EncodeToString([]byte("x@y.com"))
	assert.Contains(t, email.HTML, "/unsubscribe?token="+strings.ReplaceAll(unsub, "=", "%3D"))
	assert.Contains(t, email.Text, "Welcome Sam")

	require.Len(t, repo.outcomes, 1)
	assert.Equal(t, model.StatusSent, repo.outcomes[0].Status)
	assert.Equal(t, 1, repo.outcomes[0].SentCount)
	assert.Equal(t, []string{model.StatusSending}, repo.statuses)
}

func TestSendCampaignIsolatesFailures(t *testing.T) {
	sender := &countingSender{failOn: map[int]bool{3: true}}
	svc, repo := newService(sender)

	result, err := svc.SendCampaign(context.Background(), SendRequest{
		Campaign:   &model.Campaign{ID: 2, Subject: "s", HTMLContent: "<p>x</p>"},
		Recipients: fiveRecipients(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}, sender.attempts)
	assert.Equal(t, 4, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, model.StatusPartiallySent, result.Status)
	require.Len(t, repo.outcomes, 1)
	assert.Equal(t, 1, repo.outcomes[0].BouncedCount)
}

func TestSendCampaignAllFailed(t *testing.T) {
	sender := &countingSender{failOn: map[int]bool{1: true, 2: true}}
	svc, _ := newService(sender)

	result, err := svc.SendCampaign(context.Background(), SendRequest{
		Campaign:   &model.Campaign{ID: 2, HTMLContent: "<p>x</p>"},
		Recipients: []model.Recipient{{Email: "a@x.com"}, {Email: "b@x.com"}},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, model.StatusFailed, result.Status)
}

func TestSendCampaignSuppression(t *testing.T) {
	sender := mailer.NewMemorySender()
	svc, _ := newService(sender)
	svc.Suppression = setChecker{"b@x.com": true, "d@x.com": true}

	result, err := svc.SendCampaign(context.Background(), SendRequest{
		Campaign:   &model.Campaign{ID: 3, HTMLContent: "<p>x</p>"},
		Recipients: fiveRecipients(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Sent)
	assert.Equal(t, 2, result.Suppressed)
	assert.Equal(t, 5, result.Total)
	assert.Len(t, sender.Sent(), 3)
}

func TestSendCampaignAllSuppressedShortCircuits(t *testing.T) {
	sender := &countingSender{}
	svc, repo := newService(sender)
	svc.Suppression = setChecker{"a@x.com": true, "b@x.com": true}

	result, err := svc.SendCampaign(context.Background(), SendRequest{
		Campaign:   &model.Campaign{ID: 4, HTMLContent: "<p>x</p>"},
		Recipients: []model.Recipient{{Email: "a@x.com"}, {Email: "b@x.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.SendResult{Success: true, Suppressed: 2, Total: 2}, *result)
	assert.Empty(t, sender.attempts)
	assert.Empty(t, repo.statuses)
	assert.Empty(t, repo.outcomes)
}

func TestSendCampaignFetchMode(t *testing.T) {
	sender := mailer.NewMemorySender()
	svc, repo := newService(sender)
	repo.campaigns[7] = model.Campaign{ID: 7, Subject: "Hello {{first_name}}", HTMLContent: "<p>Hi</p>"}
	svc.ContactRepo = &MockContactRepo{recipients: []model.Recipient{
		{Email: "a@x.com", FirstName: "Ann"},
		{Email: "A@X.com", FirstName: "Dup"},
	}}

	result, err := svc.SendCampaign(context.Background(), SendRequest{CampaignIDCamel: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, "Hello Ann", sender.Sent()[0].Subject)
}

func TestSendCampaignFetchModeSkipsInvalidContacts(t *testing.T) {
	sender := mailer.NewMemorySender()
	svc, repo := newService(sender)
	repo.campaigns[7] = model.Campaign{ID: 7, HTMLContent: "<p>Hi</p>"}
	svc.ContactRepo = &MockContactRepo{recipients: []model.Recipient{
		{Email: "a@b.com"}, {Email: "broken-address"}, {Email: "c@d.com"},
	}}

	result, err := svc.SendCampaign(context.Background(), SendRequest{CampaignID: 7})
	require.NoError(t, err)
	assert.Equal(t, model.SendResult{Success: true, Sent: 2, Failed: 1, Total: 3, Status: model.StatusPartiallySent}, *result)
	require.Len(t, sender.Sent(), 2)
	assert.Equal(t, "a@b.com", sender.Sent()[0].To)
	assert.Equal(t, "c@d.com", sender.Sent()[1].To)
	require.Len(t, repo.outcomes, 1)
	assert.Equal(t, 1, repo.outcomes[0].BouncedCount)

	svc.ContactRepo = &MockContactRepo{recipients: []model.Recipient{{Email: ""}, {Email: "nope"}}}
	result, err = svc.SendCampaign(context.Background(), SendRequest{CampaignID: 7})
	require.NoError(t, err)
	assert.Equal(t, model.SendResult{Success: true, Failed: 2, Total: 2, Status: model.StatusFailed}, *result)
	assert.Len(t, sender.Sent(), 2)
}

func TestSendCampaignErrors(t *testing.T) {
	t.Run("mail not configured", func(t *testing.T) {
		svc, _ := newService(nil)
		svc.Sender = nil
		_, err := svc.SendCampaign(context.Background(), SendRequest{CampaignID: 1})
		assert.ErrorIs(t, err, appErrors.ErrMailNotConfigured)
	})
	t.Run("no campaign", func(t *testing.T) {
		svc, _ := newService(mailer.NewMemorySender())
		_, err := svc.SendCampaign(context.Background(), SendRequest{})
		assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
	})
	t.Run("campaign without id", func(t *testing.T) {
		svc, _ := newService(mailer.NewMemorySender())
		_, err := svc.SendCampaign(context.Background(), SendRequest{
			Campaign: &model.Campaign{}, Recipients: fiveRecipients(),
		})
		assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
	})
	t.Run("unknown campaign", func(t *testing.T) {
		svc, _ := newService(mailer.NewMemorySender())
		_, err := svc.SendCampaign(context.Background(), SendRequest{CampaignID: 99})
		assert.True(t, appErrors.IsCampaignNotFound(err))
	})
	t.Run("empty recipients", func(t *testing.T) {
		svc, _ := newService(mailer.NewMemorySender())
		_, err := svc.SendCampaign(context.Background(), SendRequest{Campaign: &model.Campaign{ID: 1}})
		assert.ErrorIs(t, err, appErrors.ErrNoRecipients)
	})
	t.Run("bad address", func(t *testing.T) {
		sender := &countingSender{}
		svc, _ := newService(sender)
		_, err := svc.SendCampaign(context.Background(), SendRequest{
			Campaign:   &model.Campaign{ID: 1},
			Recipients: []model.Recipient{{Email: "a@x.com"}, {Email: "nope"}},
		})
		assert.ErrorIs(t, err, appErrors.ErrInvalidInput)
		assert.Empty(t, sender.attempts)
	})
}

func TestSendCampaignSwallowsOutcomeFailure(t *testing.T) {
	svc, repo := newService(mailer.NewMemorySender())
	repo.updateErr = errors.New("backend down")

	result, err := svc.SendCampaign(context.Background(), SendRequest{
		Campaign:   &model.Campaign{ID: 1, HTMLContent: "<p>x</p>"},
		Recipients: []model.Recipient{{Email: "a@x.com"}},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, repo.outcomes, 1)
}

func TestPreviewUsesSampleContact(t *testing.T) {
	svc, _ := newService(nil)
	p, err := svc.Preview(model.Campaign{ID: 1, Subject: "Hi {{first_name}}", HTMLContent: "<p>{{company}} {{oops</p>"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi John", p.Email.Subject)
	assert.Contains(t, p.Email.HTML, "Acme Corporation")
	assert.NotEmpty(t, p.Warnings)
}

func TestSendTest(t *testing.T) {
	sender := mailer.NewMemorySender()
	svc, _ := newService(sender)

	err := svc.SendTest(context.Background(), model.Campaign{
		ID: 1, Subject: "News for {{first_name}}", HTMLContent: "<p>Bye [unsubscribe]</p>",
	}, "qa@example.com")
	require.NoError(t, err)

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "[TEST] News for John", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, "<em>[Test email - no unsubscribe needed]</em>")
	assert.NotContains(t, sent[0].HTML, "/track/open/")
	assert.Empty(t, sent[0].TrackingToken)

	assert.ErrorIs(t, svc.SendTest(context.Background(), model.Campaign{ID: 1}, "bad"), appErrors.ErrInvalidInput)
}

func TestEnqueueAndHandleSendJob(t *testing.T) {
	sender := mailer.NewMemorySender()
	svc, repo := newService(sender)
	repo.campaigns[5] = model.Campaign{ID: 5, Subject: "Hi", HTMLContent: "<p>x</p>"}
	q := queue.NewInMemoryQueue(nil)
	svc.Queue = q
	require.NoError(t, q.Subscribe(context.Background(), queue.TopicCampaignSends, svc.HandleSendJob))

	jobID, err := svc.EnqueueCampaign(context.Background(), 5, []model.Recipient{{Email: "x@y.com"}})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	q.Wait()
	assert.Len(t, sender.Sent(), 1)

	_, err = svc.EnqueueCampaign(context.Background(), 404, nil)
	assert.True(t, appErrors.IsCampaignNotFound(err))
}

func TestHandleSendJobDropsUnrecoverableJobs(t *testing.T) {
	svc, _ := newService(mailer.NewMemorySender())

	assert.NoError(t, svc.HandleSendJob(context.Background(), []byte("not json")))

	payload, err := queue.NewSendJob(404, nil).Encode()
	require.NoError(t, err)
	assert.NoError(t, svc.HandleSendJob(context.Background(), payload))
}

func TestDispatcherBatchesWithDelay(t *testing.T) {
	sender := &countingSender{}
	renderer := &RenderService{Now: func() time.Time { return time.Unix(0, 0) }}
	d := NewDispatcher(sender, renderer, DispatchOptions{BatchSize: 2, BatchDelay: time.Second}, nil, nil)
	var sleeps []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}

	p, err := renderer.Prepare(model.Campaign{ID: 1, HTMLContent: "<p>x</p>"})
	require.NoError(t, err)
	sent, failed := d.Dispatch(context.Background(), p, fiveRecipients())

	assert.Equal(t, 5, sent)
	assert.Zero(t, failed)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps, "no delay after the last batch")
}

func TestDispatcherCancellationCountsRemainingAsFailed(t *testing.T) {
	sender := &countingSender{}
	renderer := &RenderService{}
	d := NewDispatcher(sender, renderer, DispatchOptions{BatchSize: 2, BatchDelay: time.Second}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	p, err := renderer.Prepare(model.Campaign{ID: 1})
	require.NoError(t, err)
	sent, failed := d.Dispatch(ctx, p, fiveRecipients())

	assert.Equal(t, 2, sent)
	assert.Equal(t, 3, failed)
	assert.Len(t, sender.attempts, 2)
}

type panicSender struct{ on string }

func (p panicSender) Send(_ context.Context, e *model.RenderedEmail) error {
	if e.To == p.on {
		panic("boom")
	}
	return nil
}

func TestDispatcherRecoversPanics(t *testing.T) {
	renderer := &RenderService{}
	d := NewDispatcher(panicSender{on: "b@x.com"}, renderer, DispatchOptions{BatchSize: 5, Concurrency: 3}, nil, nil)

	p, err := renderer.Prepare(model.Campaign{ID: 1})
	require.NoError(t, err)
	sent, failed := d.Dispatch(context.Background(), p, fiveRecipients())

	assert.Equal(t, 4, sent)
	assert.Equal(t, 1, failed)
}
