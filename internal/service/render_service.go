// internal/service/render_service.go
package service

import (
	"errors"
	"strings"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/emailhtml"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/tracking"
)

const (
	defaultSubject = "Email Campaign"
	defaultBody    = "<p>Email content</p>"
)

// PreparedCampaign holds the recipient-independent part of rendering:
// the inlined, cleaned HTML and the plain-text template.
type PreparedCampaign struct {
	Campaign model.Campaign
	HTML     string
	Text     string
}

// RenderService turns a campaign into one RenderedEmail per recipient.
type RenderService struct {
	Injector    *tracking.Injector
	DefaultFrom model.Address
	Now         func() time.Time
}

// Prepare inlines and cleans the campaign body once so that every
// recipient shares the result.
func (s *RenderService) Prepare(c model.Campaign) (*PreparedCampaign, error) {
	body := c.HTMLContent
	if strings.TrimSpace(body) == "" {
		body = defaultBody
	}
	html, err := emailhtml.Prepare(body)
	if err != nil {
		return nil, err
	}
	text := c.PlainTextContent
	if strings.TrimSpace(text) == "" {
		text = emailhtml.PlainText(html)
	}
	return &PreparedCampaign{Campaign: c, HTML: html, Text: text}, nil
}

// Render resolves variables for r and adds the tracking pixel and footer.
func (s *RenderService) Render(p *PreparedCampaign, r model.Recipient) (*model.RenderedEmail, error) {
	if r.Email == "" {
		return nil, errors.New("recipient has no email")
	}
	c := p.Campaign
	token := tracking.TrackingToken(r.Email, c.ID)

	html := RenderHTMLTemplate(p.HTML, r)
	text := RenderTemplate(p.Text, r)
	if s.Injector != nil {
		html = s.Injector.Inject(html, token, r.Email)
		text += "\n\nUnsubscribe: " + s.Injector.UnsubscribeURL(r.Email)
	}

	email := s.envelope(c, r.Email)
	email.Subject = RenderTemplate(subjectOf(c), r)
	email.HTML = html
	email.Text = text
	email.TrackingToken = token
	return email, nil
}

// RenderTest renders a campaign for a test send: subject prefixed with
// [TEST], sample contact values, no tracking and the [unsubscribe] marker
// replaced by a note.
func (s *RenderService) RenderTest(p *PreparedCampaign, to string) *model.RenderedEmail {
	sample := PreviewContact()
	const note = "[Test email - no unsubscribe needed]"

	email := s.envelope(p.Campaign, to)
	email.Subject = "[TEST] " + RenderTemplate(subjectOf(p.Campaign), sample)
	email.HTML = strings.ReplaceAll(RenderHTMLTemplate(p.HTML, sample), "[unsubscribe]", "<em>"+note+"</em>")
	email.Text = strings.ReplaceAll(RenderTemplate(p.Text, sample), "[unsubscribe]", note)
	return email
}

func (s *RenderService) envelope(c model.Campaign, to string) *model.RenderedEmail {
	from := s.DefaultFrom
	if c.FromEmail != "" {
		from.Email = c.FromEmail
	}
	if c.FromName != "" {
		from.Name = c.FromName
	}
	return &model.RenderedEmail{
		CampaignID: c.ID,
		To:         to,
		From:       from,
		ReplyTo:    c.ReplyTo,
		RenderedAt: s.now(),
	}
}

func (s *RenderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func subjectOf(c model.Campaign) string {
	if strings.TrimSpace(c.Subject) == "" {
		return defaultSubject
	}
	return c.Subject
}
