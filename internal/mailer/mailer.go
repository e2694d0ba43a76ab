// Package mailer hands rendered emails to a transactional provider.
//
// Sends are not retried: a provider may have accepted a message even when
// the response was lost, and a second attempt would deliver it twice.
package mailer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

var (
	ErrSendFailed    = errors.New("failed to send email")
	ErrInvalidConfig = errors.New("invalid mail configuration")
)

// Sender delivers one rendered email. A nil error means the provider
// accepted it.
type Sender interface {
	Send(ctx context.Context, email *model.RenderedEmail) error
}

type instrumented struct {
	next     Sender
	provider string
	metrics  *metrics.Metrics
}

// Instrument records provider latency and outcome around next.
func Instrument(next Sender, provider string, m *metrics.Metrics) Sender {
	if m == nil {
		return next
	}
	return &instrumented{next: next, provider: provider, metrics: m}
}

func (s *instrumented) Send(ctx context.Context, email *model.RenderedEmail) error {
	start := time.Now()
	err := s.next.Send(ctx, email)
	s.metrics.ObserveProvider(s.provider, err, time.Since(start))
	return err
}

// MemorySender records deliveries in memory. Addresses listed in FailFor
// get the mapped error instead.
type MemorySender struct {
	mu      sync.Mutex
	sent    []model.RenderedEmail
	FailFor map[string]error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{FailFor: map[string]error{}}
}

func (m *MemorySender) Send(_ context.Context, email *model.RenderedEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailFor[strings.ToLower(email.To)]; ok {
		return err
	}
	m.sent = append(m.sent, *email)
	return nil
}

// Sent returns a copy of the accepted emails in send order.
func (m *MemorySender) Sent() []model.RenderedEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RenderedEmail, len(m.sent))
	copy(out, m.sent)
	return out
}
