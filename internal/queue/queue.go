package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// TopicCampaignSends carries SendJob payloads.
const TopicCampaignSends = "campaign_sends"

// DefaultMaxRetries bounds redelivery of a failing job.
const DefaultMaxRetries = 3

// Handler processes one payload. A non-nil error asks for a retry.
type Handler func(ctx context.Context, payload []byte) error

// Queue hands payloads to subscribers. A subscription lives until its ctx is
// done; handlers receive that ctx so that shutdown reaches the work in flight.
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	// Wait blocks until handlers that are already running return.
	Wait()
}

// SendJob asks a worker to run a campaign send. Recipients is optional;
// without it the worker sends to the campaign's active contacts.
type SendJob struct {
	JobID      string            `json:"job_id"`
	CampaignID int               `json:"campaign_id"`
	Recipients []model.Recipient `json:"recipients,omitempty"`
}

// NewSendJob stamps a fresh job id.
func NewSendJob(campaignID int, recipients []model.Recipient) SendJob {
	return SendJob{JobID: uuid.NewString(), CampaignID: campaignID, Recipients: recipients}
}

func (j SendJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

func DecodeSendJob(payload []byte) (SendJob, error) {
	var j SendJob
	if err := json.Unmarshal(payload, &j); err != nil {
		return SendJob{}, fmt.Errorf("decode send job: %w", err)
	}
	return j, nil
}

type subscription struct {
	ctx     context.Context
	handler Handler
}

// InMemoryQueue delivers to in-process subscribers with retry. Jobs are lost
// on restart.
type InMemoryQueue struct {
	mu   sync.Mutex
	subs map[string][]subscription
	wg   sync.WaitGroup
	log  *slog.Logger

	MaxRetries int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
}

func NewInMemoryQueue(log *slog.Logger) *InMemoryQueue {
	if log == nil {
		log = logger.Discard()
	}
	return &InMemoryQueue{
		subs:       make(map[string][]subscription),
		log:        log,
		MaxRetries: DefaultMaxRetries,
		Backoff:    500 * time.Millisecond,
	}
}

// Publish hands payload to every subscriber of topic. Jobs run under the
// subscriber's ctx; the publisher's ctx only guards the hand-off.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	subs := q.subs[topic]
	q.mu.Unlock()

	if len(subs) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, sub := range subs {
		q.wg.Add(1)
		go q.processJob(sub.ctx, topic, sub.handler, payload)
	}
	return nil
}

func (q *InMemoryQueue) processJob(ctx context.Context, topic string, handler Handler, payload []byte) {
	defer q.wg.Done()
	for attempt := 0; ; attempt++ {
		err := handler(ctx, payload)
		if err == nil {
			return
		}
		if attempt >= q.MaxRetries {
			q.log.Error("job permanently failed", slog.String("topic", topic), logger.RetryCount(attempt), logger.Error(err))
			return
		}
		q.log.Warn("job failed, retrying", slog.String("topic", topic), logger.RetryCount(attempt+1), logger.Error(err))

		t := time.NewTimer(time.Duration(attempt+1) * q.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			q.log.Error("job abandoned on shutdown", slog.String("topic", topic), logger.Error(err))
			return
		case <-t.C:
		}
	}
}

func (q *InMemoryQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs[topic] = append(q.subs[topic], subscription{ctx: ctx, handler: handler})
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
