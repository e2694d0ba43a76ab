package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

func TestSendJobRoundTrip(t *testing.T) {
	job := NewSendJob(7, []model.Recipient{{Email: "x@y.com", FirstName: "Sam"}})
	require.NotEmpty(t, job.JobID)

	payload, err := job.Encode()
	require.NoError(t, err)
	got, err := DecodeSendJob(payload)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, 7, got.CampaignID)
	assert.Equal(t, "Sam", got.Recipients[0].FirstName)
}

func TestInMemoryQueueDelivers(t *testing.T) {
	q := NewInMemoryQueue(nil)
	var got []byte
	require.NoError(t, q.Subscribe(context.Background(), "t", func(_ context.Context, p []byte) error {
		got = p
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), "t", []byte("hello")))
	q.Wait()
	assert.Equal(t, "hello", string(got))
}

func TestInMemoryQueueRetriesThenGivesUp(t *testing.T) {
	q := NewInMemoryQueue(nil)
	q.Backoff = time.Millisecond
	var calls atomic.Int32
	require.NoError(t, q.Subscribe(context.Background(), "t", func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("nope")
	}))

	require.NoError(t, q.Publish(context.Background(), "t", nil))
	q.Wait()
	assert.Equal(t, int32(DefaultMaxRetries+1), calls.Load())
}

func TestInMemoryQueueRecoversOnRetry(t *testing.T) {
	q := NewInMemoryQueue(nil)
	q.Backoff = time.Millisecond
	var calls atomic.Int32
	require.NoError(t, q.Subscribe(context.Background(), "t", func(context.Context, []byte) error {
		if calls.Add(1) < 2 {
			return errors.New("flaky")
		}
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), "t", nil))
	q.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestInMemoryQueueWithoutSubscribers(t *testing.T) {
	q := NewInMemoryQueue(nil)
	assert.Error(t, q.Publish(context.Background(), "nobody", nil))
}

type fakeChannel struct {
	mu         sync.Mutex
	published  []amqp.Publishing
	declared   []string
	deliveries chan amqp.Delivery
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Publish(_, _ string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error { return nil }

type fakeAck struct {
	mu            sync.Mutex
	acked, nacked int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAck) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error { return nil }

func TestAMQPQueuePublishIsPersistent(t *testing.T) {
	ch := &fakeChannel{}
	q := newAMQPQueue(ch, nil)

	require.NoError(t, q.Publish(context.Background(), TopicCampaignSends, []byte(`{}`)))

	require.Len(t, ch.published, 1)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, int32(0), ch.published[0].Headers[retryHeader])
	assert.Equal(t, []string{TopicCampaignSends}, ch.declared)
}

func TestAMQPQueueRepublishesFailedJob(t *testing.T) {
	ch := &fakeChannel{}
	q := newAMQPQueue(ch, nil)
	ack := &fakeAck{}

	q.handle(context.Background(), "t", amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("job"),
		Headers:      amqp.Table{retryHeader: int32(1)},
	}, func(context.Context, []byte) error { return errors.New("boom") })

	assert.Equal(t, 1, ack.acked)
	require.Len(t, ch.published, 1)
	assert.Equal(t, int32(2), ch.published[0].Headers[retryHeader])
	assert.Equal(t, "job", string(ch.published[0].Body))
}

func TestAMQPQueueDropsAfterMaxRetries(t *testing.T) {
	ch := &fakeChannel{}
	q := newAMQPQueue(ch, nil)
	ack := &fakeAck{}

	q.handle(context.Background(), "t", amqp.Delivery{
		Acknowledger: ack,
		Headers:      amqp.Table{retryHeader: int64(DefaultMaxRetries)},
	}, func(context.Context, []byte) error { return errors.New("boom") })

	assert.Equal(t, 1, ack.acked)
	assert.Empty(t, ch.published)
}

func TestAMQPQueueSubscribeConsumes(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 1)}
	q := newAMQPQueue(ch, nil)
	ack := &fakeAck{}
	done := make(chan string, 1)

	require.NoError(t, q.Subscribe(context.Background(), "t", func(_ context.Context, p []byte) error {
		done <- string(p)
		return nil
	}))
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("payload")}

	select {
	case got := <-done:
		assert.Equal(t, "payload", got)
	case <-time.After(time.Second):
		t.Fatal("delivery not handled")
	}
	close(ch.deliveries)
}

func TestAMQPQueueShutdownAcksJobInFlight(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 1)}
	q := newAMQPQueue(ch, nil)
	ack := &fakeAck{}
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var handlerErr error

	require.NoError(t, q.Subscribe(ctx, "t", func(ctx context.Context, _ []byte) error {
		close(started)
		<-ctx.Done()
		handlerErr = ctx.Err()
		return nil
	}))
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("job")}

	<-started
	cancel()
	q.Wait()

	assert.ErrorIs(t, handlerErr, context.Canceled)
	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
	assert.Empty(t, ch.published)
}

func TestInMemoryQueueShutdownReachesHandler(t *testing.T) {
	q := NewInMemoryQueue(nil)
	q.Backoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	require.NoError(t, q.Subscribe(ctx, "t", func(ctx context.Context, _ []byte) error {
		calls.Add(1)
		cancel()
		return ctx.Err()
	}))
	require.NoError(t, q.Publish(context.Background(), "t", nil))

	q.Wait()
	assert.Equal(t, int32(1), calls.Load(), "no retry once the subscription is done")
}
