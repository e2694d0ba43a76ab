package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/unclebandit/campaign-mailer/internal/logger"
)

const retryHeader = "x-retry-count"

// channel is the subset of *amqp.Channel the queue uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPQueue publishes to and consumes from durable RabbitMQ queues named
// after the topic. Failed deliveries are republished with an incremented
// x-retry-count header and dropped after MaxRetries.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   channel
	mu   sync.Mutex
	wg   sync.WaitGroup
	log  *slog.Logger

	MaxRetries int
}

func DialAMQP(url string, log *slog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	q := newAMQPQueue(ch, log)
	q.conn = conn
	return q, nil
}

func newAMQPQueue(ch channel, log *slog.Logger) *AMQPQueue {
	if log == nil {
		log = logger.Discard()
	}
	return &AMQPQueue{ch: ch, log: log, MaxRetries: DefaultMaxRetries}
}

func (q *AMQPQueue) declare(topic string) error {
	_, err := q.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.publish(topic, payload, 0)
}

func (q *AMQPQueue) publish(topic string, payload []byte, retries int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.declare(topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: retries},
		Body:         payload,
	})
}

// Subscribe starts consuming topic with manual acks. Deliveries are handled
// one at a time in a background goroutine under ctx. Once ctx is done the
// delivery in hand is finished and acked, and consumption stops; prefetched
// deliveries go back to the broker when the channel closes.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	if err := q.declare(topic); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	msgs, err := q.ch.Consume(topic, "", false, false, false, false, nil)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.log.Info("consumer stopped", slog.String("topic", topic))
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					_ = d.Nack(false, true)
					return
				}
				q.handle(ctx, topic, d, handler)
			}
		}
	}()
	return nil
}

// Wait blocks until every consumer has stopped. Call it after the
// subscription ctx is done and before Close.
func (q *AMQPQueue) Wait() {
	q.wg.Wait()
}

func (q *AMQPQueue) handle(ctx context.Context, topic string, d amqp.Delivery, handler Handler) {
	err := handler(ctx, d.Body)
	if err != nil {
		retries := retryCount(d.Headers)
		if retries < int32(q.MaxRetries) {
			q.log.Warn("job failed, republishing", slog.String("topic", topic), logger.RetryCount(int(retries+1)), logger.Error(err))
			if perr := q.publish(topic, d.Body, retries+1); perr != nil {
				q.log.Error("republish failed, requeueing", logger.Error(perr))
				_ = d.Nack(false, true)
				return
			}
		} else {
			q.log.Error("job permanently failed", slog.String("topic", topic), logger.RetryCount(int(retries)), logger.Error(err))
		}
	}
	if err := d.Ack(false); err != nil {
		q.log.Error("ack failed", logger.Error(err))
	}
}

func retryCount(h amqp.Table) int32 {
	switch v := h[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	case int16:
		return int32(v)
	case int8:
		return int32(v)
	default:
		return 0
	}
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.Close()
	if q.conn != nil {
		if cerr := q.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
