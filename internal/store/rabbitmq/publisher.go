// Package rabbitmq carries finished chat turns to the archive worker.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/gopherchat/internal/chat"
)

// HeaderAttempt counts deliveries of one event, starting at 1.
const HeaderAttempt = "x-attempt"

func RetryQueue(queue string) string { return queue + ".retry" }

func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// DeclareTopology declares the main queue and its retry and dead-letter
// queues. Publisher and worker both call it so either may start first.
//
// A message rejected from the main queue lands in the DLQ. A message parked
// in the retry queue goes back to the main queue once its expiration passes.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(
		DeadLetterQueue(queue),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return fmt.Errorf("rabbitmq: declare dlq: %w", err)
	}

	if _, err := ch.QueueDeclare(
		RetryQueue(queue),
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		},
	); err != nil {
		return fmt.Errorf("rabbitmq: declare retry queue: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DeadLetterQueue(queue),
		},
	); err != nil {
		return fmt.Errorf("rabbitmq: declare queue: %w", err)
	}
	return nil
}

// Publisher sends TurnEvents to the archive queue.
type Publisher struct {
	mu    sync.Mutex // amqp channels are not safe for concurrent publishing
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

var _ chat.TurnPublisher = (*Publisher)(nil)

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel: %w", err)
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishTurn(ctx context.Context, ev chat.TurnEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		TurnPublishing(body, 1),
	)
}

// TurnPublishing wraps an encoded TurnEvent for delivery number attempt.
func TurnPublishing(body []byte, attempt int) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{HeaderAttempt: int32(attempt)},
	}
}

// Attempt reads the delivery count of d. Messages without the header count
// as the first delivery.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[HeaderAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

// Requeue parks a copy of d in the retry queue for delay, counting one more
// attempt. The caller still has to ack d.
func Requeue(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery, delay time.Duration) error {
	msg := TurnPublishing(d.Body, Attempt(d)+1)
	msg.Expiration = fmt.Sprintf("%d", delay.Milliseconds())
	return ch.PublishWithContext(ctx, "", RetryQueue(queue), false, false, msg)
}
