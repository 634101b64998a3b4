// Package notify delivers outbox notifications: receipts and admin alerts
// through a work queue or email, and document requests through a queue.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessagePublisher puts a message on a named queue
type MessagePublisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Queue is a RabbitMQ connection with one channel
type Queue struct {
	conn *amqp.Connection
	chn  *amqp.Channel
}

// NewQueue dials RabbitMQ and declares the given durable queues
func NewQueue(url string, queues ...string) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{conn: conn, chn: chn}
	for _, name := range queues {
		if err := q.declare(name); err != nil {
			q.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}
	return q, nil
}

func (q *Queue) declare(name string) error {
	_, err := q.chn.QueueDeclare(
		name,  // name of queue
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

// Publish sends a persistent JSON message to a queue through the default exchange
func (q *Queue) Publish(ctx context.Context, queue string, body []byte) error {
	return q.chn.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key (queue name)
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Close closes the channel and the connection
func (q *Queue) Close() error {
	if err := q.chn.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}

// Job is the message consumers of the notification and document queues read.
// Payload is the snapshot of the entity taken at the transition.
type Job struct {
	NotificationID string                  `json:"notification_id"`
	Kind           models.NotificationKind `json:"kind"`
	SubjectID      string                  `json:"subject_id"`
	RecipientID    string                  `json:"recipient_id"`
	Attempt        int                     `json:"attempt"`
	Payload        json.RawMessage         `json:"payload"`
}

func jobFor(n models.Notification) ([]byte, error) {
	return json.Marshal(Job{
		NotificationID: n.ID,
		Kind:           n.Kind,
		SubjectID:      n.SubjectID,
		RecipientID:    n.RecipientID,
		Attempt:        n.Attempts,
		Payload:        n.Payload,
	})
}

// QueueNotifier hands receipts and admin alerts to the notification workers
type QueueNotifier struct {
	publisher MessagePublisher
	queue     string
}

// NewQueueNotifier creates a QueueNotifier publishing to queue
func NewQueueNotifier(publisher MessagePublisher, queue string) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, queue: queue}
}

// Notify implements services.Notifier
func (n *QueueNotifier) Notify(ctx context.Context, note models.Notification) error {
	body, err := jobFor(note)
	if err != nil {
		return err
	}
	return n.publisher.Publish(ctx, n.queue, body)
}

// QueueRenderer asks the document service to render a receipt
type QueueRenderer struct {
	publisher MessagePublisher
	queue     string
}

// NewQueueRenderer creates a QueueRenderer publishing to queue
func NewQueueRenderer(publisher MessagePublisher, queue string) *QueueRenderer {
	return &QueueRenderer{publisher: publisher, queue: queue}
}

// RequestDocument implements services.DocumentRenderer
func (r *QueueRenderer) RequestDocument(ctx context.Context, note models.Notification) error {
	body, err := jobFor(note)
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, r.queue, body)
}
