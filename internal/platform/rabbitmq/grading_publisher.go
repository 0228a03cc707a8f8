package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"gradeflow/internal/model"
)

// GradingPublisher puts grading jobs on the durable queue and waits for the
// broker to confirm each one.
type GradingPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewGradingPublisher(conn *amqp.Connection, queueName string) *GradingPublisher {
	return &GradingPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *GradingPublisher) Publish(ctx context.Context, job model.GradingJob) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms failed: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal grading job failed: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			MessageId:    job.SessionID,
			Timestamp:    job.RequestedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("publish grading job failed: %w", err)
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for publish confirm failed: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked grading job for session %s", job.SessionID)
	}
	return nil
}

func (p *GradingPublisher) Healthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}
