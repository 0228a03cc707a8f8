package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"gradeflow/internal/model"
)

// GradingQueueWorker consumes grading jobs from RabbitMQ and runs them.
type GradingQueueWorker struct {
	conn      *amqp.Connection
	runner    GradingRunner
	queueName string
	workers   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGradingQueueWorker(conn *amqp.Connection, runner GradingRunner, queueName string, workers int) *GradingQueueWorker {
	if workers <= 0 {
		workers = 1
	}
	return &GradingQueueWorker{
		conn:      conn,
		runner:    runner,
		queueName: queueName,
		workers:   workers,
	}
}

func (w *GradingQueueWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := ch.Qos(w.workers, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker prefetch failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	var consumers sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					// Unacked deliveries go back to the queue when the
					// channel closes.
					if workerCtx.Err() != nil {
						return
					}
					w.handleDelivery(workerCtx, d)
				}
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		consumers.Wait()
		_ = ch.Close()
	}()

	return nil
}

// handleDelivery acks a job once the orchestrator has run it. A job that
// fails on its first delivery is requeued once; after that the session is
// marked failed so it does not wait on a score forever. A job already taken
// runs to the end even when the worker is closing.
func (w *GradingQueueWorker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ctx = context.WithoutCancel(ctx)
	var job model.GradingJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.SessionID == "" {
		log.Printf("worker decode grading job failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.runner.Run(ctx, job); err != nil {
		if !d.Redelivered {
			log.Printf("worker run grading for session %s failed, requeueing: %v", job.SessionID, err)
			_ = d.Nack(false, true)
			return
		}
		log.Printf("worker run grading for session %s failed: %v", job.SessionID, err)
		if failErr := w.runner.Fail(ctx, job.SessionID, err); failErr != nil {
			log.Printf("worker record grading failure for session %s failed: %v", job.SessionID, failErr)
		}
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
}

// Close stops taking deliveries and waits for jobs in progress.
func (w *GradingQueueWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
