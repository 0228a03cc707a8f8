package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"gradeflow/internal/model"
)

var ErrDispatcherClosed = errors.New("grading dispatcher is closed")

// GradingRunner is the orchestrator as seen by the workers.
type GradingRunner interface {
	Run(ctx context.Context, job model.GradingJob) error
	Fail(ctx context.Context, sessionID string, cause error) error
}

// InProcessDispatcher runs each job on its own goroutine, at most
// maxConcurrent at a time. Jobs over the limit wait for a slot.
type InProcessDispatcher struct {
	runner GradingRunner
	sem    *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewInProcessDispatcher(runner GradingRunner, maxConcurrent int) *InProcessDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &InProcessDispatcher{
		runner: runner,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (d *InProcessDispatcher) Dispatch(_ context.Context, job model.GradingJob) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(job)
	return nil
}

func (d *InProcessDispatcher) run(job model.GradingJob) {
	defer d.wg.Done()

	ctx := context.Background()
	if err := d.sem.Acquire(ctx, 1); err != nil {
		log.Printf("acquire grading slot for session %s failed: %v", job.SessionID, err)
		return
	}
	defer d.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("grading panicked for session %s: %v", job.SessionID, r)
			if err := d.runner.Fail(ctx, job.SessionID, fmt.Errorf("grading panicked: %v", r)); err != nil {
				log.Printf("record grading panic for session %s failed: %v", job.SessionID, err)
			}
		}
	}()

	if err := d.runner.Run(ctx, job); err != nil {
		log.Printf("run grading for session %s failed: %v", job.SessionID, err)
	}
}

// Close stops accepting jobs and waits for the ones already running.
func (d *InProcessDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// JobPublisher puts a job on the grading queue.
type JobPublisher interface {
	Publish(ctx context.Context, job model.GradingJob) error
}

// QueueDispatcher hands jobs to RabbitMQ; a GradingQueueWorker in this or
// another process runs them.
type QueueDispatcher struct {
	publisher JobPublisher
	timeout   time.Duration
}

func NewQueueDispatcher(publisher JobPublisher, timeout time.Duration) *QueueDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &QueueDispatcher{publisher: publisher, timeout: timeout}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job model.GradingJob) error {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.publisher.Publish(pubCtx, job); err != nil {
		return fmt.Errorf("publish grading job failed: %w", err)
	}
	return nil
}
