// Package job holds the ordered drip queue and the completion handles callers wait on.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/token-faucet/internal/adapter"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/retry"
)

// Job is one queued drip
type Job struct {
	JobID      string    `json:"jobId"`
	RequestID  string    `json:"requestId"` // ledger row id
	Address    string    `json:"address"`
	EnqueuedAt time.Time `json:"enqueuedAt"`

	payload []byte
}

// Outcome is the terminal event of a job
type Outcome struct {
	Transfer *adapter.Transfer
	Err      error
}

// Handle refers to an enqueued job and delivers its terminal event
type Handle struct {
	JobID     string
	RequestID string

	done <-chan Outcome
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

// DripQueue is a durable FIFO of drip jobs with one-shot completion delivery
type DripQueue struct {
	backend  Backend
	ackRetry *retry.Config

	mu      sync.Mutex
	waiters map[string]chan Outcome
	now     func() time.Time
}

// NewDripQueue creates a queue over backend
func NewDripQueue(backend Backend) *DripQueue {
	return &DripQueue{
		backend:  backend,
		ackRetry: retry.LedgerConfig(),
		waiters:  make(map[string]chan Outcome),
		now:      time.Now,
	}
}

// Enqueue appends a job for the ledger row requestID.
// The completion channel is registered before the job becomes visible to the worker.
func (q *DripQueue) Enqueue(ctx context.Context, requestID, address string) (*Handle, error) {
	job := &Job{
		JobID:      uuid.NewString(),
		RequestID:  requestID,
		Address:    address,
		EnqueuedAt: q.now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	done := make(chan Outcome, 1)
	q.mu.Lock()
	q.waiters[job.JobID] = done
	q.mu.Unlock()

	if err := q.backend.Push(ctx, payload); err != nil {
		q.mu.Lock()
		delete(q.waiters, job.JobID)
		q.mu.Unlock()
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"jobId":     job.JobID,
		"requestId": requestID,
		"address":   address,
	}).Debug("Drip job enqueued")

	return &Handle{JobID: job.JobID, RequestID: requestID, done: done}, nil
}

// Await blocks until the job behind h reaches a terminal event or ctx is done.
// A cancelled wait does not affect the job.
func (q *DripQueue) Await(ctx context.Context, h *Handle) (*adapter.Transfer, error) {
	select {
	case out := <-h.done:
		return out.Transfer, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Claim takes the next job, waiting up to wait. It returns nil, nil when the queue stayed empty.
func (q *DripQueue) Claim(ctx context.Context, wait time.Duration) (*Job, error) {
	payload, err := q.backend.Claim(ctx, wait)
	if err != nil || payload == nil {
		return nil, err
	}

	job, err := decodeJob(payload)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Dropping malformed drip job")
		_ = q.backend.Ack(ctx, payload)
		return nil, nil
	}
	return job, nil
}

// Complete acknowledges job and delivers out to its waiter, if any is still registered
func (q *DripQueue) Complete(ctx context.Context, job *Job, out Outcome) {
	err := retry.Do(ctx, q.ackRetry, func(ctx context.Context, _ int) error {
		return q.backend.Ack(ctx, job.payload)
	})
	if err != nil {
		logging.FromContext(ctx).WithField("jobId", job.JobID).WithError(err).
			Error("Failed to acknowledge drip job; it will be failed out on next recovery")
	}

	q.mu.Lock()
	done, ok := q.waiters[job.JobID]
	delete(q.waiters, job.JobID)
	q.mu.Unlock()

	if ok {
		done <- out
	}
}

// Orphans returns jobs that were claimed but never completed, typically by a crashed process
func (q *DripQueue) Orphans(ctx context.Context) ([]*Job, error) {
	payloads, err := q.backend.InFlight(ctx)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(payloads))
	for _, payload := range payloads {
		job, err := decodeJob(payload)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Error("Dropping malformed in-flight drip job")
			_ = q.backend.Ack(ctx, payload)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Stats returns the current pending and processing counts
func (q *DripQueue) Stats(ctx context.Context) (*Stats, error) {
	pending, processing, err := q.backend.Lengths(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Pending: pending, Processing: processing}, nil
}

// Waiting returns the number of registered completion channels
func (q *DripQueue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

func decodeJob(payload []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.JobID == "" || job.RequestID == "" || job.Address == "" {
		return nil, fmt.Errorf("incomplete job payload: %s", payload)
	}
	job.payload = payload
	return &job, nil
}
