// Package worker runs the single consumer of the drip queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/token-faucet/internal/adapter"
	"github.com/token-faucet/internal/config"
	apperrors "github.com/token-faucet/internal/errors"
	"github.com/token-faucet/internal/job"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/models"
	"github.com/token-faucet/internal/retry"
	"github.com/token-faucet/internal/storage"
)

// Sender performs one transfer; *adapter.SubmissionEngine implements it
type Sender interface {
	Send(ctx context.Context, address string, progress adapter.ProgressFunc) (*adapter.Transfer, error)
}

// Ledger records the terminal state of a drip; *storage.DistributionRepository implements it
type Ledger interface {
	CheckEligibility(ctx context.Context, address string) (*models.Eligibility, error)
	MarkSuccessByID(ctx context.Context, id, txReference string) (*models.DistributionRequest, error)
	MarkFailedByID(ctx context.Context, id string) (*models.DistributionRequest, error)
}

// DripWorker takes jobs off the queue one at a time and runs them to a terminal outcome
type DripWorker struct {
	queue        *job.DripQueue
	engine       Sender
	ledger       Ledger
	stallTimeout time.Duration
	popTimeout   time.Duration
	ledgerRetry  *retry.Config
	logger       *logging.Logger

	mu          sync.RWMutex
	running     bool
	activeJobID string
	succeeded   int64
	failed      int64
	lastJobAt   *time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
	doneCh      chan struct{}
	cancelClaim context.CancelFunc
}

// DripWorkerConfig holds configuration for a drip worker
type DripWorkerConfig struct {
	Queue  *job.DripQueue
	Engine Sender
	Ledger Ledger

	// StallTimeout is the longest a job may go without reporting progress
	StallTimeout time.Duration
	// PopTimeout bounds each blocking claim so Stop is noticed promptly.
	// Values below config.MinPopTimeout are raised to it.
	PopTimeout  time.Duration
	LedgerRetry *retry.Config
	Logger      *logging.Logger
}

// DripWorkerStatus is a snapshot of the worker
type DripWorkerStatus struct {
	Running     bool       `json:"running"`
	ActiveJobID string     `json:"activeJobId,omitempty"`
	Succeeded   int64      `json:"succeeded"`
	Failed      int64      `json:"failed"`
	LastJobAt   *time.Time `json:"lastJobAt,omitempty"`
}

// NewDripWorker creates a new drip worker
func NewDripWorker(cfg *DripWorkerConfig) (*DripWorker, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("submission engine cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}

	stallTimeout := cfg.StallTimeout
	if stallTimeout <= 0 {
		stallTimeout = 30 * time.Second
	}
	popTimeout := cfg.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 2 * time.Second
	}
	if popTimeout < config.MinPopTimeout {
		popTimeout = config.MinPopTimeout
	}
	ledgerRetry := cfg.LedgerRetry
	if ledgerRetry == nil {
		ledgerRetry = retry.LedgerConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &DripWorker{
		queue:        cfg.Queue,
		engine:       cfg.Engine,
		ledger:       cfg.Ledger,
		stallTimeout: stallTimeout,
		popTimeout:   popTimeout,
		ledgerRetry:  ledgerRetry,
		logger:       logger.WithField("component", "drip_worker"),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start launches the processing loop
func (w *DripWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("drip worker is already running")
	}
	claimCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancelClaim = cancel
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"stallTimeout": w.stallTimeout.String(),
		"popTimeout":   w.popTimeout.String(),
	}).Info("Starting drip worker")

	go w.processLoop(claimCtx, context.WithoutCancel(ctx))

	return nil
}

// Stop signals the loop and waits for the job in progress, if any, to finish
func (w *DripWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("drip worker is not running")
	}
	cancel := w.cancelClaim
	w.mu.Unlock()

	w.logger.Info("Stopping drip worker")
	w.stopOnce.Do(func() {
		close(w.stopCh)
		cancel()
	})

	select {
	case <-w.doneCh:
		w.logger.Info("Drip worker stopped gracefully")
	case <-ctx.Done():
		w.logger.Warn("Drip worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

// Run starts the worker and blocks until ctx is done, then stops it within shutdownTimeout
func (w *DripWorker) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return w.Stop(stopCtx)
}

// processLoop claims jobs with claimCtx and runs them with jobCtx, which outlives Stop
func (w *DripWorker) processLoop(claimCtx, jobCtx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		next, err := w.queue.Claim(claimCtx, w.popTimeout)
		if err != nil {
			if claimCtx.Err() != nil {
				return
			}
			w.logger.WithError(err).Error("Failed to claim drip job")
			select {
			case <-w.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if next == nil {
			continue
		}

		w.Process(jobCtx, next)
	}
}

// Process runs one claimed job to its terminal outcome and records it
func (w *DripWorker) Process(ctx context.Context, j *job.Job) {
	logger := w.logger.WithFields(map[string]interface{}{
		"jobId":     j.JobID,
		"requestId": j.RequestID,
		"address":   j.Address,
	})
	ctx = logging.WithLogger(ctx, logger)

	w.setActive(j.JobID)
	defer w.setActive("")

	logger.WithField("queuedFor", time.Since(j.EnqueuedAt).String()).Info("Processing drip job")

	if err := w.recheckEligibility(ctx, j); err != nil {
		w.finish(ctx, j, job.Outcome{Err: err}, logger)
		return
	}

	out := w.execute(ctx, j, logger)
	w.finish(ctx, j, out, logger)
}

// recheckEligibility refuses a job whose address already received a drip after the
// job was accepted. Jobs run one at a time and the outcome is written before the next
// claim, so a success for the same address queued ahead of j is visible here.
func (w *DripWorker) recheckEligibility(ctx context.Context, j *job.Job) error {
	eligibility, err := retry.Value(ctx, w.ledgerRetry, func(ctx context.Context) (*models.Eligibility, error) {
		return w.ledger.CheckEligibility(ctx, j.Address)
	})
	if err != nil {
		return apperrors.NewInternalError("failed to recheck eligibility", err)
	}
	if !eligibility.Eligible {
		return apperrors.NewRateLimitedError(eligibility.RetryAfter, models.FormatWaitTime(eligibility.RetryAfter))
	}
	return nil
}

// execute runs the engine under the stall watchdog. It returns only once the
// engine call has returned, so at most one submission is ever in flight.
func (w *DripWorker) execute(ctx context.Context, j *job.Job, logger *logging.Logger) job.Outcome {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := make(chan string, 1)
	report := func(stage string) {
		select {
		case progress <- stage:
		default:
		}
	}

	resultCh := make(chan job.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- job.Outcome{Err: apperrors.NewSubmissionError("panic", fmt.Errorf("panic: %v", r))}
			}
		}()
		transfer, err := w.engine.Send(sendCtx, j.Address, report)
		resultCh <- job.Outcome{Transfer: transfer, Err: err}
	}()

	timer := time.NewTimer(w.stallTimeout)
	defer timer.Stop()

	for {
		select {
		case out := <-resultCh:
			return out
		case stage := <-progress:
			logger.WithField("stage", stage).Debug("Drip job progress")
			resetTimer(timer, w.stallTimeout)
		case <-timer.C:
			logger.WithField("stallTimeout", w.stallTimeout.String()).Error("Drip job stalled, cancelling")
			cancel()
			if out := w.drain(resultCh, logger); out.Err == nil && out.Transfer != nil {
				// confirmed while the watchdog fired
				return out
			}
			return job.Outcome{Err: apperrors.NewStalledError(j.JobID, w.stallTimeout)}
		}
	}
}

// drain waits for a cancelled engine call to return. It never gives up on the call,
// so a second submission cannot start while the first may still broadcast.
func (w *DripWorker) drain(resultCh <-chan job.Outcome, logger *logging.Logger) job.Outcome {
	ticker := time.NewTicker(w.stallTimeout)
	defer ticker.Stop()
	for {
		select {
		case out := <-resultCh:
			return out
		case <-ticker.C:
			logger.Warn("Stalled drip job has not returned after cancellation")
		}
	}
}

// finish writes the terminal state to the ledger, then releases the job and its waiter
func (w *DripWorker) finish(ctx context.Context, j *job.Job, out job.Outcome, logger *logging.Logger) {
	status := models.StatusSuccess
	if out.Err != nil || out.Transfer == nil {
		status = models.StatusFailed
		if out.Err == nil {
			out.Err = apperrors.NewSubmissionError("confirm", errors.New("engine returned no transfer"))
		}
	}

	err := retry.Do(ctx, w.ledgerRetry, func(ctx context.Context, _ int) error {
		var err error
		if status == models.StatusSuccess {
			_, err = w.ledger.MarkSuccessByID(ctx, j.RequestID, out.Transfer.Hash)
		} else {
			_, err = w.ledger.MarkFailedByID(ctx, j.RequestID)
		}
		if errors.Is(err, storage.ErrAlreadyTerminal) || errors.Is(err, storage.ErrRequestNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		logger.WithField("status", string(status)).WithError(err).Error("Failed to record drip outcome in ledger")
	}

	if out.Err != nil {
		entry := logger.WithField("kind", string(apperrors.KindOf(out.Err))).WithError(out.Err)
		if apperrors.Classify(out.Err).IsInternalFault() {
			entry.Error("Drip job failed")
		} else {
			entry.Warn("Drip job rejected")
		}
	} else {
		logger.WithFields(map[string]interface{}{
			"txHash": out.Transfer.Hash,
			"nonce":  out.Transfer.Nonce,
		}).Info("Drip job succeeded")
	}

	w.queue.Complete(ctx, j, out)
	w.recordResult(out.Err == nil)
}

// Recover fails out jobs left in flight by a previous process. They are never re-sent
// since a broadcast may already have happened.
func (w *DripWorker) Recover(ctx context.Context) (int, error) {
	orphans, err := w.queue.Orphans(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned jobs: %w", err)
	}

	for _, j := range orphans {
		logger := w.logger.WithFields(map[string]interface{}{
			"jobId":     j.JobID,
			"requestId": j.RequestID,
			"address":   j.Address,
		})
		logger.Warn("Failing out drip job orphaned by a previous run")
		w.finish(ctx, j, job.Outcome{Err: apperrors.NewStalledError(j.JobID, w.stallTimeout)}, logger)
	}

	if len(orphans) > 0 {
		w.logger.WithField("count", len(orphans)).Info("Recovered orphaned drip jobs")
	}
	return len(orphans), nil
}

// PopTimeout returns the effective blocking claim timeout
func (w *DripWorker) PopTimeout() time.Duration {
	return w.popTimeout
}

// GetStatus returns the current worker status
func (w *DripWorker) GetStatus() *DripWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &DripWorkerStatus{
		Running:     w.running,
		ActiveJobID: w.activeJobID,
		Succeeded:   w.succeeded,
		Failed:      w.failed,
		LastJobAt:   w.lastJobAt,
	}
}

func (w *DripWorker) setActive(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeJobID = jobID
}

func (w *DripWorker) recordResult(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.lastJobAt = &now
	if success {
		w.succeeded++
	} else {
		w.failed++
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
