package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/token-faucet/internal/adapter"
	apperrors "github.com/token-faucet/internal/errors"
	"github.com/token-faucet/internal/job"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/models"
	"github.com/token-faucet/internal/types"
)

// RequestState is a step of the per-request drip state machine
type RequestState string

const (
	StateReceived    RequestState = "RECEIVED"
	StateRateChecked RequestState = "RATE_CHECKED"
	StateEnqueued    RequestState = "ENQUEUED"
	StateCompleted   RequestState = "COMPLETED"
	StateRejected    RequestState = "REJECTED"
)

// EligibilityLedger is the part of the ledger the service touches
type EligibilityLedger interface {
	CheckEligibility(ctx context.Context, address string) (*models.Eligibility, error)
	RecordAttempt(ctx context.Context, address string) (*models.DistributionRequest, error)
}

// Queue hands jobs to the worker and waits for their outcome; *job.DripQueue implements it
type Queue interface {
	Enqueue(ctx context.Context, requestID, address string) (*job.Handle, error)
	Await(ctx context.Context, h *job.Handle) (*adapter.Transfer, error)
}

// DripInput is a drip request that passed upstream validation
type DripInput struct {
	Address         string
	CaptchaApproved bool
}

// DripServiceConfig holds the presentation and timing settings of the service
type DripServiceConfig struct {
	TokenAmount  decimal.Decimal
	TokenSymbol  string
	ExplorerURL  string
	AwaitTimeout time.Duration
}

// DripService drives one drip request from eligibility check to outcome
type DripService struct {
	ledger EligibilityLedger
	queue  Queue
	cfg    DripServiceConfig
}

// NewDripService creates a new drip service
func NewDripService(ledger EligibilityLedger, queue Queue, cfg DripServiceConfig) *DripService {
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 5 * time.Minute
	}
	return &DripService{ledger: ledger, queue: queue, cfg: cfg}
}

// Drip sends the configured amount to input.Address if it has not received a drip
// in the last 24 hours. Every error returned is a *apperrors.DripError.
func (s *DripService) Drip(ctx context.Context, input *DripInput) (*types.DripResponse, error) {
	logger := logging.FromContext(ctx).WithField("address", input.Address)
	transition := func(state RequestState) {
		logger.WithField("state", string(state)).Info("Drip request state")
	}
	reject := func(err error) (*types.DripResponse, error) {
		dripErr := apperrors.Classify(err)
		entry := logger.WithFields(map[string]interface{}{
			"state": string(StateRejected),
			"kind":  string(dripErr.Kind),
		}).WithError(err)
		if dripErr.IsInternalFault() {
			entry.Error("Drip request state")
		} else {
			entry.Info("Drip request state")
		}
		return nil, dripErr
	}

	if !input.CaptchaApproved {
		return reject(apperrors.NewCaptchaRejectedError("Captcha verification failed."))
	}
	transition(StateReceived)

	eligibility, err := s.ledger.CheckEligibility(ctx, input.Address)
	if err != nil {
		return reject(apperrors.NewInternalError("failed to check eligibility", err))
	}
	if !eligibility.Eligible {
		return reject(apperrors.NewRateLimitedError(eligibility.RetryAfter, models.FormatWaitTime(eligibility.RetryAfter)))
	}
	transition(StateRateChecked)

	attempt, err := s.ledger.RecordAttempt(ctx, input.Address)
	if err != nil {
		return reject(apperrors.NewInternalError("failed to record attempt", err))
	}
	logger = logger.WithField("requestId", attempt.ID)

	handle, err := s.queue.Enqueue(ctx, attempt.ID, attempt.Address)
	if err != nil {
		return reject(apperrors.NewInternalError("failed to enqueue drip", err))
	}
	logger = logger.WithField("jobId", handle.JobID)
	transition(StateEnqueued)

	awaitCtx, cancel := context.WithTimeout(ctx, s.cfg.AwaitTimeout)
	defer cancel()

	transfer, err := s.queue.Await(awaitCtx, handle)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return reject(apperrors.NewTimeoutError(handle.JobID))
		}
		return reject(err)
	}
	if transfer == nil {
		return reject(apperrors.NewInternalError("job completed without a transfer", nil))
	}

	response := &types.DripResponse{
		Address:     input.Address,
		TxReference: transfer.Hash,
		TokenAmount: s.cfg.TokenAmount.String(),
		TokenSymbol: s.cfg.TokenSymbol,
		ExplorerURL: fmt.Sprintf("%s/%s", s.cfg.ExplorerURL, transfer.Hash),
	}

	logger.WithField("txReference", transfer.Hash).WithField("state", string(StateCompleted)).Info("Drip request state")
	return response, nil
}
