// Package models holds the persisted entities of the faucet.
package models

import (
	"time"
)

// DripWindow is the rolling window in which an address may receive one successful drip
const DripWindow = 24 * time.Hour

// DistributionStatus is the lifecycle state of a distribution request
type DistributionStatus string

const (
	// StatusPending is set when the request is accepted, before the worker runs it
	StatusPending DistributionStatus = "PENDING"
	// StatusSuccess is set once the transfer is confirmed on chain
	StatusSuccess DistributionStatus = "SUCCESS"
	// StatusFailed is set when the job ends without a confirmed transfer
	StatusFailed DistributionStatus = "FAILED"
)

// IsTerminal reports whether no further transitions may follow
func (s DistributionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// DistributionRequest is one row of the drip ledger
type DistributionRequest struct {
	ID          string             `json:"id" db:"id"`
	Seq         int64              `json:"-" db:"seq"` // insertion order, breaks created_at ties
	Address     string             `json:"address" db:"address"`
	Status      DistributionStatus `json:"status" db:"status"`
	TxReference *string            `json:"txReference,omitempty" db:"tx_reference"` // set only on SUCCESS
	CreatedAt   time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt   *time.Time         `json:"updatedAt,omitempty" db:"updated_at"`
}

// Eligibility is the answer to "may this address drip now?"
type Eligibility struct {
	Eligible   bool          `json:"eligible"`
	RetryAfter time.Duration `json:"retryAfter"`
}

// ComputeEligibility derives eligibility from the creation time of the latest
// successful drip (nil when there is none inside the window).
// RetryAfter is rounded up to whole seconds and never negative.
func ComputeEligibility(lastSuccess *time.Time, now time.Time) Eligibility {
	if lastSuccess == nil {
		return Eligibility{Eligible: true}
	}

	wait := lastSuccess.Add(DripWindow).Sub(now)
	if wait <= 0 {
		return Eligibility{Eligible: true}
	}

	seconds := (wait + time.Second - 1) / time.Second
	return Eligibility{
		Eligible:   false,
		RetryAfter: seconds * time.Second,
	}
}
