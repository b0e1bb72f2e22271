package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/token-faucet/internal/models"
)

// LedgerSchema is the DDL of the drip ledger. The service never applies it;
// startup only checks that the table exists.
const LedgerSchema = `
CREATE TABLE IF NOT EXISTS distribution_requests (
	id           UUID PRIMARY KEY,
	seq          BIGSERIAL NOT NULL,
	address      VARCHAR(42) NOT NULL,
	status       VARCHAR(16) NOT NULL DEFAULT 'PENDING'
	             CHECK (status IN ('PENDING', 'SUCCESS', 'FAILED')),
	tx_reference TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ,
	CONSTRAINT tx_reference_iff_success CHECK ((status = 'SUCCESS') = (tx_reference IS NOT NULL))
);
CREATE INDEX IF NOT EXISTS idx_distribution_requests_address_recent
	ON distribution_requests (address, created_at DESC, seq DESC);
`

const distributionColumns = `id, seq, address, status, tx_reference, created_at, updated_at`

var (
	// ErrSchemaMissing is returned by EnsureSchema when the ledger table does not exist
	ErrSchemaMissing = errors.New("distribution_requests table not found")
	// ErrRequestNotFound is returned when no ledger row has the given id
	ErrRequestNotFound = errors.New("distribution request not found")
	// ErrAlreadyTerminal is returned when a by-id transition targets a SUCCESS or FAILED row
	ErrAlreadyTerminal = errors.New("distribution request already in a terminal state")
)

// DistributionRepository is the drip ledger
type DistributionRepository struct {
	db  *PostgresDB
	now func() time.Time
}

// NewDistributionRepository creates a new ledger repository
func NewDistributionRepository(db *PostgresDB) *DistributionRepository {
	return &DistributionRepository{db: db, now: time.Now}
}

// SetClock replaces the time source; used by tests
func (r *DistributionRepository) SetClock(now func() time.Time) {
	r.now = now
}

// NormalizeAddress is the ledger key form of an address
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// EnsureSchema fails with ErrSchemaMissing if the ledger table is absent
func (r *DistributionRepository) EnsureSchema(ctx context.Context) error {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT to_regclass('distribution_requests') IS NOT NULL`,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if !exists {
		return ErrSchemaMissing
	}
	return nil
}

// RecordAttempt inserts a new PENDING row for address
func (r *DistributionRepository) RecordAttempt(ctx context.Context, address string) (*models.DistributionRequest, error) {
	req := &models.DistributionRequest{
		ID:        uuid.NewString(),
		Address:   NormalizeAddress(address),
		Status:    models.StatusPending,
		CreatedAt: r.now().UTC(),
	}

	query := `
		INSERT INTO distribution_requests (id, address, status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING seq
	`

	if err := r.db.Pool().QueryRow(ctx, query, req.ID, req.Address, req.Status, req.CreatedAt).Scan(&req.Seq); err != nil {
		return nil, fmt.Errorf("failed to record distribution attempt: %w", err)
	}

	return req, nil
}

// CheckEligibility reports whether address may receive a drip now
func (r *DistributionRepository) CheckEligibility(ctx context.Context, address string) (*models.Eligibility, error) {
	now := r.now().UTC()

	query := `
		SELECT created_at
		FROM distribution_requests
		WHERE address = $1 AND status = 'SUCCESS' AND created_at >= $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`

	var lastSuccess time.Time
	err := r.db.Pool().QueryRow(ctx, query, NormalizeAddress(address), now.Add(-models.DripWindow)).Scan(&lastSuccess)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			eligibility := models.ComputeEligibility(nil, now)
			return &eligibility, nil
		}
		return nil, fmt.Errorf("failed to check eligibility: %w", err)
	}

	eligibility := models.ComputeEligibility(&lastSuccess, now)
	return &eligibility, nil
}

// FindLatest returns the most recent row for address, or nil if there is none
func (r *DistributionRepository) FindLatest(ctx context.Context, address string) (*models.DistributionRequest, error) {
	query := `
		SELECT ` + distributionColumns + `
		FROM distribution_requests
		WHERE address = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`

	req, err := scanDistribution(r.db.Pool().QueryRow(ctx, query, NormalizeAddress(address)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find latest distribution: %w", err)
	}
	return req, nil
}

// GetByID retrieves a ledger row by id
func (r *DistributionRepository) GetByID(ctx context.Context, id string) (*models.DistributionRequest, error) {
	query := `SELECT ` + distributionColumns + ` FROM distribution_requests WHERE id = $1`

	req, err := scanDistribution(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return nil, fmt.Errorf("failed to get distribution: %w", err)
	}
	return req, nil
}

// MarkSuccess moves the most recent row for address to SUCCESS, whatever its
// current status. Returns nil when address has no rows.
func (r *DistributionRepository) MarkSuccess(ctx context.Context, address, txReference string) (*models.DistributionRequest, error) {
	return r.transitionLatest(ctx, address, models.StatusSuccess, &txReference)
}

// MarkFailed moves the most recent row for address to FAILED and clears its tx reference.
// Returns nil when address has no rows.
func (r *DistributionRepository) MarkFailed(ctx context.Context, address string) (*models.DistributionRequest, error) {
	return r.transitionLatest(ctx, address, models.StatusFailed, nil)
}

func (r *DistributionRepository) transitionLatest(ctx context.Context, address string, status models.DistributionStatus, txReference *string) (*models.DistributionRequest, error) {
	query := `
		UPDATE distribution_requests
		SET status = $2, tx_reference = $3, updated_at = $4
		WHERE id = (
			SELECT id FROM distribution_requests
			WHERE address = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		)
		RETURNING ` + distributionColumns

	req, err := scanDistribution(r.db.Pool().QueryRow(ctx, query, NormalizeAddress(address), status, txReference, r.now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to mark distribution %s: %w", status, err)
	}
	return req, nil
}

// MarkSuccessByID moves the PENDING row id to SUCCESS
func (r *DistributionRepository) MarkSuccessByID(ctx context.Context, id, txReference string) (*models.DistributionRequest, error) {
	return r.transitionByID(ctx, id, models.StatusSuccess, &txReference)
}

// MarkFailedByID moves the PENDING row id to FAILED
func (r *DistributionRepository) MarkFailedByID(ctx context.Context, id string) (*models.DistributionRequest, error) {
	return r.transitionByID(ctx, id, models.StatusFailed, nil)
}

// transitionByID only touches PENDING rows, so terminal states are never left
func (r *DistributionRepository) transitionByID(ctx context.Context, id string, status models.DistributionStatus, txReference *string) (*models.DistributionRequest, error) {
	query := `
		UPDATE distribution_requests
		SET status = $2, tx_reference = $3, updated_at = $4
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + distributionColumns

	req, err := scanDistribution(r.db.Pool().QueryRow(ctx, query, id, status, txReference, r.now().UTC()))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to mark distribution %s: %w", status, err)
	}

	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return existing, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, existing.Status)
}

// DeleteAll removes every ledger row. Administrative reset only.
func (r *DistributionRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM distribution_requests`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset ledger: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanDistribution(row pgx.Row) (*models.DistributionRequest, error) {
	var req models.DistributionRequest
	var status string

	err := row.Scan(
		&req.ID,
		&req.Seq,
		&req.Address,
		&status,
		&req.TxReference,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = models.DistributionStatus(status)
	return &req, nil
}
