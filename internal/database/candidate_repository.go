package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

const candidateSelectColumns = `id, platform, url, external_id, status, attempts, last_attempt_at, last_error,
	batch_id, created_at, updated_at`

// CandidateRepository handles database operations for discovered listings.
type CandidateRepository struct {
	db *sqlx.DB
}

// NewCandidateRepository creates a new candidate repository.
func NewCandidateRepository(db *sqlx.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

// InsertIfAbsent inserts a candidate unless (platform, url) already exists. It reports whether
// a row was created; re-running a discovery page therefore never duplicates candidates.
func (r *CandidateRepository) InsertIfAbsent(ctx context.Context, c *domain.DiscoveredListing) (bool, error) {
	query := `
		INSERT INTO discovered_listings (platform, url, external_id, status, batch_id)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (platform, url) DO NOTHING
		RETURNING id, status, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, c.Platform, c.URL, c.ExternalID, c.BatchID).
		Scan(&c.ID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert discovered listing: %w", err)
	}

	return true, nil
}

// GetByID retrieves a candidate.
func (r *CandidateRepository) GetByID(ctx context.Context, id string) (*domain.DiscoveredListing, error) {
	var c domain.DiscoveredListing
	query := `SELECT ` + candidateSelectColumns + ` FROM discovered_listings WHERE id = $1`

	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, fmt.Errorf("failed to get discovered listing %s: %w", id, notFound(err))
	}

	return &c, nil
}

// ListPendingByPlatform returns the platform's pending candidates in discovery order.
func (r *CandidateRepository) ListPendingByPlatform(ctx context.Context, platform string) ([]*domain.DiscoveredListing, error) {
	query := `
		SELECT ` + candidateSelectColumns + `
		FROM discovered_listings
		WHERE platform = $1 AND status = 'pending'
		ORDER BY created_at
	`

	var candidates []*domain.DiscoveredListing
	if err := r.db.SelectContext(ctx, &candidates, query, platform); err != nil {
		return nil, fmt.Errorf("failed to list pending candidates for %s: %w", platform, err)
	}

	return candidates, nil
}

// ClaimPending moves the given candidates from pending to queued and returns the ids this
// caller actually claimed. Candidates already claimed elsewhere are left out.
func (r *CandidateRepository) ClaimPending(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		UPDATE discovered_listings SET status = 'queued', updated_at = NOW()
		WHERE id = ANY($1) AND status = 'pending'
		RETURNING id
	`

	var claimed []string
	if err := r.db.SelectContext(ctx, &claimed, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to claim candidates: %w", err)
	}

	return claimed, nil
}

// Requeue moves a scraped or failed candidate back to queued for a re-scrape.
func (r *CandidateRepository) Requeue(ctx context.Context, id string) error {
	query := `
		UPDATE discovered_listings SET status = 'queued', updated_at = NOW()
		WHERE id = $1 AND status IN ('scraped', 'failed')
	`

	res, err := r.db.ExecContext(ctx, query, id)
	if rowsErr := execRequireRows(res, err, ErrStaleStatus); rowsErr != nil {
		return fmt.Errorf("failed to requeue discovered listing %s: %w", id, rowsErr)
	}

	return nil
}

// RecordAttempt stamps an attempt on a queued candidate and sets its resulting status. The
// attempt counter and timestamp move regardless of the outcome.
func (r *CandidateRepository) RecordAttempt(
	ctx context.Context, id string, status domain.CandidateStatus, lastErr error,
) error {
	if status != domain.CandidateStatusQueued {
		if err := domain.ValidateCandidateTransition(domain.CandidateStatusQueued, status); err != nil {
			return err
		}
	}

	var msg *string
	if lastErr != nil {
		msg = nullableString(lastErr.Error())
	}

	query := `
		UPDATE discovered_listings SET
			status = $2, attempts = attempts + 1, last_attempt_at = NOW(), last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`

	res, err := r.db.ExecContext(ctx, query, id, status, msg)
	if rowsErr := execRequireRows(res, err, ErrStaleStatus); rowsErr != nil {
		return fmt.Errorf("failed to record attempt on discovered listing %s: %w", id, rowsErr)
	}

	return nil
}

// ResetQueued returns queued candidates to pending. An empty batch resets every platform.
func (r *CandidateRepository) ResetQueued(ctx context.Context, batchID string) (int64, error) {
	query := `
		UPDATE discovered_listings SET status = 'pending', updated_at = NOW()
		WHERE status = 'queued' AND ($1 = '' OR batch_id::text = $1)
	`

	res, err := r.db.ExecContext(ctx, query, batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset queued candidates: %w", err)
	}
	return res.RowsAffected()
}

// ResetQueuedByIDs returns the given queued candidates to pending.
func (r *CandidateRepository) ResetQueuedByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE discovered_listings SET status = 'pending', updated_at = NOW()
		WHERE status = 'queued' AND id = ANY($1)
	`

	res, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to reset queued candidates: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of candidates per status.
func (r *CandidateRepository) CountByStatus(ctx context.Context) (map[domain.CandidateStatus]int, error) {
	var rows []struct {
		Status domain.CandidateStatus `db:"status"`
		Count  int                    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM discovered_listings GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count discovered listings: %w", err)
	}

	counts := make(map[domain.CandidateStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
