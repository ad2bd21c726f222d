package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

const groupSelectColumns = `id, status, match_score, property_id, ai_attempts, failure_reason, ai_result,
	processing_started_at, created_at, updated_at`

// GroupRepository handles database operations for listing groups. Groups are produced by the
// deduplication component; this repository only moves them through unification.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository creates a new group repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// GetByID retrieves a listing group.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*domain.ListingGroup, error) {
	var g domain.ListingGroup
	query := `SELECT ` + groupSelectColumns + ` FROM listing_groups WHERE id = $1`

	if err := r.db.GetContext(ctx, &g, query, id); err != nil {
		return nil, fmt.Errorf("failed to get listing group %s: %w", id, notFound(err))
	}

	return &g, nil
}

// AcquireLease moves a group into processing_ai. Pending groups are always eligible; completed
// groups only when reanalysis is set. Any other status yields ErrLeaseNotAcquired.
func (r *GroupRepository) AcquireLease(ctx context.Context, id string, reanalysis bool) (*domain.ListingGroup, error) {
	allowed := []string{string(domain.GroupStatusPendingAI)}
	if reanalysis {
		allowed = append(allowed, string(domain.GroupStatusCompleted))
	}

	query := `
		UPDATE listing_groups SET status = 'processing_ai', processing_started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + groupSelectColumns

	var g domain.ListingGroup
	if err := r.db.GetContext(ctx, &g, query, id, pq.Array(allowed)); err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, fmt.Errorf("group %s: %w", id, ErrLeaseNotAcquired)
		}
		return nil, fmt.Errorf("failed to acquire lease on listing group %s: %w", id, err)
	}

	return &g, nil
}

// ReleaseParams describes how a failed unification gives up its lease.
type ReleaseParams struct {
	ID           string
	To           domain.GroupStatus
	Reason       string
	CountAttempt bool
}

// Release moves a group out of processing_ai after a failed unification. It only matches a
// group that still holds the lease.
func (r *GroupRepository) Release(ctx context.Context, p ReleaseParams) error {
	if err := domain.ValidateGroupTransition(domain.GroupStatusProcessingAI, p.To); err != nil {
		return err
	}

	increment := 0
	if p.CountAttempt {
		increment = 1
	}

	query := `
		UPDATE listing_groups SET
			status = $2,
			failure_reason = $3,
			ai_attempts = ai_attempts + $4,
			processing_started_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing_ai'
	`

	res, err := r.db.ExecContext(ctx, query, p.ID, p.To, nullableString(p.Reason), increment)
	if rowsErr := execRequireRows(res, err, ErrLeaseLost); rowsErr != nil {
		return fmt.Errorf("failed to release listing group %s: %w", p.ID, rowsErr)
	}

	return nil
}

// ListPendingAI returns groups waiting for unification, oldest first.
func (r *GroupRepository) ListPendingAI(ctx context.Context, limit int) ([]*domain.ListingGroup, error) {
	query := `
		SELECT ` + groupSelectColumns + `
		FROM listing_groups
		WHERE status = 'pending_ai'
		ORDER BY updated_at
		LIMIT $1
	`

	var groups []*domain.ListingGroup
	if err := r.db.SelectContext(ctx, &groups, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending listing groups: %w", err)
	}

	return groups, nil
}

// ResetStaleLeases returns groups stuck in processing_ai since before cutoff to pending_ai.
func (r *GroupRepository) ResetStaleLeases(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		UPDATE listing_groups SET status = 'pending_ai', processing_started_at = NULL,
			failure_reason = 'lease expired', updated_at = NOW()
		WHERE status = 'processing_ai' AND processing_started_at < $1
		RETURNING id
	`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to reset stale listing group leases: %w", err)
	}

	return ids, nil
}

// ResetProcessing releases every processing_ai lease back to pending_ai.
func (r *GroupRepository) ResetProcessing(ctx context.Context) (int64, error) {
	query := `
		UPDATE listing_groups SET status = 'pending_ai', processing_started_at = NULL,
			failure_reason = 'cancelled by operator', updated_at = NOW()
		WHERE status = 'processing_ai'
	`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing listing groups: %w", err)
	}
	return res.RowsAffected()
}

// CreateForProperty builds a completed single-property group around a property's listings so
// that re-analysis can lease it like any other group.
func (r *GroupRepository) CreateForProperty(
	ctx context.Context, propertyID string, listingIDs []string,
) (*domain.ListingGroup, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin group transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	insert := `
		INSERT INTO listing_groups (status, match_score, property_id)
		VALUES ('completed', 100, $1)
		RETURNING ` + groupSelectColumns

	var g domain.ListingGroup
	if insertErr := tx.GetContext(ctx, &g, insert, propertyID); insertErr != nil {
		return nil, fmt.Errorf("failed to create group for property %s: %w", propertyID, insertErr)
	}

	link := `UPDATE listings SET listing_group_id = $1, updated_at = NOW() WHERE id = ANY($2)`
	if _, linkErr := tx.ExecContext(ctx, link, g.ID, pq.Array(listingIDs)); linkErr != nil {
		return nil, fmt.Errorf("failed to link listings to group %s: %w", g.ID, linkErr)
	}

	prop := `UPDATE properties SET listing_group_id = $2, updated_at = NOW() WHERE id = $1`
	if _, propErr := tx.ExecContext(ctx, prop, propertyID, g.ID); propErr != nil {
		return nil, fmt.Errorf("failed to link property %s to group %s: %w", propertyID, g.ID, propErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit group for property %s: %w", propertyID, commitErr)
	}

	return &g, nil
}

// CountByStatus returns the number of groups per status.
func (r *GroupRepository) CountByStatus(ctx context.Context) (map[domain.GroupStatus]int, error) {
	var rows []struct {
		Status domain.GroupStatus `db:"status"`
		Count  int                `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM listing_groups GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count listing groups: %w", err)
	}

	counts := make(map[domain.GroupStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
