package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

const propertySelectColumns = `id, listing_group_id, title, description, property_type, operations, bedrooms,
	bathrooms, half_bathrooms, parking, built_size_m2, lot_size_m2, location, amenities, images, publishers,
	confidence_score, ai_unification, needs_reanalysis, status, created_at, updated_at`

const conflictSelectColumns = `id, property_id, listing_id, field, canonical_value, source_value, variance_percent,
	source, resolution, created_at`

// PropertyRepository handles read access to canonical properties. Writes go through the
// unification transaction.
type PropertyRepository struct {
	db *sqlx.DB
}

// NewPropertyRepository creates a new property repository.
func NewPropertyRepository(db *sqlx.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

// GetByID retrieves a property.
func (r *PropertyRepository) GetByID(ctx context.Context, id string) (*domain.Property, error) {
	var p domain.Property
	query := `SELECT ` + propertySelectColumns + ` FROM properties WHERE id = $1`

	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, fmt.Errorf("failed to get property %s: %w", id, notFound(err))
	}

	return &p, nil
}

// ListNeedingReanalysis returns active properties flagged for re-analysis, oldest first. Only
// properties without a group or with a completed group qualify: a group that is queued, leased
// or waiting for review clears the flag when it commits.
func (r *PropertyRepository) ListNeedingReanalysis(ctx context.Context, limit int) ([]*domain.Property, error) {
	query := `
		SELECT ` + prefixColumns("p", propertySelectColumns) + `
		FROM properties p
		LEFT JOIN listing_groups g ON g.id = p.listing_group_id
		WHERE p.needs_reanalysis AND p.status = 'active'
		  AND (g.id IS NULL OR g.status = 'completed')
		ORDER BY p.updated_at
		LIMIT $1
	`

	var props []*domain.Property
	if err := r.db.SelectContext(ctx, &props, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list properties needing re-analysis: %w", err)
	}

	return props, nil
}

// MarkNeedsReanalysis flags a property for the re-analysis sweep.
func (r *PropertyRepository) MarkNeedsReanalysis(ctx context.Context, id string) error {
	query := `UPDATE properties SET needs_reanalysis = TRUE, updated_at = NOW() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if rowsErr := execRequireRows(res, err, ErrNotFound); rowsErr != nil {
		return fmt.Errorf("failed to flag property %s: %w", id, rowsErr)
	}

	return nil
}

// ListConflicts returns a property's open and resolved conflicts.
func (r *PropertyRepository) ListConflicts(ctx context.Context, propertyID string) ([]*domain.PropertyConflict, error) {
	query := `
		SELECT ` + conflictSelectColumns + `
		FROM property_conflicts
		WHERE property_id = $1
		   OR listing_id IN (SELECT id FROM listings WHERE property_id = $1)
		ORDER BY created_at
	`

	var conflicts []*domain.PropertyConflict
	if err := r.db.SelectContext(ctx, &conflicts, query, propertyID); err != nil {
		return nil, fmt.Errorf("failed to list conflicts for property %s: %w", propertyID, err)
	}

	return conflicts, nil
}
