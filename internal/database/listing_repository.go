package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

const listingSelectColumns = `id, platform, external_id, original_url, discovered_listing_id, title, description,
	property_type, operations, bedrooms, bathrooms, half_bathrooms, parking, built_size_m2, lot_size_m2, location,
	amenities, publisher, images, external_codes, data_quality, dedup_status, property_id, listing_group_id,
	is_primary_in_group, scraped_at, created_at, updated_at`

// ListingRepository handles database operations for scraped listings.
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository creates a new listing repository.
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// SaveResult reports what Save did.
type SaveResult struct {
	ID      string
	Created bool
	// PropertyID is set when the listing was already linked to a Property, which is then
	// flagged for re-analysis.
	PropertyID *string
}

// Save inserts a listing or, when (platform, external_id) already exists, refreshes its
// extracted attributes. Dedup ownership fields are left untouched on refresh. The listing's
// extraction conflicts are replaced in the same transaction.
func (r *ListingRepository) Save(ctx context.Context, l *domain.Listing) (*SaveResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin listing transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `
		INSERT INTO listings (platform, external_id, original_url, discovered_listing_id, title, description,
			property_type, operations, bedrooms, bathrooms, half_bathrooms, parking, built_size_m2, lot_size_m2,
			location, amenities, publisher, images, external_codes, data_quality, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (platform, external_id) DO UPDATE SET
			original_url = EXCLUDED.original_url,
			discovered_listing_id = COALESCE(EXCLUDED.discovered_listing_id, listings.discovered_listing_id),
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			property_type = EXCLUDED.property_type,
			operations = EXCLUDED.operations,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			half_bathrooms = EXCLUDED.half_bathrooms,
			parking = EXCLUDED.parking,
			built_size_m2 = EXCLUDED.built_size_m2,
			lot_size_m2 = EXCLUDED.lot_size_m2,
			location = EXCLUDED.location,
			amenities = EXCLUDED.amenities,
			publisher = EXCLUDED.publisher,
			images = EXCLUDED.images,
			external_codes = EXCLUDED.external_codes,
			data_quality = EXCLUDED.data_quality,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted, property_id, created_at, updated_at
	`

	rec := l.ListingRecord
	res := &SaveResult{}
	err = tx.QueryRowContext(
		ctx, query,
		rec.Platform, rec.ExternalID, rec.OriginalURL, l.DiscoveredListingID, rec.Title, rec.Description,
		rec.PropertyType, rec.Operations, rec.Bedrooms, rec.Bathrooms, rec.HalfBathrooms, rec.Parking,
		rec.BuiltSizeM2, rec.LotSizeM2, rec.Location, rec.Amenities, rec.Publisher, rec.Images,
		rec.ExternalCodes, l.DataQuality, l.ScrapedAt,
	).Scan(&res.ID, &res.Created, &res.PropertyID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert listing %s/%s: %w", rec.Platform, rec.ExternalID, err)
	}
	l.ID = res.ID

	if !res.Created && res.PropertyID != nil {
		flag := `UPDATE properties SET needs_reanalysis = TRUE, updated_at = NOW() WHERE id = $1`
		if _, flagErr := tx.ExecContext(ctx, flag, *res.PropertyID); flagErr != nil {
			return nil, fmt.Errorf("failed to flag property %s for re-analysis: %w", *res.PropertyID, flagErr)
		}
	}

	if conflictErr := replaceExtractionConflicts(ctx, tx, res.ID, l.DataQuality.Conflicts); conflictErr != nil {
		return nil, conflictErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit listing %s: %w", res.ID, commitErr)
	}

	return res, nil
}

func replaceExtractionConflicts(ctx context.Context, tx *sqlx.Tx, listingID string, conflicts []domain.FieldConflict) error {
	del := `DELETE FROM property_conflicts WHERE listing_id = $1 AND source = 'extraction' AND resolution = 'open'`
	if _, err := tx.ExecContext(ctx, del, listingID); err != nil {
		return fmt.Errorf("failed to clear extraction conflicts for listing %s: %w", listingID, err)
	}

	insert := `
		INSERT INTO property_conflicts (listing_id, field, canonical_value, source_value, variance_percent, source)
		VALUES ($1, $2, $3, $4, $5, 'extraction')
	`
	for _, c := range conflicts {
		_, err := tx.ExecContext(
			ctx, insert,
			listingID, c.Field, formatFloat(c.StructuredValue), formatFloat(c.DescriptionValue), c.VariancePercent,
		)
		if err != nil {
			return fmt.Errorf("failed to record extraction conflict %s for listing %s: %w", c.Field, listingID, err)
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// GetByID retrieves a listing.
func (r *ListingRepository) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	var l domain.Listing
	query := `SELECT ` + listingSelectColumns + ` FROM listings WHERE id = $1`

	if err := r.db.GetContext(ctx, &l, query, id); err != nil {
		return nil, fmt.Errorf("failed to get listing %s: %w", id, notFound(err))
	}

	return &l, nil
}

// ListByGroup returns a group's member listings, primary first.
func (r *ListingRepository) ListByGroup(ctx context.Context, groupID string) ([]*domain.Listing, error) {
	query := `
		SELECT ` + listingSelectColumns + `
		FROM listings
		WHERE listing_group_id = $1
		ORDER BY is_primary_in_group DESC, scraped_at DESC
	`

	var listings []*domain.Listing
	if err := r.db.SelectContext(ctx, &listings, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to list listings for group %s: %w", groupID, err)
	}

	return listings, nil
}

// ListByProperty returns the listings linked to a property.
func (r *ListingRepository) ListByProperty(ctx context.Context, propertyID string) ([]*domain.Listing, error) {
	query := `
		SELECT ` + listingSelectColumns + `
		FROM listings
		WHERE property_id = $1
		ORDER BY is_primary_in_group DESC, scraped_at DESC
	`

	var listings []*domain.Listing
	if err := r.db.SelectContext(ctx, &listings, query, propertyID); err != nil {
		return nil, fmt.Errorf("failed to list listings for property %s: %w", propertyID, err)
	}

	return listings, nil
}
