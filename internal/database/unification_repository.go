package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

// UnificationRepository commits unification results atomically.
type UnificationRepository struct {
	db *sqlx.DB
}

// NewUnificationRepository creates a new unification repository.
func NewUnificationRepository(db *sqlx.DB) *UnificationRepository {
	return &UnificationRepository{db: db}
}

// UnificationCommit is everything written when a group is unified.
type UnificationCommit struct {
	GroupID string
	// Property carries only the allow-listed canonical fields; its ID is resolved in the transaction.
	Property         domain.Property
	ListingIDs       []string
	PrimaryListingID string
	Publishers       []domain.Publisher
	AIResult         domain.RawJSON
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	Property *domain.Property
	Created  bool
}

type lockedGroup struct {
	Status     domain.GroupStatus `db:"status"`
	PropertyID *string            `db:"property_id"`
}

// Commit writes a unification result in one transaction: it re-checks the group lease under a
// row lock, creates or updates the Property, links and completes every member listing, records
// unification discrepancies and completes the group. Nothing is written when any step fails.
func (r *UnificationRepository) Commit(ctx context.Context, c *UnificationCommit) (*CommitResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin unification transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var group lockedGroup
	lock := `SELECT status, property_id FROM listing_groups WHERE id = $1 FOR UPDATE`
	if lockErr := tx.GetContext(ctx, &group, lock, c.GroupID); lockErr != nil {
		return nil, fmt.Errorf("failed to lock listing group %s: %w", c.GroupID, notFound(lockErr))
	}
	if group.Status != domain.GroupStatusProcessingAI {
		return nil, fmt.Errorf("group %s is %s: %w", c.GroupID, group.Status, ErrLeaseLost)
	}

	prop := c.Property
	prop.ListingGroupID = &c.GroupID
	if prop.Status == "" {
		prop.Status = domain.PropertyStatusActive
	}

	created := true
	if group.PropertyID != nil {
		existing, lookupErr := lockPropertyPublishers(ctx, tx, *group.PropertyID)
		switch {
		case lookupErr == nil:
			created = false
			prop.ID = *group.PropertyID
			prop.Publishers = domain.MergePublishers(existing, c.Publishers...)
			if updateErr := updateProperty(ctx, tx, &prop); updateErr != nil {
				return nil, updateErr
			}
		case errors.Is(lookupErr, ErrNotFound):
			// linked property was deleted; fall through to create
		default:
			return nil, lookupErr
		}
	}
	if created {
		prop.Publishers = domain.MergePublishers(nil, c.Publishers...)
		if insertErr := insertProperty(ctx, tx, &prop); insertErr != nil {
			return nil, insertErr
		}
	}

	link := `
		UPDATE listings SET
			property_id = $1,
			listing_group_id = $2,
			dedup_status = 'completed',
			is_primary_in_group = (id::text = $3),
			updated_at = NOW()
		WHERE id = ANY($4)
	`
	if _, linkErr := tx.ExecContext(ctx, link, prop.ID, c.GroupID, c.PrimaryListingID, pq.Array(c.ListingIDs)); linkErr != nil {
		return nil, fmt.Errorf("failed to link listings to property %s: %w", prop.ID, linkErr)
	}

	if conflictErr := replaceUnificationConflicts(ctx, tx, prop.ID, prop.AIUnification.Discrepancies); conflictErr != nil {
		return nil, conflictErr
	}

	complete := `
		UPDATE listing_groups SET
			status = 'completed',
			property_id = $2,
			ai_result = $3,
			failure_reason = NULL,
			processing_started_at = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	if _, completeErr := tx.ExecContext(ctx, complete, c.GroupID, prop.ID, c.AIResult); completeErr != nil {
		return nil, fmt.Errorf("failed to complete listing group %s: %w", c.GroupID, completeErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit unification of group %s: %w", c.GroupID, commitErr)
	}

	return &CommitResult{Property: &prop, Created: created}, nil
}

func lockPropertyPublishers(ctx context.Context, tx *sqlx.Tx, id string) (domain.Publishers, error) {
	var publishers domain.Publishers
	query := `SELECT publishers FROM properties WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, query, id).Scan(&publishers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock property %s: %w", id, err)
	}
	return publishers, nil
}

func insertProperty(ctx context.Context, tx *sqlx.Tx, p *domain.Property) error {
	query := `
		INSERT INTO properties (listing_group_id, title, description, property_type, operations, bedrooms,
			bathrooms, half_bathrooms, parking, built_size_m2, lot_size_m2, location, amenities, images, publishers,
			confidence_score, ai_unification, needs_reanalysis, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, FALSE, $18)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRowContext(
		ctx, query,
		p.ListingGroupID, p.Title, p.Description, p.PropertyType, p.Operations, p.Bedrooms,
		p.Bathrooms, p.HalfBathrooms, p.Parking, p.BuiltSizeM2, p.LotSizeM2, p.Location, p.Amenities, p.Images,
		p.Publishers, p.ConfidenceScore, p.AIUnification, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}

	p.NeedsReanalysis = false
	return nil
}

func updateProperty(ctx context.Context, tx *sqlx.Tx, p *domain.Property) error {
	query := `
		UPDATE properties SET
			listing_group_id = $2,
			title = $3,
			description = $4,
			property_type = $5,
			operations = $6,
			bedrooms = $7,
			bathrooms = $8,
			half_bathrooms = $9,
			parking = $10,
			built_size_m2 = $11,
			lot_size_m2 = $12,
			location = $13,
			amenities = $14,
			images = $15,
			publishers = $16,
			confidence_score = $17,
			ai_unification = $18,
			needs_reanalysis = FALSE,
			updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`

	err := tx.QueryRowContext(
		ctx, query,
		p.ID, p.ListingGroupID, p.Title, p.Description, p.PropertyType, p.Operations, p.Bedrooms,
		p.Bathrooms, p.HalfBathrooms, p.Parking, p.BuiltSizeM2, p.LotSizeM2, p.Location, p.Amenities, p.Images,
		p.Publishers, p.ConfidenceScore, p.AIUnification,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update property %s: %w", p.ID, err)
	}

	p.NeedsReanalysis = false
	return nil
}

func replaceUnificationConflicts(ctx context.Context, tx *sqlx.Tx, propertyID string, discrepancies []domain.Discrepancy) error {
	del := `DELETE FROM property_conflicts WHERE property_id = $1 AND source = 'unification' AND resolution <> 'ignored'`
	if _, err := tx.ExecContext(ctx, del, propertyID); err != nil {
		return fmt.Errorf("failed to clear unification conflicts for property %s: %w", propertyID, err)
	}

	insert := `
		INSERT INTO property_conflicts (property_id, field, canonical_value, source_value, source, resolution)
		VALUES ($1, $2, $3, $4, 'unification', $5)
	`
	for _, d := range discrepancies {
		resolution := domain.ConflictResolved
		if d.ChosenValue == "" {
			resolution = domain.ConflictOpen
		}
		_, err := tx.ExecContext(ctx, insert, propertyID, d.Field, d.ChosenValue, strings.Join(d.Values, " | "), resolution)
		if err != nil {
			return fmt.Errorf("failed to record unification conflict %s for property %s: %w", d.Field, propertyID, err)
		}
	}
	return nil
}
