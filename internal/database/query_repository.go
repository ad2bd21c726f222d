package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

const querySelectColumns = `id, name, platform, search_url, schedule, enabled, last_run_at, created_at, updated_at`

// QueryRepository handles database operations for saved search queries.
type QueryRepository struct {
	db *sqlx.DB
}

// NewQueryRepository creates a new query repository.
func NewQueryRepository(db *sqlx.DB) *QueryRepository {
	return &QueryRepository{db: db}
}

// Create inserts a saved search query.
func (r *QueryRepository) Create(ctx context.Context, q *domain.SearchQuery) error {
	query := `
		INSERT INTO search_queries (name, platform, search_url, schedule, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, q.Name, q.Platform, q.SearchURL, q.Schedule, q.Enabled).
		Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create search query: %w", err)
	}

	return nil
}

// GetByID retrieves a saved search query.
func (r *QueryRepository) GetByID(ctx context.Context, id string) (*domain.SearchQuery, error) {
	var q domain.SearchQuery
	query := `SELECT ` + querySelectColumns + ` FROM search_queries WHERE id = $1`

	if err := r.db.GetContext(ctx, &q, query, id); err != nil {
		return nil, fmt.Errorf("failed to get search query %s: %w", id, notFound(err))
	}

	return &q, nil
}

// List returns saved queries, newest first.
func (r *QueryRepository) List(ctx context.Context, limit, offset int) ([]*domain.SearchQuery, error) {
	var queries []*domain.SearchQuery
	query := `SELECT ` + querySelectColumns + ` FROM search_queries ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	if err := r.db.SelectContext(ctx, &queries, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list search queries: %w", err)
	}

	return queries, nil
}

// ListScheduled returns enabled queries that carry a cron schedule.
func (r *QueryRepository) ListScheduled(ctx context.Context) ([]*domain.SearchQuery, error) {
	var queries []*domain.SearchQuery
	query := `
		SELECT ` + querySelectColumns + `
		FROM search_queries
		WHERE enabled AND schedule IS NOT NULL AND schedule <> ''
		ORDER BY name
	`

	if err := r.db.SelectContext(ctx, &queries, query); err != nil {
		return nil, fmt.Errorf("failed to list scheduled search queries: %w", err)
	}

	return queries, nil
}

// TouchLastRun stamps the query's last-run time.
func (r *QueryRepository) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE search_queries SET last_run_at = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if rowsErr := execRequireRows(result, err, ErrNotFound); rowsErr != nil {
		return fmt.Errorf("failed to stamp last run for query %s: %w", id, rowsErr)
	}

	return nil
}
