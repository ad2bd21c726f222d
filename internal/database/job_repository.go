package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

const jobSelectColumns = `id, run_id, parent_id, job_type, status, platform, target_url, current_page,
	discovered_listing_id, attempts, result, error_message, started_at, completed_at, created_at, updated_at`

// JobRepository handles database operations for scrape jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a job. Discovery jobs are unique per (run, page) and listing jobs per
// (run, discovered listing); inserting a duplicate is a no-op and reports created=false.
func (r *JobRepository) Create(ctx context.Context, job *domain.ScrapeJob) (bool, error) {
	var conflictTarget string
	switch job.JobType {
	case domain.JobTypeDiscovery:
		conflictTarget = `(run_id, current_page) WHERE job_type = 'discovery'`
	case domain.JobTypeListing:
		conflictTarget = `(run_id, discovered_listing_id) WHERE job_type = 'listing'`
	default:
		return false, fmt.Errorf("unknown job type %q", job.JobType)
	}

	query := `
		INSERT INTO scrape_jobs (id, run_id, parent_id, job_type, status, platform, target_url, current_page,
			discovered_listing_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ` + conflictTarget + ` DO NOTHING
		RETURNING created_at, updated_at
	`

	rows, err := r.db.QueryContext(
		ctx, query,
		job.ID, job.RunID, job.ParentID, job.JobType, job.Status, job.Platform, job.TargetURL,
		job.CurrentPage, job.DiscoveredListingID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create scrape job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, rows.Err()
	}
	if scanErr := rows.Scan(&job.CreatedAt, &job.UpdatedAt); scanErr != nil {
		return false, fmt.Errorf("failed to scan created scrape job: %w", scanErr)
	}
	return true, rows.Err()
}

// GetByID retrieves a job.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ScrapeJob, error) {
	var job domain.ScrapeJob
	query := `SELECT ` + jobSelectColumns + ` FROM scrape_jobs WHERE id = $1`

	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("failed to get scrape job %s: %w", id, notFound(err))
	}

	return &job, nil
}

// ListByRun returns a run's jobs, optionally restricted to one type.
func (r *JobRepository) ListByRun(ctx context.Context, runID string, jobType domain.JobType) ([]*domain.ScrapeJob, error) {
	query := `
		SELECT ` + jobSelectColumns + `
		FROM scrape_jobs
		WHERE run_id = $1 AND ($2 = '' OR job_type = $2)
		ORDER BY job_type, current_page, created_at
	`

	var jobs []*domain.ScrapeJob
	if err := r.db.SelectContext(ctx, &jobs, query, runID, jobType); err != nil {
		return nil, fmt.Errorf("failed to list jobs for run %s: %w", runID, err)
	}

	return jobs, nil
}

// Start claims a pending job for execution and counts the attempt.
func (r *JobRepository) Start(ctx context.Context, id string) (*domain.ScrapeJob, error) {
	query := `
		UPDATE scrape_jobs SET
			status = 'running', attempts = attempts + 1, started_at = NOW(), error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + jobSelectColumns

	var job domain.ScrapeJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, fmt.Errorf("start scrape job %s: %w", id, ErrStaleStatus)
		}
		return nil, fmt.Errorf("failed to start scrape job %s: %w", id, err)
	}

	return &job, nil
}

// Requeue returns a running job to pending so it can be retried.
func (r *JobRepository) Requeue(ctx context.Context, id, reason string) error {
	query := `
		UPDATE scrape_jobs SET status = 'pending', error_message = $2, started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	res, err := r.db.ExecContext(ctx, query, id, reason)
	if rowsErr := execRequireRows(res, err, ErrStaleStatus); rowsErr != nil {
		return fmt.Errorf("failed to requeue scrape job %s: %w", id, rowsErr)
	}

	return nil
}

// Retry returns a failed job to pending with a fresh attempt budget.
func (r *JobRepository) Retry(ctx context.Context, id string) error {
	query := `
		UPDATE scrape_jobs SET status = 'pending', attempts = 0, completed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`

	res, err := r.db.ExecContext(ctx, query, id)
	if rowsErr := execRequireRows(res, err, ErrStaleStatus); rowsErr != nil {
		return fmt.Errorf("failed to retry scrape job %s: %w", id, rowsErr)
	}

	return nil
}

// ResetStale returns jobs that have been running since before cutoff to pending.
func (r *JobRepository) ResetStale(ctx context.Context, cutoff time.Time) ([]*domain.ScrapeJob, error) {
	query := `
		UPDATE scrape_jobs SET status = 'pending', started_at = NULL, error_message = 'reset after timeout',
			updated_at = NOW()
		WHERE status = 'running' AND started_at < $1
		RETURNING ` + jobSelectColumns

	var jobs []*domain.ScrapeJob
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to reset stale scrape jobs: %w", err)
	}

	return jobs, nil
}

// ListPending returns pending jobs of a type whose run is still active, oldest first.
func (r *JobRepository) ListPending(ctx context.Context, jobType domain.JobType, limit int) ([]*domain.ScrapeJob, error) {
	query := `
		SELECT ` + prefixColumns("j", jobSelectColumns) + `
		FROM scrape_jobs j
		JOIN scrape_runs r ON r.id = j.run_id
		WHERE j.status = 'pending' AND j.job_type = $1 AND r.status IN ('discovering', 'scraping')
		ORDER BY j.created_at
		LIMIT $2
	`

	var jobs []*domain.ScrapeJob
	if err := r.db.SelectContext(ctx, &jobs, query, jobType, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending %s jobs: %w", jobType, err)
	}

	return jobs, nil
}

// FailPendingForRun fails every pending job of a run and returns how many changed.
func (r *JobRepository) FailPendingForRun(ctx context.Context, runID, reason string) (int64, error) {
	query := `
		UPDATE scrape_jobs SET status = 'failed', error_message = $2, completed_at = NOW(), updated_at = NOW()
		WHERE run_id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, runID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to fail pending jobs for run %s: %w", runID, err)
	}
	return res.RowsAffected()
}

// CountPending returns the number of pending jobs per type across active runs.
func (r *JobRepository) CountPending(ctx context.Context) (map[domain.JobType]int, error) {
	var rows []struct {
		JobType domain.JobType `db:"job_type"`
		Count   int            `db:"count"`
	}
	query := `SELECT job_type, COUNT(*) AS count FROM scrape_jobs WHERE status = 'pending' GROUP BY job_type`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count pending scrape jobs: %w", err)
	}

	counts := make(map[domain.JobType]int, len(rows))
	for _, row := range rows {
		counts[row.JobType] = row.Count
	}
	return counts, nil
}
