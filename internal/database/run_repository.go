package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

const runSelectColumns = `id, query_id, platform, search_url, phase, status,
	pages_total, pages_done, pages_failed, listings_found, listings_scraped, listings_failed,
	error_message, started_at, completed_at, stopped_at, created_at, updated_at`

// RunRepository handles database operations for scrape runs.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run in its initial status.
func (r *RunRepository) Create(ctx context.Context, run *domain.ScrapeRun) error {
	query := `
		INSERT INTO scrape_runs (id, query_id, platform, search_url, phase, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx, query,
		run.ID, run.QueryID, run.Platform, run.SearchURL, run.Phase, run.Status, run.StartedAt,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scrape run: %w", err)
	}

	return nil
}

// GetByID retrieves a run.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.ScrapeRun, error) {
	var run domain.ScrapeRun
	query := `SELECT ` + runSelectColumns + ` FROM scrape_runs WHERE id = $1`

	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, fmt.Errorf("failed to get scrape run %s: %w", id, notFound(err))
	}

	return &run, nil
}

// ListParams filters run listings.
type ListParams struct {
	QueryID  string
	Statuses []domain.RunStatus
	Limit    int
	Offset   int
}

// List returns runs matching params, newest first.
func (r *RunRepository) List(ctx context.Context, params ListParams) ([]*domain.ScrapeRun, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	statuses := make([]string, 0, len(params.Statuses))
	for _, s := range params.Statuses {
		statuses = append(statuses, string(s))
	}

	query := `
		SELECT ` + runSelectColumns + `
		FROM scrape_runs
		WHERE ($1 = '' OR query_id::text = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	var runs []*domain.ScrapeRun
	if err := r.db.SelectContext(ctx, &runs, query, params.QueryID, pq.Array(statuses), limit, params.Offset); err != nil {
		return nil, fmt.Errorf("failed to list scrape runs: %w", err)
	}

	return runs, nil
}

// TransitionParams describes a compare-and-set status change.
type TransitionParams struct {
	ID           string
	From         domain.RunStatus
	To           domain.RunStatus
	Phase        domain.RunPhase
	ErrorMessage *string
}

// Transition moves a run from one status to another if and only if it is still in From.
// It returns ErrStaleStatus when another caller changed the status first.
func (r *RunRepository) Transition(ctx context.Context, p TransitionParams) (*domain.ScrapeRun, error) {
	if err := domain.ValidateRunTransition(p.From, p.To); err != nil {
		return nil, err
	}

	query := `
		UPDATE scrape_runs SET
			status = $3,
			phase = $4,
			error_message = COALESCE($5, error_message),
			completed_at = CASE WHEN $3 IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
			stopped_at = CASE WHEN $3 = 'stopped' THEN NOW() ELSE stopped_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + runSelectColumns

	var run domain.ScrapeRun
	err := r.db.GetContext(ctx, &run, query, p.ID, p.From, p.To, p.Phase, p.ErrorMessage)
	if err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, fmt.Errorf("run %s %s -> %s: %w", p.ID, p.From, p.To, ErrStaleStatus)
		}
		return nil, fmt.Errorf("failed to transition scrape run %s: %w", p.ID, err)
	}

	return &run, nil
}

// applyStatsQuery merges a stats delta atomically and returns the updated run.
const applyStatsQuery = `
	UPDATE scrape_runs SET
		pages_total = COALESCE($2, pages_total),
		pages_done = pages_done + $3,
		pages_failed = pages_failed + $4,
		listings_found = listings_found + $5,
		listings_scraped = listings_scraped + $6,
		listings_failed = listings_failed + $7,
		updated_at = NOW()
	WHERE id = $1
	RETURNING ` + runSelectColumns

// JobFinish is a running job reaching a terminal status and the stats delta it contributes.
type JobFinish struct {
	RunID  string
	JobID  string
	Failed bool
	Reason string
	Result domain.JobResult
	Delta  domain.StatsDelta
}

// FinishJob completes or fails a running job and applies its stats delta to the run in one
// transaction. It returns ErrStaleStatus, with nothing written, when the job is no longer running.
func (r *RunRepository) FinishJob(ctx context.Context, f JobFinish) (*domain.ScrapeRun, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin job finish transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var res sql.Result
	if f.Failed {
		res, err = tx.ExecContext(ctx, `
			UPDATE scrape_jobs SET status = 'failed', error_message = $2, completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'running'
		`, f.JobID, f.Reason)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE scrape_jobs SET status = 'completed', result = $2, completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'running'
		`, f.JobID, f.Result)
	}
	if rowsErr := execRequireRows(res, err, ErrStaleStatus); rowsErr != nil {
		return nil, fmt.Errorf("failed to finish scrape job %s: %w", f.JobID, rowsErr)
	}

	d := f.Delta
	var run domain.ScrapeRun
	err = tx.GetContext(
		ctx, &run, applyStatsQuery,
		f.RunID, d.PagesTotal, d.PagesDone, d.PagesFailed, d.ListingsFound, d.ListingsScraped, d.ListingsFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to apply stats to scrape run %s: %w", f.RunID, notFound(err))
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job finish %s: %w", f.JobID, err)
	}
	return &run, nil
}

// RecountStats rebuilds a run's progress counters from its jobs. pages_total comes from the
// completed page-1 result; listings_found is only recounted once the run is scraping, since it
// counts new candidates until then.
func (r *RunRepository) RecountStats(ctx context.Context, id string) (*domain.ScrapeRun, error) {
	query := `
		UPDATE scrape_runs r SET
			pages_total = GREATEST(r.pages_total, s.pages_total),
			pages_done = s.pages_done,
			pages_failed = s.pages_failed,
			listings_found = CASE WHEN r.status = 'scraping' THEN s.listing_jobs ELSE r.listings_found END,
			listings_scraped = s.listings_scraped,
			listings_failed = s.listings_failed,
			updated_at = NOW()
		FROM (
			SELECT
				COALESCE(MAX(GREATEST(COALESCE((result->>'total_pages')::int, 1), 1))
					FILTER (WHERE job_type = 'discovery' AND current_page = 1 AND status = 'completed'), 0) AS pages_total,
				COUNT(*) FILTER (WHERE job_type = 'discovery' AND status IN ('completed', 'failed')) AS pages_done,
				COUNT(*) FILTER (WHERE job_type = 'discovery' AND status = 'failed') AS pages_failed,
				COUNT(*) FILTER (WHERE job_type = 'listing') AS listing_jobs,
				COUNT(*) FILTER (WHERE job_type = 'listing' AND status IN ('completed', 'failed')) AS listings_scraped,
				COUNT(*) FILTER (WHERE job_type = 'listing' AND status = 'failed') AS listings_failed
			FROM scrape_jobs
			WHERE run_id = $1
		) s
		WHERE r.id = $1
		RETURNING ` + prefixColumns("r", runSelectColumns)

	var run domain.ScrapeRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, fmt.Errorf("failed to recount stats of scrape run %s: %w", id, notFound(err))
	}

	return &run, nil
}

// ListStalled returns active runs untouched since cutoff that have no pending or running job
// left, so no worker will ever advance them.
func (r *RunRepository) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ScrapeRun, error) {
	query := `
		SELECT ` + prefixColumns("r", runSelectColumns) + `
		FROM scrape_runs r
		WHERE r.status IN ('discovering', 'scraping')
		  AND r.updated_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM scrape_jobs j
			WHERE j.run_id = r.id AND j.status IN ('pending', 'running')
		  )
		ORDER BY r.updated_at
		LIMIT $2
	`

	var runs []*domain.ScrapeRun
	if err := r.db.SelectContext(ctx, &runs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stalled scrape runs: %w", err)
	}

	return runs, nil
}

// SetListingsFound replaces listings_found with the number of scrape jobs scheduled for the run.
func (r *RunRepository) SetListingsFound(ctx context.Context, id string, n int) (*domain.ScrapeRun, error) {
	query := `
		UPDATE scrape_runs SET listings_found = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + runSelectColumns

	var run domain.ScrapeRun
	if err := r.db.GetContext(ctx, &run, query, id, n); err != nil {
		return nil, fmt.Errorf("failed to set listings found for scrape run %s: %w", id, notFound(err))
	}

	return &run, nil
}

// CountByStatus returns the number of runs per status.
func (r *RunRepository) CountByStatus(ctx context.Context) (map[domain.RunStatus]int, error) {
	var rows []struct {
		Status domain.RunStatus `db:"status"`
		Count  int              `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM scrape_runs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count scrape runs: %w", err)
	}

	counts := make(map[domain.RunStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
