package domain

import (
	"database/sql/driver"
	"time"
)

// ScrapeJob is one unit of work: a discovery page fetch or a single listing fetch.
type ScrapeJob struct {
	ID                  string     `db:"id"                    json:"id"`
	RunID               string     `db:"run_id"                json:"run_id"`
	ParentID            *string    `db:"parent_id"             json:"parent_id,omitempty"`
	JobType             JobType    `db:"job_type"              json:"job_type"`
	Status              JobStatus  `db:"status"                json:"status"`
	Platform            string     `db:"platform"              json:"platform"`
	TargetURL           string     `db:"target_url"            json:"target_url"`
	CurrentPage         int        `db:"current_page"          json:"current_page"`
	DiscoveredListingID *string    `db:"discovered_listing_id" json:"discovered_listing_id,omitempty"`
	Attempts            int        `db:"attempts"              json:"attempts"`
	Result              JobResult  `db:"result"                json:"result"`
	ErrorMessage        *string    `db:"error_message"         json:"error_message,omitempty"`
	StartedAt           *time.Time `db:"started_at"            json:"started_at,omitempty"`
	CompletedAt         *time.Time `db:"completed_at"          json:"completed_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at"            json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"            json:"updated_at"`
}

// JobResult is the payload a worker records on its job.
type JobResult struct {
	TotalResults  int     `json:"total_results,omitempty"`
	TotalPages    int     `json:"total_pages,omitempty"`
	ListingsFound int     `json:"listings_found,omitempty"`
	ListingsNew   int     `json:"listings_new,omitempty"`
	ChildJobs     int     `json:"child_jobs,omitempty"`
	ListingID     string  `json:"listing_id,omitempty"`
	Created       bool    `json:"created,omitempty"`
	Completeness  float64 `json:"completeness,omitempty"`
}

func (r *JobResult) Scan(value any) error { return scanJSON(value, r) }

func (r JobResult) Value() (driver.Value, error) { return valueJSON(r) }
