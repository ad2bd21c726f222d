package domain

import "time"

// SearchQuery is a saved search URL on one platform. Each execution is a ScrapeRun.
type SearchQuery struct {
	ID        string     `db:"id"          json:"id"`
	Name      string     `db:"name"        json:"name"`
	Platform  string     `db:"platform"    json:"platform"`
	SearchURL string     `db:"search_url"  json:"search_url"`
	Schedule  *string    `db:"schedule"    json:"schedule,omitempty"`
	Enabled   bool       `db:"enabled"     json:"enabled"`
	LastRunAt *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	CreatedAt time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"  json:"updated_at"`
}
