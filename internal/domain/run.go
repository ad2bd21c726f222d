package domain

import (
	"fmt"
	"time"
)

// ScrapeRun is one execution of a SearchQuery.
type ScrapeRun struct {
	ID           string     `db:"id"            json:"id"`
	QueryID      string     `db:"query_id"      json:"query_id"`
	Platform     string     `db:"platform"      json:"platform"`
	SearchURL    string     `db:"search_url"    json:"search_url"`
	Phase        RunPhase   `db:"phase"         json:"phase"`
	Status       RunStatus  `db:"status"        json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time  `db:"started_at"    json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	StoppedAt    *time.Time `db:"stopped_at"    json:"stopped_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`

	RunStats
}

// RunStats are the aggregated progress counters of a run.
type RunStats struct {
	PagesTotal      int `db:"pages_total"      json:"pages_total"`
	PagesDone       int `db:"pages_done"       json:"pages_done"`
	PagesFailed     int `db:"pages_failed"     json:"pages_failed"`
	ListingsFound   int `db:"listings_found"   json:"listings_found"`
	ListingsScraped int `db:"listings_scraped" json:"listings_scraped"`
	ListingsFailed  int `db:"listings_failed"  json:"listings_failed"`
}

// StatsDelta is a partial update to RunStats. Increments add to the stored counter;
// PagesTotal, when set, replaces it.
type StatsDelta struct {
	PagesTotal      *int `json:"pages_total,omitempty"`
	PagesDone       int  `json:"pages_done,omitempty"`
	PagesFailed     int  `json:"pages_failed,omitempty"`
	ListingsFound   int  `json:"listings_found,omitempty"`
	ListingsScraped int  `json:"listings_scraped,omitempty"`
	ListingsFailed  int  `json:"listings_failed,omitempty"`
}

// IsZero reports whether the delta changes nothing.
func (d StatsDelta) IsZero() bool {
	return d.PagesTotal == nil && d == StatsDelta{}
}

// Apply returns stats with the delta merged in.
func (s RunStats) Apply(d StatsDelta) RunStats {
	if d.PagesTotal != nil {
		s.PagesTotal = *d.PagesTotal
	}
	s.PagesDone += d.PagesDone
	s.PagesFailed += d.PagesFailed
	s.ListingsFound += d.ListingsFound
	s.ListingsScraped += d.ListingsScraped
	s.ListingsFailed += d.ListingsFailed
	return s
}

// ValidateConsistency checks that phase, status and timestamps agree.
func (r *ScrapeRun) ValidateConsistency() error {
	switch r.Status {
	case RunStatusDiscovering:
		if r.Phase != RunPhaseDiscover {
			return fmt.Errorf("run %s: status %s requires phase %s, got %s", r.ID, r.Status, RunPhaseDiscover, r.Phase)
		}
	case RunStatusScraping:
		if r.Phase != RunPhaseScrape {
			return fmt.Errorf("run %s: status %s requires phase %s, got %s", r.ID, r.Status, RunPhaseScrape, r.Phase)
		}
	case RunStatusCompleted:
		if r.Phase != RunPhaseScrape {
			return fmt.Errorf("run %s: status %s requires phase %s, got %s", r.ID, r.Status, RunPhaseScrape, r.Phase)
		}
		if r.CompletedAt == nil {
			return fmt.Errorf("run %s: completed without completed_at", r.ID)
		}
	case RunStatusFailed:
		if r.CompletedAt == nil {
			return fmt.Errorf("run %s: failed without completed_at", r.ID)
		}
	case RunStatusStopped:
		if r.StoppedAt == nil {
			return fmt.Errorf("run %s: stopped without stopped_at", r.ID)
		}
	default:
		return fmt.Errorf("run %s: unknown status %q", r.ID, r.Status)
	}
	return nil
}
