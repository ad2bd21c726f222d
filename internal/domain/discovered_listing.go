package domain

import "time"

// DiscoveredListing is a candidate listing URL found during discovery. (platform, url) is unique.
type DiscoveredListing struct {
	ID            string          `db:"id"              json:"id"`
	Platform      string          `db:"platform"        json:"platform"`
	URL           string          `db:"url"             json:"url"`
	ExternalID    *string         `db:"external_id"     json:"external_id,omitempty"`
	Status        CandidateStatus `db:"status"          json:"status"`
	Attempts      int             `db:"attempts"        json:"attempts"`
	LastAttemptAt *time.Time      `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError     *string         `db:"last_error"      json:"last_error,omitempty"`
	BatchID       *string         `db:"batch_id"        json:"batch_id,omitempty"`
	CreatedAt     time.Time       `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"      json:"updated_at"`
}
