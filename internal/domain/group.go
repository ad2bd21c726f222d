package domain

import "time"

// ListingGroup is a cluster of listings the deduplication component believes describe one property.
type ListingGroup struct {
	ID                  string      `db:"id"                    json:"id"`
	Status              GroupStatus `db:"status"                json:"status"`
	MatchScore          float64     `db:"match_score"           json:"match_score"`
	PropertyID          *string     `db:"property_id"           json:"property_id,omitempty"`
	AIAttempts          int         `db:"ai_attempts"           json:"ai_attempts"`
	FailureReason       *string     `db:"failure_reason"        json:"failure_reason,omitempty"`
	AIResult            RawJSON     `db:"ai_result"             json:"ai_result,omitempty"`
	ProcessingStartedAt *time.Time  `db:"processing_started_at" json:"processing_started_at,omitempty"`
	CreatedAt           time.Time   `db:"created_at"            json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at"            json:"updated_at"`
}
