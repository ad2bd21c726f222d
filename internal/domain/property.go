package domain

import (
	"database/sql/driver"
	"time"
)

// PropertyStatus is the lifecycle state of a canonical property.
type PropertyStatus string

const (
	PropertyStatusActive   PropertyStatus = "active"
	PropertyStatusArchived PropertyStatus = "archived"
)

// Property is the canonical record for one physical property.
type Property struct {
	ID              string              `db:"id"               json:"id"`
	ListingGroupID  *string             `db:"listing_group_id" json:"listing_group_id,omitempty"`
	Title           string              `db:"title"            json:"title"`
	Description     string              `db:"description"      json:"description"`
	PropertyType    string              `db:"property_type"    json:"property_type"`
	Operations      Operations          `db:"operations"       json:"operations"`
	Bedrooms        *int                `db:"bedrooms"         json:"bedrooms,omitempty"`
	Bathrooms       *int                `db:"bathrooms"        json:"bathrooms,omitempty"`
	HalfBathrooms   *int                `db:"half_bathrooms"   json:"half_bathrooms,omitempty"`
	Parking         *int                `db:"parking"          json:"parking,omitempty"`
	BuiltSizeM2     *float64            `db:"built_size_m2"    json:"built_size_m2,omitempty"`
	LotSizeM2       *float64            `db:"lot_size_m2"      json:"lot_size_m2,omitempty"`
	Location        Location            `db:"location"         json:"location"`
	Amenities       StringList          `db:"amenities"        json:"amenities"`
	Images          StringList          `db:"images"           json:"images"`
	Publishers      Publishers          `db:"publishers"       json:"publishers"`
	ConfidenceScore int                 `db:"confidence_score" json:"confidence_score"`
	AIUnification   UnificationMetadata `db:"ai_unification"   json:"ai_unification"`
	NeedsReanalysis bool                `db:"needs_reanalysis" json:"needs_reanalysis"`
	Status          PropertyStatus      `db:"status"           json:"status"`
	CreatedAt       time.Time           `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at"       json:"updated_at"`
}

// UnificationMode is the framing used for a unification call.
type UnificationMode string

const (
	// UnificationModeEnrichment is used for single-listing groups.
	UnificationModeEnrichment UnificationMode = "enrichment"
	// UnificationModeMerge is used for multi-listing groups.
	UnificationModeMerge UnificationMode = "merge"
)

// UnificationMetadata records how a Property was produced.
type UnificationMetadata struct {
	Model          string            `json:"model,omitempty"`
	Mode           UnificationMode   `json:"mode,omitempty"`
	InputTokens    int64             `json:"input_tokens,omitempty"`
	OutputTokens   int64             `json:"output_tokens,omitempty"`
	SourceListings []SourceListing   `json:"source_listings,omitempty"`
	FieldSources   map[string]string `json:"field_sources,omitempty"`
	Discrepancies  []Discrepancy     `json:"discrepancies,omitempty"`
	GeocodeSource  string            `json:"geocode_source,omitempty"`
	UnifiedAt      *time.Time        `json:"unified_at,omitempty"`
}

func (m *UnificationMetadata) Scan(value any) error { return scanJSON(value, m) }

func (m UnificationMetadata) Value() (driver.Value, error) { return valueJSON(m) }

// SourceListing references a listing that contributed to a Property.
type SourceListing struct {
	ListingID  string `json:"listing_id"`
	Platform   string `json:"platform"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// Discrepancy is a field on which member listings disagreed and how it was resolved.
type Discrepancy struct {
	Field       string   `json:"field"`
	Values      []string `json:"values"`
	ChosenValue string   `json:"chosen_value"`
	Resolution  string   `json:"resolution"`
}

// ConflictSource says which stage found a PropertyConflict.
type ConflictSource string

const (
	ConflictSourceExtraction  ConflictSource = "extraction"
	ConflictSourceUnification ConflictSource = "unification"
)

// ConflictResolution is the review state of a PropertyConflict.
type ConflictResolution string

const (
	ConflictOpen     ConflictResolution = "open"
	ConflictResolved ConflictResolution = "resolved"
	ConflictIgnored  ConflictResolution = "ignored"
)

// PropertyConflict is one field-level disagreement found during extraction cross-validation or
// unification.
type PropertyConflict struct {
	ID              string             `db:"id"               json:"id"`
	PropertyID      *string            `db:"property_id"      json:"property_id,omitempty"`
	ListingID       *string            `db:"listing_id"       json:"listing_id,omitempty"`
	Field           string             `db:"field"            json:"field"`
	CanonicalValue  string             `db:"canonical_value"  json:"canonical_value"`
	SourceValue     string             `db:"source_value"     json:"source_value"`
	VariancePercent *float64           `db:"variance_percent" json:"variance_percent,omitempty"`
	Source          ConflictSource     `db:"source"           json:"source"`
	Resolution      ConflictResolution `db:"resolution"       json:"resolution"`
	CreatedAt       time.Time          `db:"created_at"       json:"created_at"`
}
