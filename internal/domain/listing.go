package domain

import (
	"database/sql/driver"
	"slices"
	"strings"
	"time"
)

// Operation types.
const (
	OperationSale          = "sale"
	OperationRent          = "rent"
	OperationTemporaryRent = "temporary_rent"
)

// Operation is one commercial offer on a listing, for example a sale price.
type Operation struct {
	Type     string  `json:"type"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

// Operations is a JSONB array of operations.
type Operations []Operation

func (o *Operations) Scan(value any) error { return scanJSON(value, o) }

func (o Operations) Value() (driver.Value, error) {
	if o == nil {
		return []byte("[]"), nil
	}
	return valueJSON([]Operation(o))
}

// Location is the normalized address and coordinates of a listing or property.
type Location struct {
	Address      string   `json:"address,omitempty"`
	Neighborhood string   `json:"neighborhood,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	PostalCode   string   `json:"postal_code,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	LocationIDs  []string `json:"location_ids,omitempty"`
}

// HasCoordinates reports whether both coordinates are present and not the null island.
func (l Location) HasCoordinates() bool {
	if l.Latitude == nil || l.Longitude == nil {
		return false
	}
	return *l.Latitude != 0 || *l.Longitude != 0
}

func (l *Location) Scan(value any) error { return scanJSON(value, l) }

func (l Location) Value() (driver.Value, error) { return valueJSON(l) }

// Publisher is the agency or owner that published a listing.
type Publisher struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type,omitempty"`
	Phone      string `json:"phone,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// IsZero reports whether nothing is known about the publisher.
func (p Publisher) IsZero() bool {
	return p == Publisher{}
}

func (p *Publisher) Scan(value any) error { return scanJSON(value, p) }

func (p Publisher) Value() (driver.Value, error) { return valueJSON(p) }

// Publishers is a JSONB array of publisher references.
type Publishers []Publisher

func (p *Publishers) Scan(value any) error { return scanJSON(value, p) }

func (p Publishers) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return valueJSON([]Publisher(p))
}

// ListingRecord is the normalized attribute set produced by extraction.
type ListingRecord struct {
	Platform      string     `db:"platform"       json:"platform"`
	ExternalID    string     `db:"external_id"    json:"external_id"`
	OriginalURL   string     `db:"original_url"   json:"original_url"`
	Title         string     `db:"title"          json:"title"`
	Description   string     `db:"description"    json:"description"`
	PropertyType  string     `db:"property_type"  json:"property_type"`
	Operations    Operations `db:"operations"     json:"operations"`
	Bedrooms      *int       `db:"bedrooms"       json:"bedrooms,omitempty"`
	Bathrooms     *int       `db:"bathrooms"      json:"bathrooms,omitempty"`
	HalfBathrooms *int       `db:"half_bathrooms" json:"half_bathrooms,omitempty"`
	Parking       *int       `db:"parking"        json:"parking,omitempty"`
	BuiltSizeM2   *float64   `db:"built_size_m2"  json:"built_size_m2,omitempty"`
	LotSizeM2     *float64   `db:"lot_size_m2"    json:"lot_size_m2,omitempty"`
	Location      Location   `db:"location"       json:"location"`
	Amenities     StringList `db:"amenities"      json:"amenities"`
	Publisher     Publisher  `db:"publisher"      json:"publisher"`
	Images        StringList `db:"images"         json:"images"`
	ExternalCodes StringMap  `db:"external_codes" json:"external_codes,omitempty"`
}

// Listing is one scraped snapshot of one external listing page. (platform, external_id) is unique.
type Listing struct {
	ID                  string        `db:"id"                    json:"id"`
	DiscoveredListingID *string       `db:"discovered_listing_id" json:"discovered_listing_id,omitempty"`
	DataQuality         QualityReport `db:"data_quality"          json:"data_quality"`
	DedupStatus         DedupStatus   `db:"dedup_status"          json:"dedup_status"`
	PropertyID          *string       `db:"property_id"           json:"property_id,omitempty"`
	ListingGroupID      *string       `db:"listing_group_id"      json:"listing_group_id,omitempty"`
	IsPrimaryInGroup    bool          `db:"is_primary_in_group"   json:"is_primary_in_group"`
	ScrapedAt           time.Time     `db:"scraped_at"            json:"scraped_at"`
	CreatedAt           time.Time     `db:"created_at"            json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at"            json:"updated_at"`

	ListingRecord
}

// QualityReport summarizes how complete and self-consistent an extraction was.
type QualityReport struct {
	FieldsFound   []string          `json:"fields_found"`
	FieldsMissing []string          `json:"fields_missing"`
	Completeness  float64           `json:"completeness"`
	Confirmed     []string          `json:"confirmed"`
	Conflicts     []FieldConflict   `json:"conflicts"`
	Warnings      []string          `json:"warnings"`
	Sources       map[string]string `json:"sources,omitempty"`
}

func (q *QualityReport) Scan(value any) error { return scanJSON(value, q) }

func (q QualityReport) Value() (driver.Value, error) { return valueJSON(q) }

// FieldConflict is a disagreement between the chosen value of a numeric feature and the
// value mined from the listing text.
type FieldConflict struct {
	Field            string   `json:"field"`
	StructuredValue  float64  `json:"structured_value"`
	DescriptionValue float64  `json:"description_value"`
	VariancePercent  *float64 `json:"variance_percent,omitempty"`
}

// key identifies a publisher across listings: platform id when known, else the normalized name.
func (p Publisher) key() string {
	if p.ID != "" {
		return p.Platform + ":" + p.ID
	}
	return p.Platform + ":" + strings.ToLower(strings.TrimSpace(p.Name))
}

// MergePublishers appends the publishers in add that are not already present in existing.
func MergePublishers(existing Publishers, add ...Publisher) Publishers {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make(Publishers, 0, len(existing)+len(add))
	for _, p := range append(slices.Clone([]Publisher(existing)), add...) {
		if p.IsZero() {
			continue
		}
		k := p.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
