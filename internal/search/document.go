package search

import (
	"time"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

// GeoPoint is an Elasticsearch geo_point in object form.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Operation is a flattened sale or rent offer.
type Operation struct {
	Type     string  `json:"type"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

// Document is the indexed shape of a Property.
type Document struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	PropertyType    string      `json:"property_type,omitempty"`
	Operations      []Operation `json:"operations"`
	OperationTypes  []string    `json:"operation_types"`
	Bedrooms        *int        `json:"bedrooms,omitempty"`
	Bathrooms       *int        `json:"bathrooms,omitempty"`
	Parking         *int        `json:"parking,omitempty"`
	BuiltSizeM2     *float64    `json:"built_size_m2,omitempty"`
	LotSizeM2       *float64    `json:"lot_size_m2,omitempty"`
	Address         string      `json:"address,omitempty"`
	Neighborhood    string      `json:"neighborhood,omitempty"`
	City            string      `json:"city,omitempty"`
	State           string      `json:"state,omitempty"`
	PostalCode      string      `json:"postal_code,omitempty"`
	Location        *GeoPoint   `json:"location,omitempty"`
	Amenities       []string    `json:"amenities"`
	Images          []string    `json:"images"`
	Platforms       []string    `json:"platforms"`
	SourceCount     int         `json:"source_count"`
	ConfidenceScore int         `json:"confidence_score"`
	Status          string      `json:"status"`
	UnifiedAt       *time.Time  `json:"unified_at,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewDocument flattens a property for indexing.
func NewDocument(p *domain.Property) Document {
	doc := Document{
		ID:              p.ID,
		Title:           p.Title,
		Description:     p.Description,
		PropertyType:    p.PropertyType,
		Bedrooms:        p.Bedrooms,
		Bathrooms:       p.Bathrooms,
		Parking:         p.Parking,
		BuiltSizeM2:     p.BuiltSizeM2,
		LotSizeM2:       p.LotSizeM2,
		Address:         p.Location.Address,
		Neighborhood:    p.Location.Neighborhood,
		City:            p.Location.City,
		State:           p.Location.State,
		PostalCode:      p.Location.PostalCode,
		Amenities:       append([]string{}, p.Amenities...),
		Images:          append([]string{}, p.Images...),
		SourceCount:     len(p.AIUnification.SourceListings),
		ConfidenceScore: p.ConfidenceScore,
		Status:          string(p.Status),
		UnifiedAt:       p.AIUnification.UnifiedAt,
		UpdatedAt:       p.UpdatedAt,
	}

	seenType := make(map[string]bool)
	for _, op := range p.Operations {
		doc.Operations = append(doc.Operations, Operation{Type: op.Type, Price: op.Price, Currency: op.Currency})
		if !seenType[op.Type] {
			seenType[op.Type] = true
			doc.OperationTypes = append(doc.OperationTypes, op.Type)
		}
	}

	seenPlatform := make(map[string]bool)
	for _, src := range p.AIUnification.SourceListings {
		if src.Platform != "" && !seenPlatform[src.Platform] {
			seenPlatform[src.Platform] = true
			doc.Platforms = append(doc.Platforms, src.Platform)
		}
	}

	if p.Location.HasCoordinates() {
		doc.Location = &GeoPoint{Lat: *p.Location.Latitude, Lon: *p.Location.Longitude}
	}
	return doc
}
