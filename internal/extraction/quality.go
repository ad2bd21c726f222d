package extraction

import (
	"math"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

// completeness checks the record against ExpectedFields and returns the fields found, the
// fields missing and found/expected rounded to two decimals.
func completeness(rec *domain.ListingRecord) ([]string, []string, float64) {
	present := map[string]bool{
		FieldTitle:        rec.Title != "",
		FieldDescription:  rec.Description != "",
		FieldPropertyType: rec.PropertyType != "",
		FieldOperations:   len(rec.Operations) > 0,
		FieldBedrooms:     rec.Bedrooms != nil,
		FieldBathrooms:    rec.Bathrooms != nil,
		FieldParking:      rec.Parking != nil,
		FieldBuiltSize:    rec.BuiltSizeM2 != nil,
		FieldLotSize:      rec.LotSizeM2 != nil,
		FieldAddress:      rec.Location.Address != "",
		FieldCity:         rec.Location.City != "",
		FieldState:        rec.Location.State != "",
		FieldCoordinates:  rec.Location.HasCoordinates(),
		FieldPublisher:    !rec.Publisher.IsZero(),
		FieldImages:       len(rec.Images) > 0,
		FieldAmenities:    len(rec.Amenities) > 0,
	}

	found := make([]string, 0, len(ExpectedFields))
	missing := make([]string, 0, len(ExpectedFields))
	for _, field := range ExpectedFields {
		if present[field] {
			found = append(found, field)
		} else {
			missing = append(missing, field)
		}
	}
	score := float64(len(found)) / float64(len(ExpectedFields))
	return found, missing, math.Round(score*100) / 100
}
