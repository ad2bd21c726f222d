package extraction

// Field names shared by platform definitions, extraction layers and the quality report.
const (
	FieldTitle          = "title"
	FieldDescription    = "description"
	FieldPropertyType   = "property_type"
	FieldOperationType  = "operation_type"
	FieldPrice          = "price"
	FieldCurrency       = "currency"
	FieldOperations     = "operations"
	FieldBedrooms       = "bedrooms"
	FieldBathrooms      = "bathrooms"
	FieldHalfBathrooms  = "half_bathrooms"
	FieldParking        = "parking"
	FieldBuiltSize      = "built_size_m2"
	FieldLotSize        = "lot_size_m2"
	FieldAddress        = "address"
	FieldNeighborhood   = "neighborhood"
	FieldCity           = "city"
	FieldState          = "state"
	FieldPostalCode     = "postal_code"
	FieldLatitude       = "latitude"
	FieldLongitude      = "longitude"
	FieldCoordinates    = "coordinates"
	FieldLocationIDs    = "location_ids"
	FieldPublisher      = "publisher"
	FieldPublisherID    = "publisher_id"
	FieldPublisherName  = "publisher_name"
	FieldPublisherType  = "publisher_type"
	FieldPublisherPhone = "publisher_phone"
	FieldImages         = "images"
	FieldAmenities      = "amenities"
	FieldFeatures       = "features"
	FieldBreadcrumbs    = "breadcrumbs"
	FieldExternalID     = "external_id"
)

// Layer names recorded as field provenance.
const (
	LayerStructured  = "structured"
	LayerMarkup      = "markup"
	LayerText        = "text"
	LayerReadability = "readability"
)

// ExpectedFields is the field set completeness is measured against.
var ExpectedFields = []string{
	FieldTitle,
	FieldDescription,
	FieldPropertyType,
	FieldOperations,
	FieldBedrooms,
	FieldBathrooms,
	FieldParking,
	FieldBuiltSize,
	FieldLotSize,
	FieldAddress,
	FieldCity,
	FieldState,
	FieldCoordinates,
	FieldPublisher,
	FieldImages,
	FieldAmenities,
}

// validatedFields are the numeric features compared against the text-mined copies, in
// report order.
var validatedFields = []string{
	FieldBedrooms,
	FieldBathrooms,
	FieldHalfBathrooms,
	FieldParking,
	FieldBuiltSize,
	FieldLotSize,
}

var numericFields = map[string]bool{
	FieldPrice:         true,
	FieldBedrooms:      true,
	FieldBathrooms:     true,
	FieldHalfBathrooms: true,
	FieldParking:       true,
	FieldBuiltSize:     true,
	FieldLotSize:       true,
	FieldLatitude:      true,
	FieldLongitude:     true,
}

var listFields = map[string]bool{
	FieldImages:      true,
	FieldAmenities:   true,
	FieldFeatures:    true,
	FieldBreadcrumbs: true,
	FieldLocationIDs: true,
}

// areaFields are continuous measurements compared with a relative tolerance.
var areaFields = map[string]bool{
	FieldBuiltSize: true,
	FieldLotSize:   true,
}
