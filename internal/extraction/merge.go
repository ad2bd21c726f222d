package extraction

import (
	"math"
	"net/url"
	"strings"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

// merge folds layers into one field set. Layers are added in precedence order and a
// field resolved by an earlier layer is never replaced.
type merge struct {
	def       *platform.Definition
	p         *page
	text      map[string]string
	num       map[string]float64
	list      map[string][]string
	ops       []domain.Operation
	amenities [][]string
	sources   map[string]string
	warnings  []string
}

func newMerge(def *platform.Definition, p *page) *merge {
	return &merge{
		def:     def,
		p:       p,
		text:    make(map[string]string),
		num:     make(map[string]float64),
		list:    make(map[string][]string),
		sources: make(map[string]string),
	}
}

func (m *merge) add(v *values) {
	for field, s := range v.text {
		if _, ok := m.text[field]; !ok {
			m.text[field] = s
			m.claim(field, v.layer)
		}
	}
	for field, n := range v.num {
		if _, ok := m.num[field]; !ok {
			m.num[field] = n
			m.claim(field, v.layer)
		}
	}
	for field, items := range v.list {
		if field == FieldAmenities {
			m.amenities = append(m.amenities, items)
			m.claim(field, v.layer)
			continue
		}
		if _, ok := m.list[field]; !ok {
			m.list[field] = items
			m.claim(field, v.layer)
		}
	}
	if len(m.ops) == 0 && len(v.ops) > 0 {
		m.ops = v.ops
		m.claim(FieldOperations, v.layer)
	}
}

func (m *merge) claim(field, layer string) {
	if _, ok := m.sources[field]; !ok {
		m.sources[field] = layer
	}
}

func (m *merge) warn(msg string) {
	m.warnings = append(m.warnings, msg)
}

// record builds the listing record from the merged fields. Text-mined amenity tags are
// unioned with the layers' amenities.
func (m *merge) record(amenities *amenityMatcher, textAmenities []string) domain.ListingRecord {
	rec := domain.ListingRecord{
		Platform:    m.def.Name,
		OriginalURL: m.p.rawURL,
		ExternalID:  m.text[FieldExternalID],
		Title:       m.text[FieldTitle],
		Description: m.text[FieldDescription],
	}
	if rec.ExternalID == "" {
		rec.ExternalID = m.def.ExternalIDFromURL(m.p.rawURL)
	}

	rec.PropertyType = normalizePropertyType(m.def, m.text[FieldPropertyType])
	if rec.PropertyType == "" {
		rec.PropertyType = propertyTypeFromText(m.text[FieldTitle] + " " + urlWords(m.p.url))
		if rec.PropertyType != "" {
			m.sources[FieldPropertyType] = LayerText
		}
	}
	rec.Operations = m.operations()

	rec.Bedrooms = m.count(FieldBedrooms)
	rec.Bathrooms = m.count(FieldBathrooms)
	rec.HalfBathrooms = m.count(FieldHalfBathrooms)
	rec.Parking = m.count(FieldParking)
	rec.BuiltSizeM2 = m.area(FieldBuiltSize)
	rec.LotSizeM2 = m.area(FieldLotSize)

	rec.Location = m.location()

	if len(textAmenities) > 0 {
		m.claim(FieldAmenities, LayerText)
	}
	rec.Amenities = amenities.mergeAmenities(append(m.amenities, textAmenities)...)
	if rec.Amenities == nil {
		rec.Amenities = domain.StringList{}
	}

	rec.Publisher = domain.Publisher{
		ID:    m.text[FieldPublisherID],
		Name:  m.text[FieldPublisherName],
		Type:  m.text[FieldPublisherType],
		Phone: m.text[FieldPublisherPhone],
	}
	if !rec.Publisher.IsZero() {
		rec.Publisher.Platform = m.def.Name
		m.claim(FieldPublisher, firstNonEmpty(
			m.sources[FieldPublisherID], m.sources[FieldPublisherName], m.sources[FieldPublisherPhone]))
	}

	rec.Images = processImages(m.def, m.list[FieldImages])
	rec.ExternalCodes = m.externalCodes()
	return rec
}

// operations normalizes the chosen operations. An operation without a type takes the one
// implied by the listing URL or title; duplicates by type keep the first.
func (m *merge) operations() domain.Operations {
	implied := operationFromText(urlWords(m.p.url))
	if implied == "" {
		implied = operationFromText(m.text[FieldTitle])
	}
	out := make(domain.Operations, 0, len(m.ops))
	seen := make(map[string]bool, len(m.ops))
	for _, op := range m.ops {
		if op.Type == "" {
			op.Type = implied
		}
		if op.Type == "" {
			m.warn("operation type unknown, assuming sale")
			op.Type = domain.OperationSale
		}
		if op.Currency == "" {
			m.warn("operation currency unknown")
		}
		if seen[op.Type] {
			continue
		}
		seen[op.Type] = true
		out = append(out, op)
	}
	return out
}

func (m *merge) count(field string) *int {
	n, ok := m.num[field]
	if !ok {
		return nil
	}
	if n != math.Trunc(n) {
		m.warn(field + " is not a whole number, rounded")
	}
	i := int(math.Round(n))
	return &i
}

func (m *merge) area(field string) *float64 {
	n, ok := m.num[field]
	if !ok || n <= 0 {
		return nil
	}
	return &n
}

func (m *merge) location() domain.Location {
	loc := domain.Location{
		Address:      m.text[FieldAddress],
		Neighborhood: m.text[FieldNeighborhood],
		City:         m.text[FieldCity],
		State:        m.text[FieldState],
		PostalCode:   m.text[FieldPostalCode],
		LocationIDs:  m.list[FieldLocationIDs],
	}
	lat, latOK := m.num[FieldLatitude]
	lng, lngOK := m.num[FieldLongitude]
	switch {
	case !latOK && !lngOK:
	case !latOK || !lngOK:
		m.warn("coordinates incomplete")
	case lat < -90 || lat > 90:
		m.warn("latitude out of range")
	case lat == 0 && lng == 0:
		m.warn("coordinates at null island ignored")
	default:
		loc.Latitude, loc.Longitude = &lat, &lng
		m.claim(FieldCoordinates, m.sources[FieldLatitude])
	}
	return loc
}

// externalCodes keeps the platform's raw identifiers next to their normalized values.
func (m *merge) externalCodes() domain.StringMap {
	codes := domain.StringMap{}
	for field, key := range map[string]string{
		FieldPropertyType:  "property_type",
		FieldOperationType: "operation_type",
		FieldPublisherID:   "publisher_id",
	} {
		if raw := m.text[field]; raw != "" {
			codes[key] = raw
		}
	}
	if ids := m.list[FieldLocationIDs]; len(ids) > 0 {
		codes["location_ids"] = strings.Join(ids, ",")
	}
	if len(codes) == 0 {
		return nil
	}
	return codes
}

// propertyTypeFromText returns the canonical type of the first known keyword in text.
func propertyTypeFromText(text string) string {
	s := fold(text)
	for _, kw := range propertyTypeKeywords {
		if strings.Contains(s, kw.keyword) {
			return kw.kind
		}
	}
	return ""
}

// urlWords turns a URL path into words, for example "/venta/casa-en-zapopan" into
// "venta casa en zapopan".
func urlWords(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.NewReplacer("/", " ", "-", " ", "_", " ", ".html", " ").Replace(u.Path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
