package extraction

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

const testPlatforms = `
platforms:
  - name: testsite
    base_url: https://www.testsite.mx
    listing:
      external_id_pattern: '-(\d+)\.html'
      scripts:
        price: '"price"\s*:\s*"([\d.,]+)"'
        currency: '"currencyId"\s*:\s*"(\w+)"'
        operation_type: '"operationTypeId"\s*:\s*"(\d+)"'
        images: '"img"\s*:\s*"([^"]+)"'
      selectors:
        title: ["h1.title"]
        description: ["div.description"]
        price: ["span.price"]
        features: ["ul.missing li", "ul.features li"]
        amenities: ["ul.amenities li"]
        breadcrumbs: ["nav.crumbs a"]
        publisher_name: ["div.agency h3"]
      image_upgrades:
        - pattern: '/360x266/'
          replace: '/1200x1200/'
      image_id_pattern: '/(\d+)\.jpg'
      operation_types:
        "1": sale
        "2": rent

  - name: statesite
    base_url: https://statesite.mx
    listing:
      external_id_pattern: '/detalle/([\w-]+)'
      state_blob: '(?m)window\.__STATE__\s*=\s*(\{.*\})\s*;?\s*$'
      state_paths:
        price: listing.price.amount
        currency: listing.price.currency
        operation_type: listing.operation
        property_type: listing.propertyType
        bedrooms: listing.attributes.bedrooms
        bathrooms: listing.attributes.bathrooms
        built_size_m2: listing.attributes.builtArea
        latitude: listing.geo.lat
        longitude: listing.geo.lng
        publisher_id: listing.agency.id
        publisher_name: listing.agency.name
        images: listing.images.#.url
      image_upgrades:
        - pattern: 'w=\d+'
          replace: 'w=1600'
      property_types:
        departamento: apartment
      operation_types:
        venta: sale
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	defs, err := platform.Parse([]byte(testPlatforms))
	require.NoError(t, err)
	return NewEngine(platform.NewRegistry(defs, infralogger.NewNop()), infralogger.NewNop())
}

const jsonLDPage = `<html><head>
<title>Casa en venta</title>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "House",
  "name": "Casa en venta, 3 recámaras… 100 m² construidos",
  "description": "Hermosa casa con alberca y seguridad 24 horas.",
  "numberOfRooms": 3,
  "floorSize": {"@type": "QuantitativeValue", "value": 100, "unitCode": "MTK"},
  "offers": {"@type": "Offer", "price": "3500000", "priceCurrency": "MXN"}
}
</script>
</head><body></body></html>`

func TestExtract_ConfirmsMatchingFeatures(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Extract(context.Background(), "testsite",
		"https://www.testsite.mx/propiedades/casa-en-venta-zapopan-4411.html", []byte(jsonLDPage))
	require.NoError(t, err)

	assert.Equal(t, "json_ld", res.LoadedSignal)
	assert.Equal(t, []string{FieldBedrooms, FieldBuiltSize}, res.Quality.Confirmed)
	assert.Empty(t, res.Quality.Conflicts)

	rec := res.Record
	assert.Equal(t, "4411", rec.ExternalID)
	assert.Equal(t, "house", rec.PropertyType)
	require.NotNil(t, rec.Bedrooms)
	assert.Equal(t, 3, *rec.Bedrooms)
	require.NotNil(t, rec.BuiltSizeM2)
	assert.InDelta(t, 100.0, *rec.BuiltSizeM2, 0.001)
	assert.Equal(t, domain.Operations{{Type: domain.OperationSale, Price: 3500000, Currency: "MXN"}}, rec.Operations)
	assert.Equal(t, domain.StringList{"pool", "security_24h"}, rec.Amenities)
	assert.Equal(t, LayerStructured, res.Quality.Sources[FieldBedrooms])
	assert.Equal(t, LayerText, res.Quality.Sources[FieldAmenities])
}

func TestExtract_RecordsConflicts(t *testing.T) {
	e := newTestEngine(t)
	page := `<html><head><script type="application/ld+json">
{"@type": "Apartment", "name": "Departamento",
 "description": "Departamento de 3 recámaras, 2 baños, 120 m2 construidos y 103 m2 de terreno.",
 "numberOfRooms": 4, "numberOfBathroomsTotal": 2,
 "floorSize": {"value": 100}, "lotSize": {"value": 100}}
</script></head><body></body></html>`

	res, err := e.Extract(context.Background(), "testsite",
		"https://www.testsite.mx/propiedades/departamento-9.html", []byte(page))
	require.NoError(t, err)

	assert.Equal(t, []string{FieldBathrooms, FieldLotSize}, res.Quality.Confirmed)
	require.Len(t, res.Quality.Conflicts, 2)

	bedrooms := res.Quality.Conflicts[0]
	assert.Equal(t, FieldBedrooms, bedrooms.Field)
	assert.InDelta(t, 4.0, bedrooms.StructuredValue, 0.001)
	assert.InDelta(t, 3.0, bedrooms.DescriptionValue, 0.001)
	assert.Nil(t, bedrooms.VariancePercent)

	built := res.Quality.Conflicts[1]
	assert.Equal(t, FieldBuiltSize, built.Field)
	require.NotNil(t, built.VariancePercent)
	assert.InDelta(t, 20.0, *built.VariancePercent, 0.001)

	// Free-text numbers never replace the chosen values.
	require.NotNil(t, res.Record.Bedrooms)
	assert.Equal(t, 4, *res.Record.Bedrooms)
}

const scriptPage = `<html><head><title>Casa en venta en Zapopan</title>
<script>
var posting = {"price": "3,500,000", "currencyId": "MN", "operationTypeId": "1"};
var gallery = [
  {"img": "https://img.testsite.mx/avisos/360x266/555.jpg"},
  {"img": "https://img.testsite.mx/avisos/1200x1200/555.jpg"},
  {"img": "https://img.testsite.mx/avisos/360x266/556.jpg"}
];
</script></head>
<body>
<h1 class="title">Casa en venta en Zapopan</h1>
<span class="price">USD 180,000</span>
<div class="gallery"><img src="/static/other.jpg"></div>
</body></html>`

func TestExtract_StructuredOperationsAndImages(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Extract(context.Background(), "testsite",
		"https://www.testsite.mx/propiedades/casa-en-venta-zapopan-555.html", []byte(scriptPage))
	require.NoError(t, err)

	assert.Equal(t, "script:currency", res.LoadedSignal)
	assert.Equal(t, domain.Operations{{Type: domain.OperationSale, Price: 3500000, Currency: "MXN"}}, res.Record.Operations)
	assert.Equal(t, LayerStructured, res.Quality.Sources[FieldOperations])
	assert.Equal(t, domain.StringList{
		"https://img.testsite.mx/avisos/1200x1200/555.jpg",
		"https://img.testsite.mx/avisos/1200x1200/556.jpg",
	}, res.Record.Images)
	assert.Equal(t, "1", res.Record.ExternalCodes["operation_type"])
}

const markupPage = `<html><head><title>Casa en renta | Testsite</title></head>
<body>
<nav class="crumbs">
  <a href="/">Inicio</a><a href="/renta">Renta</a><a href="/casas">Casas</a>
  <a href="/jalisco">Jalisco</a><a href="/zapopan">Zapopan</a><a href="/valle-real">Valle Real</a>
</nav>
<h1 class="title">Casa en renta en Zapopan</h1>
<span class="price">MN 28,000</span>
<ul class="features">
  <li>3 recámaras</li>
  <li>2 baños</li>
  <li>150 m² construidos</li>
</ul>
<ul class="amenities"><li>Alberca</li><li>Cuarto de juegos de mesa</li><li>Piscina</li></ul>
<div class="description">Amplia casa de 3 recámaras y 2 baños con jardín.</div>
<div class="agency"><h3>Inmobiliaria Real</h3></div>
</body></html>`

func TestExtract_MarkupLayer(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Extract(context.Background(), "testsite",
		"https://www.testsite.mx/propiedades/casa-en-renta-zapopan-777.html", []byte(markupPage))
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, "Casa en renta en Zapopan", rec.Title)
	assert.Equal(t, domain.Operations{{Type: domain.OperationRent, Price: 28000, Currency: "MXN"}}, rec.Operations)
	require.NotNil(t, rec.Bedrooms)
	require.NotNil(t, rec.Bathrooms)
	require.NotNil(t, rec.BuiltSizeM2)
	assert.Equal(t, 3, *rec.Bedrooms)
	assert.Equal(t, 2, *rec.Bathrooms)
	assert.InDelta(t, 150.0, *rec.BuiltSizeM2, 0.001)

	assert.Equal(t, "Jalisco", rec.Location.State)
	assert.Equal(t, "Zapopan", rec.Location.City)
	assert.Equal(t, "Valle Real", rec.Location.Neighborhood)

	assert.Equal(t, domain.StringList{"pool", "Cuarto de juegos de mesa", "garden"}, rec.Amenities)
	assert.Equal(t, domain.Publisher{Name: "Inmobiliaria Real", Platform: "testsite"}, rec.Publisher)

	assert.Equal(t, []string{FieldBedrooms, FieldBathrooms}, res.Quality.Confirmed)
	assert.Empty(t, res.Quality.Conflicts)
	assert.Equal(t, LayerMarkup, res.Quality.Sources[FieldBedrooms])
	assert.Contains(t, res.Quality.FieldsMissing, FieldCoordinates)
	assert.Contains(t, res.Quality.FieldsFound, FieldAmenities)
}

func TestExtract_StateBlob(t *testing.T) {
	e := newTestEngine(t)
	page := `<html><head><title>Depto</title>
<script>
window.__STATE__ = {"listing":{"price":{"amount":2500000,"currency":"MXN"},"operation":"venta","propertyType":"departamento","attributes":{"bedrooms":2,"bathrooms":2,"builtArea":85.5},"geo":{"lat":20.67,"lng":-103.35},"agency":{"id":"A-17","name":"Grupo Norte"},"images":[{"url":"https://cdn.statesite.mx/a.jpg?w=300"},{"url":"https://cdn.statesite.mx/b.jpg?w=300"}]}};
</script></head><body></body></html>`

	res, err := e.Extract(context.Background(), "statesite", "https://statesite.mx/detalle/depto-gdl-88", []byte(page))
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, "depto-gdl-88", rec.ExternalID)
	assert.Equal(t, "apartment", rec.PropertyType)
	assert.Equal(t, domain.Operations{{Type: domain.OperationSale, Price: 2500000, Currency: "MXN"}}, rec.Operations)
	require.NotNil(t, rec.BuiltSizeM2)
	assert.InDelta(t, 85.5, *rec.BuiltSizeM2, 0.001)
	assert.True(t, rec.Location.HasCoordinates())
	assert.InDelta(t, 20.67, *rec.Location.Latitude, 0.0001)
	assert.Equal(t, "A-17", rec.Publisher.ID)
	assert.Equal(t, domain.StringList{
		"https://cdn.statesite.mx/a.jpg?w=1600",
		"https://cdn.statesite.mx/b.jpg?w=1600",
	}, rec.Images)
	assert.Equal(t, LayerStructured, res.Quality.Sources[FieldCoordinates])
}

func TestExtract_JSONLDTypeArrayAndOfferList(t *testing.T) {
	e := newTestEngine(t)
	page := `<html><head><script type="application/ld+json">
{"@type": ["Product", "SingleFamilyResidence"], "name": "Casa en Tlaquepaque",
 "description": "Casa amplia cerca del centro.",
 "numberOfBedrooms": "tres", "numberOfBathroomsTotal": 2,
 "offers": [
   {"@type": "Offer", "price": "4200000", "priceCurrency": "MXN", "businessFunction": "Sell"},
   {"@type": "Offer", "price": "18000", "priceCurrency": "MXN", "businessFunction": "LeaseOut",
    "seller": {"@type": "RealEstateAgent", "name": "Casas GDL", "telephone": "3312345678"}}
 ]}
</script></head><body></body></html>`

	res, err := e.Extract(context.Background(), "testsite",
		"https://www.testsite.mx/propiedades/casa-tlaquepaque-31.html", []byte(page))
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, "house", rec.PropertyType)
	assert.Nil(t, rec.Bedrooms)
	require.NotNil(t, rec.Bathrooms)
	assert.Equal(t, 2, *rec.Bathrooms)
	assert.Len(t, rec.Operations, 2)
	assert.Equal(t, "Casas GDL", rec.Publisher.Name)
	assert.Equal(t, "3312345678", rec.Publisher.Phone)

	assert.True(t, slices.ContainsFunc(res.Quality.Warnings, func(w string) bool {
		return strings.Contains(w, "json-ld numberOfBedrooms") && strings.Contains(w, `"tres"`)
	}), "warnings: %v", res.Quality.Warnings)
}

func TestExtract_MarkupCoordinateWarning(t *testing.T) {
	e := newTestEngine(t)
	page := `<html><head><title>Casa</title>
<meta property="place:location:latitude" content="norte">
<meta property="place:location:longitude" content="-103.35">
<script>var posting = {"price": "3,100,000", "currencyId": "MXN"};</script></head><body></body></html>`

	res, err := e.Extract(context.Background(), "testsite", "https://www.testsite.mx/propiedades/casa-12.html", []byte(page))
	require.NoError(t, err)

	assert.Nil(t, res.Record.Location.Latitude)
	assert.Contains(t, res.Quality.Warnings, `meta place:location:latitude: latitude value "norte" is not numeric`)
}

func TestExtract_PageNotLoaded(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Extract(context.Background(), "testsite",
		"https://www.testsite.mx/propiedades/x-1.html", []byte(`<html><body><div></div></body></html>`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPageNotLoaded))
	assert.Equal(t, failure.KindNotLoaded, failure.Classify(err))
}

func TestExtract_UnknownPlatform(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Extract(context.Background(), "nope", "https://nope.mx/1", []byte(jsonLDPage))
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrUnknownPlatform)
}

func TestExtract_MissingFieldsAreWarningsOnly(t *testing.T) {
	e := newTestEngine(t)
	page := `<html><head><title>Casa</title>
<script>var posting = {"price": "precio a consultar"};</script></head><body></body></html>`

	res, err := e.Extract(context.Background(), "testsite", "https://www.testsite.mx/propiedades/casa-3.html", []byte(page))
	require.NoError(t, err)

	assert.Empty(t, res.Record.Operations)
	assert.Nil(t, res.Record.Bedrooms)
	assert.InDelta(t, 2.0/16.0, res.Quality.Completeness, 0.01)
	assert.Len(t, res.Quality.FieldsFound, 2)
}

func TestMineFeatures(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]float64
	}{
		{
			name: "counts and areas",
			text: "3 recámaras, 2 baños y 1 medio baño, 2 estacionamientos, 180 m² de construcción, 200 m2 de terreno",
			want: map[string]float64{
				FieldBedrooms:      3,
				FieldBathrooms:     2,
				FieldHalfBathrooms: 1,
				FieldParking:       2,
				FieldBuiltSize:     180,
				FieldLotSize:       200,
			},
		},
		{
			name: "number words",
			text: "Tres habitaciones y dos baños completos",
			want: map[string]float64{FieldBedrooms: 3, FieldBathrooms: 2},
		},
		{
			name: "label before value",
			text: "Recámaras: 4 | Superficie construida: 1,250 m2",
			want: map[string]float64{FieldBedrooms: 4, FieldBuiltSize: 1250},
		},
		{
			name: "half bath count keeps the whole number",
			text: "Casa de 3 recámaras y 2.5 baños",
			want: map[string]float64{FieldBedrooms: 3, FieldBathrooms: 2},
		},
		{
			name: "decimal fraction is not a count",
			text: "Terreno de 0.5 hectáreas, 1,5 baños",
			want: map[string]float64{FieldBathrooms: 1},
		},
		{
			name: "count at start of text",
			text: "4 recámaras",
			want: map[string]float64{FieldBedrooms: 4},
		},
		{
			name: "no false match inside words",
			text: "Ninguna recámara extra, cuarto de servicio",
			want: map[string]float64{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mineFeatures(tt.text))
		})
	}
}

func TestAmenityMatcher(t *testing.T) {
	m := newAmenityMatcher(amenityKeywords)

	assert.Equal(t, []string{"pool", "security_24h"}, m.tags("Alberca techada, Seguridad 24/7"))
	assert.Empty(t, m.tags("Amplio espacio iluminado"))
	assert.Equal(t, []string{"security"}, m.tags("Seguridad privada, espacio amplio, spacious"))
	assert.Equal(t, []string{"gated_community", "security"}, m.tags("Casa en privada con seguridad privada"))
	assert.Equal(t, []string{"balcony", "garden", "sports_court"}, m.tags("Jardines, dos balcones y canchas de pádel"))
	assert.Empty(t, m.tags("Estudiosos del cinema"))
	assert.Equal(t, []string{"Cancel de aluminio"}, m.canonicalAmenities(" Cancel  de aluminio "))
	assert.Equal(t, []string{"gym", "pool"}, m.mergeAmenities([]string{"Gimnasio", "Alberca"}, []string{"pool"}))
}

func TestParsePriceText(t *testing.T) {
	tests := []struct {
		raw      string
		amount   float64
		currency string
	}{
		{"MN 3,500,000", 3500000, "MXN"},
		{"US$ 250,000", 250000, "USD"},
		{"$ 12.500", 12500, "MXN"},
		{"1.250.000 pesos", 1250000, "MXN"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			amount, currency, ok := parsePriceText(tt.raw)
			require.True(t, ok)
			assert.InDelta(t, tt.amount, amount, 0.001)
			assert.Equal(t, tt.currency, currency)
		})
	}
}

func TestRelativeVariance(t *testing.T) {
	assert.InDelta(t, 0.0, relativeVariance(100, 100), 0.0001)
	assert.InDelta(t, 5.0, relativeVariance(100, 105), 0.0001)
	assert.InDelta(t, 3.33, relativeVariance(150, 145), 0.0001)
}
