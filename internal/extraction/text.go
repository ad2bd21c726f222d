package extraction

import (
	"regexp"
	"strconv"
)

// countWord matches a small count written as digits or as a Spanish number word. The count
// must not continue a word or a number, so "2.5 banos" never reads as 5. A half count such as
// "2.5" is captured whole and truncated by parseFeatureValue.
const countWord = `(?:^|[^a-z0-9.,])(\d{1,2}(?:[.,]5)?|una?|uno|dos|tres|cuatro|cinco|seis|siete|ocho|nueve|diez)`

// areaNumber matches an area value with optional separators.
const areaNumber = `(\d[\d.,]*)`

// areaUnit matches square-meter units after folding ("m²" folds to "m2").
const areaUnit = `(?:m2|mts2?|metros?(?:\s*cuadrados)?)`

// halfCount is a count with a trailing half, as in "2.5 banos" for two full baths and a half bath.
var halfCount = regexp.MustCompile(`^(\d{1,2})[.,]5$`)

var numberWords = map[string]int{
	"un":   1, "una": 1, "uno": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10,
}

// featureFamilies hold the patterns per numeric feature, tried in order over folded text.
// The first capture group is the value.
var featureFamilies = map[string][]*regexp.Regexp{
	FieldBedrooms: compileFamily(
		countWord+`\s*(?:recamaras?|habitaciones?|dormitorios?|alcobas?|rec\b|bedrooms?|beds?\b)`,
		`(?:recamaras?|habitaciones?|dormitorios?)\s*:?\s*(\d{1,2})\b`,
	),
	FieldHalfBathrooms: compileFamily(
		countWord+`\s*(?:medios?\s*banos?|half\s*baths?)`,
		`medios?\s*banos?\s*:?\s*(\d{1,2})\b`,
	),
	FieldBathrooms: compileFamily(
		countWord+`\s*(?:banos?(?:\s*completos?)?|bathrooms?|baths?)\b`,
		`banos?(?:\s*completos?)?\s*:?\s*(\d{1,2})\b`,
	),
	FieldParking: compileFamily(
		countWord+`\s*(?:estacionamientos?|cajon(?:es)?|lugares?\s*de\s*estacionamiento|parking|garages?)\b`,
		`(?:estacionamientos?|cochera|garage)\s*(?:techad[oa]\s*)?(?:para\s*)?:?\s*`+countWord+`\b`,
	),
	FieldBuiltSize: compileFamily(
		areaNumber+`\s*`+areaUnit+`\s*(?:de\s*)?(?:construccion|construidos?|const\b|cubiertos?|built)`,
		`(?:construccion|construidos?|superficie\s*construida|area\s*construida)\s*(?:de\s*)?:?\s*`+areaNumber+`\s*`+areaUnit,
	),
	FieldLotSize: compileFamily(
		areaNumber+`\s*`+areaUnit+`\s*(?:de\s*)?(?:terreno|lote|totales?|tot\b|superficie)`,
		`(?:terreno|lote|superficie\s*(?:del\s*)?terreno|superficie\s*total)\s*(?:de\s*)?:?\s*`+areaNumber+`\s*`+areaUnit,
	),
}

// featureBounds reject implausible values, for example a year read as a bedroom count.
var featureBounds = map[string][2]float64{
	FieldBedrooms:      {0, 50},
	FieldHalfBathrooms: {0, 20},
	FieldBathrooms:     {0, 50},
	FieldParking:       {0, 100},
	FieldBuiltSize:     {1, 1_000_000},
	FieldLotSize:       {1, 100_000_000},
}

func compileFamily(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// mineFeatures scans text with every feature family and returns the first plausible match
// per field.
func mineFeatures(text string) map[string]float64 {
	folded := fold(text)
	found := make(map[string]float64)
	if folded == "" {
		return found
	}
	for _, field := range validatedFields {
		for _, re := range featureFamilies[field] {
			m := re.FindStringSubmatch(folded)
			if len(m) < 2 {
				continue
			}
			n, ok := parseFeatureValue(field, m[1])
			if !ok {
				continue
			}
			found[field] = n
			break
		}
	}
	return found
}

func parseFeatureValue(field, raw string) (float64, bool) {
	var n float64
	if v, ok := numberWords[raw]; ok {
		n = float64(v)
	} else if m := halfCount.FindStringSubmatch(raw); m != nil && !isAreaField(field) {
		i, _ := strconv.Atoi(m[1])
		n = float64(i)
	} else if i, err := strconv.Atoi(raw); err == nil {
		n = float64(i)
	} else {
		f, ok := parseNumber(raw)
		if !ok {
			return 0, false
		}
		n = f
	}
	bounds := featureBounds[field]
	if n < bounds[0] || n > bounds[1] {
		return 0, false
	}
	return n, true
}

func isAreaField(field string) bool {
	return field == FieldBuiltSize || field == FieldLotSize
}

// textLayer mines the title and description. Its numbers only feed cross-validation; its
// amenity tags are unioned with the other layers.
func (e *Engine) textLayer(title, description string) (*values, []string) {
	v := newValues(LayerText)
	text := title + ". " + description
	for field, n := range mineFeatures(text) {
		v.setNum(field, n)
	}
	return v, e.amenities.tags(text)
}
