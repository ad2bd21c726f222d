package extraction

import (
	"slices"
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
)

// amenityKeywords maps folded keywords to canonical amenity tags. Keywords match whole words;
// the "s" and "es" plurals of a keyword match too.
var amenityKeywords = map[string]string{
	"alberca":              "pool",
	"piscina":              "pool",
	"pool":                 "pool",
	"jacuzzi":              "jacuzzi",
	"hidromasaje":          "jacuzzi",
	"gimnasio":             "gym",
	"gym":                  "gym",
	"seguridad 24":         "security_24h",
	"vigilancia 24":        "security_24h",
	"24 7":                 "security_24h",
	"seguridad privada":    "security",
	"vigilancia":           "security",
	"caseta de vigilancia": "security",
	"coto":                 "gated_community",
	"privada":              "gated_community",
	"fraccionamiento":      "gated_community",
	"acceso controlado":    "gated_community",
	"elevador":             "elevator",
	"ascensor":             "elevator",
	"jardin":               "garden",
	"area verde":           "garden",
	"areas verdes":         "garden",
	"terraza":              "terrace",
	"roof garden":          "roof_garden",
	"roof top":             "roof_garden",
	"rooftop":              "roof_garden",
	"balcon":               "balcony",
	"asador":               "bbq",
	"area de asador":       "bbq",
	"bbq":                  "bbq",
	"parrilla":             "bbq",
	"salon de eventos":     "event_room",
	"salon de usos":        "event_room",
	"casa club":            "clubhouse",
	"club house":           "clubhouse",
	"area de juegos":       "playground",
	"juegos infantiles":    "playground",
	"cancha":               "sports_court",
	"padel":                "sports_court",
	"tenis":                "sports_court",
	"cuarto de servicio":   "service_room",
	"cuarto de lavado":     "laundry_room",
	"area de lavado":       "laundry_room",
	"lavanderia":           "laundry_room",
	"bodega":               "storage",
	"estudio":              "study",
	"amueblado":            "furnished",
	"amueblada":            "furnished",
	"mascotas":             "pet_friendly",
	"pet friendly":         "pet_friendly",
	"aire acondicionado":   "air_conditioning",
	"minisplit":            "air_conditioning",
	"calefaccion":          "heating",
	"chimenea":             "fireplace",
	"paneles solares":      "solar_panels",
	"calentador solar":     "solar_panels",
	"cisterna":             "cistern",
	"vista al mar":         "ocean_view",
	"frente al mar":        "beachfront",
	"cocina integral":      "integrated_kitchen",
	"walk in closet":       "walk_in_closet",
	"vestidor":             "walk_in_closet",
	"business center":      "business_center",
	"coworking":            "business_center",
	"cine":                 "cinema",
	"spa":                  "spa",
	"sauna":                "sauna",
	"vapor":                "steam_room",
	"lobby":                "lobby",
	"portero":              "doorman",
	"conserje":             "doorman",
	"planta de luz":        "power_generator",
	"generador":            "power_generator",
}

// amenityMatcher finds amenity keywords in folded text in a single pass.
type amenityMatcher struct {
	keywords []string
	tagsByKW map[string]string
	matcher  *ahocorasick.Matcher
}

func newAmenityMatcher(table map[string]string) *amenityMatcher {
	keywords := make([]string, 0, 3*len(table))
	tagsByKW := make(map[string]string, 3*len(table))
	for kw, tag := range table {
		base := matchText(kw)
		for _, variant := range []string{base, base + "s", base + "es"} {
			padded := padWords(variant)
			if _, dup := tagsByKW[padded]; dup {
				continue
			}
			keywords = append(keywords, padded)
			tagsByKW[padded] = tag
		}
	}
	slices.Sort(keywords)
	return &amenityMatcher{
		keywords: keywords,
		tagsByKW: tagsByKW,
		matcher:  ahocorasick.NewStringMatcher(keywords),
	}
}

// tags returns the canonical tags whose keywords occur in text, sorted. A keyword found only
// inside a longer matched keyword does not count, so "seguridad privada" is not a "privada".
func (m *amenityMatcher) tags(text string) []string {
	padded := padWords(matchText(text))
	var found []string
	for _, idx := range m.matcher.Match([]byte(padded)) {
		if idx < len(m.keywords) {
			found = append(found, m.keywords[idx])
		}
	}

	out := make([]string, 0, len(found))
	for _, kw := range found {
		standalone := strings.Count(padded, kw)
		for _, longer := range found {
			if longer != kw && strings.Contains(longer, kw) {
				standalone -= strings.Count(padded, longer) * strings.Count(longer, kw)
			}
		}
		if standalone > 0 {
			out = append(out, m.tagsByKW[kw])
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// padWords surrounds every word of already matched text with its own spaces, so adjacent
// keyword occurrences never share a separator.
func padWords(s string) string {
	return " " + strings.ReplaceAll(s, " ", "  ") + " "
}

// matchText folds s and replaces everything but letters and digits with single spaces.
func matchText(s string) string {
	folded := fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return collapse(b.String())
}

// canonicalAmenities maps a raw amenity label onto its tags. Unmapped labels are kept
// verbatim, trimmed, so no information is dropped.
func (m *amenityMatcher) canonicalAmenities(raw string) []string {
	raw = collapse(raw)
	if raw == "" {
		return nil
	}
	if tags := m.tags(raw); len(tags) > 0 {
		return tags
	}
	return []string{raw}
}

// mergeAmenities unions amenity labels from every source, applying the tag table and
// collapsing duplicates. First occurrence wins the position.
func (m *amenityMatcher) mergeAmenities(sources ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, src := range sources {
		for _, raw := range src {
			for _, tag := range m.canonicalAmenities(raw) {
				key := strings.ToLower(tag)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, tag)
			}
		}
	}
	return out
}
