package extraction

import (
	"bytes"
	"maps"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

// minReadabilityText is the shortest readability text accepted as a description.
const minReadabilityText = 80

// imageAttrs are read in order for image sources; lazy-loading attributes come first.
var imageAttrs = []string{"data-src", "data-lazy", "data-flickity-lazyload", "src"}

// crumbNoise are breadcrumb labels that are not locations.
var crumbNoise = map[string]bool{
	"inicio":      true,
	"home":        true,
	"propiedades": true,
	"inmuebles":   true,
}

// markupLayer reads the platform selector sets. For every field the first selector with a
// non-empty match wins; a field with no match stays empty.
func (e *Engine) markupLayer(def *platform.Definition, p *page, warn func(string, ...any)) *values {
	v := newValues(LayerMarkup)

	for _, field := range slices.Sorted(maps.Keys(def.Listing.Selectors)) {
		selectors := def.Listing.Selectors[field]
		switch field {
		case FieldImages:
			v.setList(field, p.selectImages(selectors))
		case FieldFeatures:
			items := p.selectList(selectors)
			v.setList(field, items)
			for _, item := range items {
				for f, n := range mineFeatures(item) {
					v.setNum(f, n)
				}
			}
		case FieldAmenities, FieldBreadcrumbs, FieldLocationIDs:
			v.setList(field, p.selectList(selectors))
		case FieldPrice:
			readPrice(v, p.selectText(selectors), warn)
		default:
			raw := p.selectText(selectors)
			if err := v.setRaw(field, raw); err != nil {
				warn("selector %v", err)
			}
		}
	}

	v.setText(FieldTitle, p.meta("og:title"))
	v.setText(FieldTitle, p.title())
	v.setText(FieldDescription, p.meta("og:description"))
	v.setText(FieldDescription, p.meta("description"))
	if img := p.resolve(p.meta("og:image")); img != "" && len(v.list[FieldImages]) == 0 {
		v.setList(FieldImages, []string{img})
	}
	for _, geo := range [][2]string{
		{FieldLatitude, "place:location:latitude"},
		{FieldLongitude, "place:location:longitude"},
	} {
		if err := v.setRaw(geo[0], p.meta(geo[1])); err != nil {
			warn("meta %s: %v", geo[1], err)
		}
	}

	readLocation(v)

	if price, ok := v.num[FieldPrice]; ok && price > 0 {
		v.ops = append(v.ops, domain.Operation{
			Type:     normalizeOperation(def, v.text[FieldOperationType]),
			Price:    price,
			Currency: normalizeCurrency(v.text[FieldCurrency]),
		})
	}
	return v
}

// readPrice parses a rendered price such as "MN 3,500,000".
func readPrice(v *values, raw string, warn func(string, ...any)) {
	if raw == "" {
		return
	}
	amount, currency, ok := parsePriceText(raw)
	if !ok {
		warn("selector price %q is not numeric", raw)
		return
	}
	v.setNum(FieldPrice, amount)
	v.setText(FieldCurrency, currency)
}

// readLocation derives state, city and neighborhood from the breadcrumb trail and, failing
// that, from a comma-separated address ordered from most to least specific.
func readLocation(v *values) {
	var places []string
	for _, crumb := range v.list[FieldBreadcrumbs] {
		folded := fold(crumb)
		if crumbNoise[folded] || operationFromText(crumb) != "" || isPropertyTypeLabel(folded) {
			continue
		}
		places = append(places, crumb)
	}
	if len(places) > 0 {
		v.setText(FieldState, places[0])
		if len(places) > 1 {
			v.setText(FieldCity, places[1])
		}
		if len(places) > 2 {
			v.setText(FieldNeighborhood, places[len(places)-1])
		}
	}

	parts := strings.Split(v.text[FieldAddress], ",")
	for i := range parts {
		parts[i] = collapse(parts[i])
	}
	parts = slices.DeleteFunc(parts, func(s string) bool { return s == "" })
	n := len(parts)
	if n >= 2 {
		v.setText(FieldState, parts[n-1])
		v.setText(FieldCity, parts[n-2])
	}
	if n >= 3 {
		v.setText(FieldNeighborhood, parts[n-3])
	}
}

func isPropertyTypeLabel(folded string) bool {
	for _, kw := range propertyTypeKeywords {
		if strings.HasPrefix(folded, kw.keyword) {
			return true
		}
	}
	return false
}

// selectText returns the text of the first selector that matches something non-empty.
func (p *page) selectText(selectors []string) string {
	for _, sel := range selectors {
		var text string
		p.doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text = collapse(s.Text())
			return text == ""
		})
		if text != "" {
			return text
		}
	}
	return ""
}

// selectList returns the element texts of the first selector that matches anything.
func (p *page) selectList(selectors []string) []string {
	for _, sel := range selectors {
		var items []string
		p.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := collapse(s.Text()); text != "" {
				items = append(items, text)
			}
		})
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

// selectImages returns absolute image URLs from the first selector that yields any.
func (p *page) selectImages(selectors []string) []string {
	for _, sel := range selectors {
		var urls []string
		p.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			for _, attr := range imageAttrs {
				if src, ok := s.Attr(attr); ok {
					if u := p.resolve(src); u != "" {
						urls = append(urls, u)
						return
					}
				}
			}
		})
		if len(urls) > 0 {
			return urls
		}
	}
	return nil
}

// readabilityLayer recovers a description from the main article text when neither
// structured data nor selectors produced one.
func readabilityLayer(p *page, warn func(string, ...any)) *values {
	v := newValues(LayerReadability)
	article, err := readability.FromReader(bytes.NewReader(p.body), p.url)
	if err != nil {
		warn("readability: %v", err)
		return v
	}
	text := collapse(article.TextContent)
	if len(text) < minReadabilityText {
		return v
	}
	v.setText(FieldDescription, text)
	v.setText(FieldTitle, article.Title)
	return v
}
