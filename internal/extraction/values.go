package extraction

import (
	"fmt"
	"strings"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

// values is what one extraction layer found, keyed by field. Within a layer the first value
// set for a field wins.
type values struct {
	layer string
	text  map[string]string
	num   map[string]float64
	list  map[string][]string
	ops   []domain.Operation
}

func newValues(layer string) *values {
	return &values{
		layer: layer,
		text:  make(map[string]string),
		num:   make(map[string]float64),
		list:  make(map[string][]string),
	}
}

func (v *values) setText(field, s string) bool {
	s = collapse(s)
	if s == "" {
		return false
	}
	if _, ok := v.text[field]; ok {
		return false
	}
	v.text[field] = s
	return true
}

func (v *values) setNum(field string, n float64) bool {
	if _, ok := v.num[field]; ok {
		return false
	}
	v.num[field] = n
	return true
}

func (v *values) setList(field string, items []string) bool {
	cleaned := make([]string, 0, len(items))
	for _, it := range items {
		if it = collapse(it); it != "" {
			cleaned = append(cleaned, it)
		}
	}
	if len(cleaned) == 0 {
		return false
	}
	if _, ok := v.list[field]; ok {
		return false
	}
	v.list[field] = cleaned
	return true
}

// setRaw stores a raw string under field, parsing it according to the field's kind.
// It reports an error only for a numeric field whose value does not parse.
func (v *values) setRaw(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	switch {
	case numericFields[field]:
		n, ok := parseNumericField(field, raw)
		if !ok {
			return fmt.Errorf("%s value %q is not numeric", field, raw)
		}
		v.setNum(field, n)
	case listFields[field]:
		v.setList(field, strings.Split(raw, ","))
	default:
		v.setText(field, raw)
	}
	return nil
}

func parseNumericField(field, raw string) (float64, bool) {
	if field == FieldLatitude || field == FieldLongitude {
		return parseCoordinate(raw)
	}
	return parseNumber(raw)
}

func (v *values) hasNum(field string) bool {
	_, ok := v.num[field]
	return ok
}
