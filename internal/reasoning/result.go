package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
)

// ToolName is the only tool the reasoning service may answer with.
const ToolName = "record_unified_property"

const maxQualityScore = 100

// ErrInvalidResult is returned when the tool input is missing a required field or has a field
// of the wrong type.
var ErrInvalidResult = errors.New("invalid reasoning result")

// UnifiedFields are the canonical attribute values proposed for the property.
type UnifiedFields struct {
	Title         string             `json:"title"`
	PropertyType  string             `json:"property_type"`
	Operations    []domain.Operation `json:"operations"`
	Bedrooms      *int               `json:"bedrooms"`
	Bathrooms     *int               `json:"bathrooms"`
	HalfBathrooms *int               `json:"half_bathrooms"`
	Parking       *int               `json:"parking"`
	BuiltSizeM2   *float64           `json:"built_size_m2"`
	LotSizeM2     *float64           `json:"lot_size_m2"`
	Address       string             `json:"address"`
	Neighborhood  string             `json:"neighborhood"`
	City          string             `json:"city"`
	State         string             `json:"state"`
	PostalCode    string             `json:"postal_code"`
	Latitude      *float64           `json:"latitude"`
	Longitude     *float64           `json:"longitude"`
	Amenities     []string           `json:"amenities"`
}

// Result is a validated unification answer.
type Result struct {
	Fields           UnifiedFields        `json:"unified_fields"`
	Description      string               `json:"description"`
	FieldSources     map[string]string    `json:"field_sources"`
	Discrepancies    []domain.Discrepancy `json:"discrepancies"`
	QualityScore     int                  `json:"-"`
	GeocodingAddress string               `json:"geocoding_address"`

	Model        string          `json:"-"`
	InputTokens  int64           `json:"-"`
	OutputTokens int64           `json:"-"`
	Raw          json.RawMessage `json:"-"`
}

// ParseResult validates raw tool input and decodes it. Presence and JSON types are checked
// first so a wrongly typed field is rejected rather than coerced.
func ParseResult(raw json.RawMessage, mode domain.UnificationMode) (*Result, error) {
	if !gjson.ValidBytes(raw) {
		return nil, invalid("tool input is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)

	fields := doc.Get("unified_fields")
	if !fields.IsObject() {
		return nil, invalid("unified_fields must be an object")
	}
	if title := fields.Get("title"); title.Type != gjson.String || title.Str == "" {
		return nil, invalid("unified_fields.title must be a non-empty string")
	}
	if desc := doc.Get("description"); desc.Type != gjson.String || desc.Str == "" {
		return nil, invalid("description must be a non-empty string")
	}

	score := doc.Get("quality_score")
	if score.Type != gjson.Number {
		return nil, invalid("quality_score must be a number")
	}
	if score.Num != math.Trunc(score.Num) {
		return nil, invalid(fmt.Sprintf("quality_score %v must be an integer", score.Num))
	}
	if score.Num < 0 || score.Num > maxQualityScore {
		return nil, invalid(fmt.Sprintf("quality_score %v outside 0-100", score.Num))
	}

	if !doc.Get("discrepancies").IsArray() {
		return nil, invalid("discrepancies must be an array")
	}
	for i, d := range doc.Get("discrepancies").Array() {
		if d.Get("field").Type != gjson.String {
			return nil, invalid(fmt.Sprintf("discrepancies[%d].field must be a string", i))
		}
	}

	sources := doc.Get("field_sources")
	if mode == domain.UnificationModeMerge && !sources.IsObject() {
		return nil, invalid("field_sources must be an object for multi-source groups")
	}
	if sources.Exists() && !sources.IsObject() && sources.Type != gjson.Null {
		return nil, invalid("field_sources must be an object")
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, invalid(err.Error())
	}
	result.QualityScore = int(score.Num)
	result.Raw = append(json.RawMessage(nil), raw...)

	return &result, nil
}

func invalid(reason string) error {
	return failure.Wrap(failure.KindInvalidData, fmt.Errorf("%w: %s", ErrInvalidResult, reason))
}

// unificationTool describes the tool input schema. Field attribution is only required when
// several listings are merged.
func unificationTool(mode domain.UnificationMode) anthropic.ToolUnionParam {
	required := []string{"unified_fields", "description", "discrepancies", "quality_score"}
	if mode == domain.UnificationModeMerge {
		required = append(required, "field_sources")
	}

	tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
		Properties: map[string]any{
			"unified_fields": map[string]any{
				"type":     "object",
				"required": []string{"title"},
				"properties": map[string]any{
					"title":          stringProp("Canonical listing title"),
					"property_type":  stringProp("house, apartment, land, commercial, office or other"),
					"operations":     operationsProp(),
					"bedrooms":       integerProp(),
					"bathrooms":      integerProp(),
					"half_bathrooms": integerProp(),
					"parking":        integerProp(),
					"built_size_m2":  numberProp(),
					"lot_size_m2":    numberProp(),
					"address":        stringProp("Street address"),
					"neighborhood":   stringProp("Neighborhood or colonia"),
					"city":           stringProp("City or municipality"),
					"state":          stringProp("State"),
					"postal_code":    stringProp("Postal code"),
					"latitude":       numberProp(),
					"longitude":      numberProp(),
					"amenities": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
			},
			"description": stringProp("Prose description of the property written from all sources"),
			"field_sources": map[string]any{
				"type":                 "object",
				"description":          "Maps each unified field to the listing id its value came from",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"discrepancies": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"field", "values"},
					"properties": map[string]any{
						"field":        stringProp("Field name"),
						"values":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"chosen_value": stringProp("Value kept on the property, empty when unresolved"),
						"resolution":   stringProp("How the disagreement was resolved"),
					},
				},
			},
			"quality_score": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": maxQualityScore,
			},
			"geocoding_address": stringProp("Cleaned single-line address suitable for geocoding, if one can be derived"),
		},
		Required: required,
	}, ToolName)

	tool.OfTool.Description = anthropic.String("Record the single canonical property described by the listings.")
	return tool
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProp() map[string]any {
	return map[string]any{"type": []string{"integer", "null"}}
}

func numberProp() map[string]any {
	return map[string]any{"type": []string{"number", "null"}}
}

func operationsProp() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":     "object",
			"required": []string{"type", "price", "currency"},
			"properties": map[string]any{
				"type":     map[string]any{"type": "string", "enum": []string{"sale", "rent", "temporary_rent"}},
				"price":    map[string]any{"type": "number"},
				"currency": stringProp("ISO 4217 code"),
			},
		},
	}
}
