package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// scanJSON decodes a JSONB column into dest. NULL and empty values leave dest untouched.
func scanJSON(value any, dest any) error {
	if value == nil {
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func valueJSON(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// JSONBMap is a free-form JSONB object.
type JSONBMap map[string]any

func (j *JSONBMap) Scan(value any) error { return scanJSON(value, j) }

func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return valueJSON(map[string]any(j))
}

// StringList is a JSONB array of strings.
type StringList []string

func (s *StringList) Scan(value any) error { return scanJSON(value, s) }

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return valueJSON([]string(s))
}

// StringMap is a JSONB object of string values.
type StringMap map[string]string

func (m *StringMap) Scan(value any) error { return scanJSON(value, m) }

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return valueJSON(map[string]string(m))
}

// RawJSON is a nullable JSONB document kept verbatim.
type RawJSON json.RawMessage

func (r *RawJSON) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = RawJSON(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	return nil
}

func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return []byte(r), nil
}

// MarshalJSON keeps the document inline when the owning struct is serialized.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores the document verbatim.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}
