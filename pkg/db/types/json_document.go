package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONDocument is an opaque JSON object persisted as text. Sqlite stores it in a
// TEXT column and postgres in jsonb.
type JSONDocument map[string]any

func (d *JSONDocument) Scan(src any) error {
	if src == nil {
		*d = JSONDocument{}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("JSONDocument: unsupported Scan type %T", src)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*d = JSONDocument{}
		return nil
	}

	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("JSONDocument: decode: %w", err)
	}
	*d = JSONDocument(out)
	return nil
}

func (d JSONDocument) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, fmt.Errorf("JSONDocument: encode: %w", err)
	}
	return string(raw), nil
}

// Clone returns a shallow copy so callers can patch without touching the
// original map.
func (d JSONDocument) Clone() JSONDocument {
	out := make(JSONDocument, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the value stored under key when it is a string.
func (d JSONDocument) String(key string) string {
	if d == nil {
		return ""
	}
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}
