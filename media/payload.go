package media

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Flag decodes the loosely typed "deleted" marker sent by admin forms: 1, "1", true.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// FieldPayload is one entry of the submitted value of an image field.
type FieldPayload struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Deleted Flag   `json:"deleted"`
}

// FirstPayload returns the first entry, or nil when the field was not submitted.
func FirstPayload(entries []FieldPayload) *FieldPayload {
	if len(entries) == 0 {
		return nil
	}
	return &entries[0]
}

// ParseFieldPayload decodes a raw field value, which may be a list or a single object.
func ParseFieldPayload(raw json.RawMessage) (*FieldPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var entries []FieldPayload
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, validationError("Image field payload is malformed.")
		}
		return FirstPayload(entries), nil
	}
	var p FieldPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, validationError("Image field payload is malformed.")
	}
	return &p, nil
}
