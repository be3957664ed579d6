package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Metadata is an open-ended JSON object stored alongside a track. The store
// treats it as opaque: the bytes are kept verbatim and never queried. A nil
// bag means "no metadata" and is distinct from an empty object.
type Metadata json.RawMessage

var errMetadataNotObject = errors.New("metadata must be a JSON object")

// NewMetadata encodes fields as a bag. Empty or nil fields give a nil bag.
func NewMetadata(fields map[string]any) (Metadata, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return Metadata(b), nil
}

// Validate reports whether the bag is empty or holds a single JSON object.
func (m Metadata) Validate() error {
	if len(m) == 0 {
		return nil
	}
	if !json.Valid(m) {
		return errors.New("metadata is not valid JSON")
	}
	if trimmed := bytes.TrimSpace(m); len(trimmed) == 0 || trimmed[0] != '{' {
		return errMetadataNotObject
	}
	return nil
}

// Fields decodes the bag into a generic map for callers that need to look
// inside it.
func (m Metadata) Fields() (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(m, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return fields, nil
}

// MarshalJSON writes the stored bytes unchanged.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}

// UnmarshalJSON keeps a copy of the raw object. JSON null gives a nil bag.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}
	raw := Metadata(bytes.Clone(data))
	if err := raw.Validate(); err != nil {
		return err
	}
	*m = raw
	return nil
}

// Value implements driver.Valuer. A nil bag is stored as the empty string.
func (m Metadata) Value() (driver.Value, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return string(m), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
	case string:
		*m = scanned([]byte(v))
	case []byte:
		*m = scanned(bytes.Clone(v))
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}
	return nil
}

func scanned(b []byte) Metadata {
	if len(b) == 0 {
		return nil
	}
	return Metadata(b)
}
