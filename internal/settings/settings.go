// Package settings holds runtime configuration as typed key/value rows.
// Values are stored as text with a declared type; reads convert back to the
// native Go value. Public settings are visible to any caller, the rest only
// to admins.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeJSON    = "json"
)

var (
	ErrNotFound    = errors.New("settings: not found")
	ErrInvalidType = errors.New("settings: invalid type")
)

// Setting is one configuration row.
type Setting struct {
	Key         string    `json:"key"`
	RawValue    string    `json:"-"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Public      bool      `json:"is_public"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Value converts the stored text to its declared type.
func (s *Setting) Value() (any, error) {
	switch s.Type {
	case TypeString:
		return s.RawValue, nil
	case TypeInteger:
		n, err := strconv.ParseInt(s.RawValue, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("settings: %s: %w", s.Key, err)
		}
		return n, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(s.RawValue)
		if err != nil {
			return nil, fmt.Errorf("settings: %s: %w", s.Key, err)
		}
		return b, nil
	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(s.RawValue), &v); err != nil {
			return nil, fmt.Errorf("settings: %s: %w", s.Key, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidType, s.Type)
}

// SetValue stores a native value, checking it against the declared type.
func (s *Setting) SetValue(v any) error {
	switch s.Type {
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s expects a string", ErrInvalidType, s.Key)
		}
		s.RawValue = str
	case TypeInteger:
		switch n := v.(type) {
		case int:
			s.RawValue = strconv.Itoa(n)
		case int64:
			s.RawValue = strconv.FormatInt(n, 10)
		case float64:
			// JSON numbers decode as float64; accept whole values only.
			if n != float64(int64(n)) {
				return fmt.Errorf("%w: %s expects an integer", ErrInvalidType, s.Key)
			}
			s.RawValue = strconv.FormatInt(int64(n), 10)
		default:
			return fmt.Errorf("%w: %s expects an integer", ErrInvalidType, s.Key)
		}
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: %s expects a boolean", ErrInvalidType, s.Key)
		}
		s.RawValue = strconv.FormatBool(b)
	case TypeJSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("settings: %s: %w", s.Key, err)
		}
		s.RawValue = string(raw)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidType, s.Type)
	}
	return nil
}

// MarshalJSON renders the typed value instead of the raw text.
func (s *Setting) MarshalJSON() ([]byte, error) {
	v, err := s.Value()
	if err != nil {
		return nil, err
	}
	type alias Setting
	return json.Marshal(struct {
		*alias
		Val any `json:"value"`
	}{alias: (*alias)(s), Val: v})
}
