package mapper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind discriminates the typed value variants a field slot can hold
type Kind string

const (
	KindText     Kind = "text"
	KindTextList Kind = "text_list"
	KindDate     Kind = "date"
	KindNumber   Kind = "number"
	KindBool     Kind = "bool"
	// KindEmpty marks a field whose source data is absent. It is distinct
	// from a missing map entry: callers can tell "synced as empty" from
	// "never synced".
	KindEmpty Kind = "empty"
)

// Value is the typed variant stored in a field slot
type Value struct {
	Kind   Kind      `json:"kind"`
	Text   string    `json:"text,omitempty"`
	List   []string  `json:"list,omitempty"`
	Date   time.Time `json:"date,omitempty"`
	Number float64   `json:"number,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
}

// TextValue returns a text value
func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// ListValue returns a list-of-text value
func ListValue(items []string) Value {
	return Value{Kind: KindTextList, List: items}
}

// DateValue returns a date value
func DateValue(t time.Time) Value {
	return Value{Kind: KindDate, Date: t}
}

// NumberValue returns a numeric value
func NumberValue(n float64) Value {
	return Value{Kind: KindNumber, Number: n}
}

// BoolValue returns a boolean value
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// Empty returns the explicit empty sentinel
func Empty() Value {
	return Value{Kind: KindEmpty}
}

// IsEmpty reports whether the value is the empty sentinel
func (v Value) IsEmpty() bool {
	return v.Kind == KindEmpty
}

// Equal reports whether two values are equal. List comparison is
// order-insensitive since memberships carry no ordering.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == other.Text
	case KindTextList:
		if len(v.List) != len(other.List) {
			return false
		}
		a := append([]string(nil), v.List...)
		b := append([]string(nil), other.List...)
		sort.Strings(a)
		sort.Strings(b)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	case KindDate:
		return v.Date.Equal(other.Date)
	case KindNumber:
		return v.Number == other.Number
	case KindBool:
		return v.Bool == other.Bool
	case KindEmpty:
		return true
	}
	return false
}

// String renders the value for reports and logs
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindTextList:
		return strings.Join(v.List, ", ")
	case KindDate:
		return v.Date.Format(time.RFC3339)
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindEmpty:
		return "-"
	}
	return ""
}

// MarshalValue serializes a value for persistence
func MarshalValue(v Value) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return string(data), nil
}

// UnmarshalValue deserializes a persisted value
func UnmarshalValue(data string) (Value, error) {
	var v Value
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return Value{}, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return v, nil
}
