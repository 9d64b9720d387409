// Package domain defines the parameter and export model shared by the
// orchestration core, the session backends and the CLI.
package domain

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParameterType enumerates the value kinds a parameter may carry.
type ParameterType string

const (
	// TypeString is a free-form string bounded by MaxLength.
	TypeString ParameterType = "string"
	// TypeFloat is a real number bounded by Min/Max.
	TypeFloat ParameterType = "float"
	// TypeInt is an integer bounded by Min/Max.
	TypeInt ParameterType = "int"
	// TypeEven is an even integer bounded by Min/Max.
	TypeEven ParameterType = "even"
	// TypeOdd is an odd integer bounded by Min/Max.
	TypeOdd ParameterType = "odd"
	// TypeBool is a boolean toggle.
	TypeBool ParameterType = "bool"
	// TypeStringList selects one entry out of Choices.
	TypeStringList ParameterType = "stringlist"
	// TypeColor is a hex color (#RRGGBB, #RRGGBBAA, 0xRRGGBB or 0xRRGGBBAA).
	TypeColor ParameterType = "color"
)

// ParameterDefinition describes a single tunable input. Definitions are
// immutable values; two definitions describe the same parameter shape when
// Equal reports true.
type ParameterDefinition struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	DisplayName  string        `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Type         ParameterType `json:"type" yaml:"type"`
	Min          *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *float64      `json:"max,omitempty" yaml:"max,omitempty"`
	Decimals     int           `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	MaxLength    int           `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Choices      []string      `json:"choices,omitempty" yaml:"choices,omitempty"`
	DefaultValue any           `json:"default_value" yaml:"default"`
	Structure    string        `json:"structure,omitempty" yaml:"structure,omitempty"`
	Group        string        `json:"group,omitempty" yaml:"group,omitempty"`
	Order        int           `json:"order,omitempty" yaml:"order,omitempty"`
	Hidden       bool          `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// Equal reports whether two definitions are structurally identical.
func (d ParameterDefinition) Equal(other ParameterDefinition) bool {
	return reflect.DeepEqual(d, other)
}

// Label returns the display name, falling back to the name and then the id.
func (d ParameterDefinition) Label() string {
	switch {
	case d.DisplayName != "":
		return d.DisplayName
	case d.Name != "":
		return d.Name
	default:
		return d.ID
	}
}

// ExportDefinition describes a derived artifact a session can compute.
type ExportDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Group       string `json:"group,omitempty" yaml:"group,omitempty"`
	Order       int    `json:"order,omitempty" yaml:"order,omitempty"`
	Hidden      bool   `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

var colorPattern = regexp.MustCompile(`^(#|0x)[0-9a-fA-F]{6}([0-9a-fA-F]{2})?$`)

// ValidateValue applies the default validation rules for the definition's type.
func ValidateValue(def ParameterDefinition, value any) bool {
	if value == nil {
		return false
	}
	switch def.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return false
		}
		return def.MaxLength <= 0 || utf8.RuneCountInString(s) <= def.MaxLength
	case TypeFloat:
		f, ok := AsFloat(value)
		return ok && def.inBounds(f)
	case TypeInt, TypeEven, TypeOdd:
		f, ok := AsFloat(value)
		if !ok || f != math.Trunc(f) || !def.inBounds(f) {
			return false
		}
		parity := int64(f) % 2
		switch def.Type {
		case TypeEven:
			return parity == 0
		case TypeOdd:
			return parity != 0
		}
		return true
	case TypeBool:
		_, ok := AsBool(value)
		return ok
	case TypeStringList:
		s, ok := value.(string)
		return ok && slices.Contains(def.Choices, s)
	case TypeColor:
		s, ok := value.(string)
		return ok && colorPattern.MatchString(s)
	default:
		return false
	}
}

func (d ParameterDefinition) inBounds(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	if d.Min != nil && f < *d.Min {
		return false
	}
	if d.Max != nil && f > *d.Max {
		return false
	}
	return true
}

// StringifyValue renders a value the way the backend expects to receive it.
func StringifyValue(def ParameterDefinition, value any) string {
	switch def.Type {
	case TypeFloat:
		if f, ok := AsFloat(value); ok {
			return strconv.FormatFloat(f, 'f', def.Decimals, 64)
		}
	case TypeInt, TypeEven, TypeOdd:
		if f, ok := AsFloat(value); ok {
			return strconv.FormatInt(int64(f), 10)
		}
	case TypeBool:
		if b, ok := AsBool(value); ok {
			return strconv.FormatBool(b)
		}
	case TypeColor:
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
	}
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// ParseValue converts textual input (flags, query strings) into the Go value
// kind the definition's type uses.
func ParseValue(def ParameterDefinition, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch def.Type {
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s as float: %w", def.ID, err)
		}
		return f, nil
	case TypeInt, TypeEven, TypeOdd:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s as integer: %w", def.ID, err)
		}
		return i, nil
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s as bool: %w", def.ID, err)
		}
		return b, nil
	default:
		return raw, nil
	}
}

// AsFloat converts numeric values, and strings holding numbers, to float64.
func AsFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsBool accepts bools and their "true"/"false" spellings.
func AsBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}
