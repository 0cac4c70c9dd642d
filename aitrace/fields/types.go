package fields

import (
	"aitrace_platform/aitrace/schema"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	Boolean = "boolean"
	Enum    = "enum"
	Text    = "text"
	Numeric = "numeric"
)

func IsValidType(fieldType string) bool {
	switch fieldType {
	case Boolean, Enum, Text, Numeric:
		return true
	}
	return false
}

// FieldConfig holds the settings that are legal for one field type.
type FieldConfig interface {
	FieldType() string
	check() error
}

type BooleanConfig struct{}

func (BooleanConfig) FieldType() string { return Boolean }
func (BooleanConfig) check() error      { return nil }

type EnumConfig struct {
	Options []string `json:"options"`
}

func (EnumConfig) FieldType() string { return Enum }

func (c EnumConfig) check() error {
	if len(c.Options) == 0 {
		return errors.New("enum fields need at least one option")
	}
	seen := make(map[string]bool, len(c.Options))
	for _, opt := range c.Options {
		if opt == "" {
			return errors.New("enum options cannot be empty")
		}
		if seen[opt] {
			return fmt.Errorf("enum option '%v' is repeated", opt)
		}
		seen[opt] = true
	}
	return nil
}

func (c EnumConfig) HasOption(value string) bool {
	return slices.Contains(c.Options, value)
}

type TextConfig struct {
	MaxLength *int `json:"max_length,omitempty"`
	Multiline bool `json:"multiline,omitempty"`
}

func (TextConfig) FieldType() string { return Text }

func (c TextConfig) check() error {
	if c.MaxLength != nil && *c.MaxLength <= 0 {
		return errors.New("max_length must be positive")
	}
	return nil
}

type NumericConfig struct {
	Decimal bool     `json:"decimal,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
}

func (NumericConfig) FieldType() string { return Numeric }

func (c NumericConfig) check() error {
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return fmt.Errorf("min %v is greater than max %v", *c.Min, *c.Max)
	}
	return nil
}

func decodeStrict(raw []byte, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func isEmptyConfig(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

// DecodeConfig parses the stored or submitted config of a field, rejecting keys
// that do not belong to the field's type.
func DecodeConfig(fieldType string, raw []byte) (FieldConfig, error) {
	var config FieldConfig

	switch fieldType {
	case Boolean:
		if !isEmptyConfig(raw) {
			return nil, errors.New("boolean fields do not take a config")
		}
		config = BooleanConfig{}
	case Enum:
		var c EnumConfig
		if isEmptyConfig(raw) {
			return nil, errors.New("enum fields need a config with options")
		}
		if err := decodeStrict(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid enum config: %w", err)
		}
		config = c
	case Text:
		var c TextConfig
		if !isEmptyConfig(raw) {
			if err := decodeStrict(raw, &c); err != nil {
				return nil, fmt.Errorf("invalid text config: %w", err)
			}
		}
		config = c
	case Numeric:
		var c NumericConfig
		if !isEmptyConfig(raw) {
			if err := decodeStrict(raw, &c); err != nil {
				return nil, fmt.Errorf("invalid numeric config: %w", err)
			}
		}
		config = c
	default:
		return nil, fmt.Errorf("unknown field type '%v'", fieldType)
	}

	if err := config.check(); err != nil {
		return nil, err
	}
	return config, nil
}

func EncodeConfig(config FieldConfig) ([]byte, error) {
	if _, ok := config.(BooleanConfig); ok {
		return []byte("{}"), nil
	}
	return json.Marshal(config)
}

// Field is a schema field with its config decoded.
type Field struct {
	Id           uuid.UUID
	Name         string
	Type         string
	Required     bool
	DefaultValue *string
	Position     int
	Config       FieldConfig
}

func FromSchemaField(f schema.SchemaField) (Field, error) {
	config, err := DecodeConfig(f.Type, f.Config)
	if err != nil {
		return Field{}, fmt.Errorf("field %v has invalid config: %w", f.Name, err)
	}
	return Field{
		Id:           f.Id,
		Name:         f.Name,
		Type:         f.Type,
		Required:     f.Required,
		DefaultValue: f.DefaultValue,
		Position:     f.Position,
		Config:       config,
	}, nil
}

// LoadFields decodes the fields of a schema loaded with its fields, in position order.
func LoadFields(s schema.Schema) ([]Field, error) {
	fields := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		field, err := FromSchemaField(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	sortByPosition(fields)
	return fields, nil
}

func sortByPosition(fields []Field) {
	slices.SortStableFunc(fields, func(a, b Field) int { return a.Position - b.Position })
}

// checkDefault verifies that a default value, which is stored as text, is legal for the field.
func checkDefault(field Field) error {
	if field.DefaultValue == nil || *field.DefaultValue == "" {
		return nil
	}
	def := *field.DefaultValue

	switch c := field.Config.(type) {
	case BooleanConfig:
		if _, err := strconv.ParseBool(def); err != nil {
			return fmt.Errorf("default value '%v' is not a boolean", def)
		}
	case EnumConfig:
		if !c.HasOption(def) {
			return fmt.Errorf("default value '%v' is not one of the options", def)
		}
	case TextConfig:
		if c.MaxLength != nil && utf8.RuneCountInString(def) > *c.MaxLength {
			return fmt.Errorf("default value is longer than max_length %d", *c.MaxLength)
		}
	case NumericConfig:
		value, err := strconv.ParseFloat(def, 64)
		if err != nil {
			return fmt.Errorf("default value '%v' is not a number", def)
		}
		if err := checkNumber(c, value); err != nil {
			return fmt.Errorf("default value: %w", err)
		}
	}
	return nil
}
