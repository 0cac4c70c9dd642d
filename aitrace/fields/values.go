package fields

import (
	"aitrace_platform/aitrace/schema"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CalculateStatus returns reviewed iff every required field has a value that is
// neither null nor the empty string.
func CalculateStatus(data map[string]interface{}, requiredFieldIds []string) string {
	for _, id := range requiredFieldIds {
		value, ok := data[id]
		if !ok || value == nil {
			return schema.StatusPending
		}
		if s, isString := value.(string); isString && s == "" {
			return schema.StatusPending
		}
	}
	return schema.StatusReviewed
}

func RequiredFieldIds(fields []Field) []string {
	ids := make([]string, 0)
	for _, f := range fields {
		if f.Required {
			ids = append(ids, f.Id.String())
		}
	}
	return ids
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func checkNumber(c NumericConfig, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%v is not a finite number", value)
	}
	if !c.Decimal && value != math.Trunc(value) {
		return fmt.Errorf("%v is not a whole number", value)
	}
	if c.Min != nil && value < *c.Min {
		return fmt.Errorf("%v is below the minimum %v", value, *c.Min)
	}
	if c.Max != nil && value > *c.Max {
		return fmt.Errorf("%v is above the maximum %v", value, *c.Max)
	}
	return nil
}

// ValidateValue checks a single value against the field's type and config. Null
// and the empty string always pass, completeness is handled by the row status.
func ValidateValue(field Field, value interface{}) error {
	if value == nil {
		return nil
	}
	if s, ok := value.(string); ok && s == "" {
		return nil
	}

	switch c := field.Config.(type) {
	case BooleanConfig:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %v expects a boolean", field.Name)
		}
	case EnumConfig:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %v expects one of %v", field.Name, c.Options)
		}
		if !c.HasOption(s) {
			return fmt.Errorf("field %v: '%v' is not one of %v", field.Name, s, c.Options)
		}
	case TextConfig:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %v expects text", field.Name)
		}
		if c.MaxLength != nil && utf8.RuneCountInString(s) > *c.MaxLength {
			return fmt.Errorf("field %v is longer than %d characters", field.Name, *c.MaxLength)
		}
	case NumericConfig:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("field %v expects a number", field.Name)
		}
		if err := checkNumber(c, f); err != nil {
			return fmt.Errorf("field %v: %w", field.Name, err)
		}
	default:
		return fmt.Errorf("field %v has unknown type %v", field.Name, field.Type)
	}
	return nil
}

// ValidateData checks that every key of data is a field id of the schema and that
// every value is legal for its field.
func ValidateData(fields []Field, data map[string]interface{}) error {
	byId := make(map[string]Field, len(fields))
	for _, f := range fields {
		byId[f.Id.String()] = f
	}

	for key, value := range data {
		field, ok := byId[key]
		if !ok {
			return fmt.Errorf("'%v' is not a field of the dataset schema", key)
		}
		if err := ValidateValue(field, value); err != nil {
			return err
		}
	}
	return nil
}

// CoerceCSVValue converts a csv cell to the json value stored for the field. An
// empty cell yields nil, meaning the field is left out of the row.
func CoerceCSVValue(field Field, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var value interface{}
	switch field.Type {
	case Boolean:
		switch strings.ToLower(raw) {
		case "true", "1", "yes":
			value = true
		case "false", "0", "no":
			value = false
		default:
			return nil, fmt.Errorf("field %v: '%v' is not a boolean", field.Name, raw)
		}
	case Numeric:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("field %v: '%v' is not a number", field.Name, raw)
		}
		value = f
	default:
		value = raw
	}

	if err := ValidateValue(field, value); err != nil {
		return nil, err
	}
	return value, nil
}

// FormatValue renders a stored value as a csv cell, the inverse of CoerceCSVValue.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if f, ok := toFloat(value); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
