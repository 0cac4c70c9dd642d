package fields

import (
	"aitrace_platform/aitrace/schema"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateStatus(t *testing.T) {
	assert.Equal(t, schema.StatusReviewed, CalculateStatus(map[string]interface{}{}, []string{}))
	assert.Equal(t, schema.StatusPending, CalculateStatus(map[string]interface{}{}, []string{"f1"}))
	assert.Equal(t, schema.StatusReviewed, CalculateStatus(map[string]interface{}{"f1": "x"}, []string{"f1"}))
	assert.Equal(t, schema.StatusPending, CalculateStatus(map[string]interface{}{"f1": ""}, []string{"f1"}))
	assert.Equal(t, schema.StatusPending, CalculateStatus(map[string]interface{}{"f1": nil}, []string{"f1"}))
	assert.Equal(t, schema.StatusReviewed, CalculateStatus(map[string]interface{}{"f1": false}, []string{"f1"}))
	assert.Equal(t, schema.StatusPending, CalculateStatus(map[string]interface{}{"f1": true}, []string{"f1", "f2"}))
	assert.Equal(t, schema.StatusReviewed, CalculateStatus(nil, nil))
}

func mustDecode(t *testing.T, fieldType, config string) FieldConfig {
	c, err := DecodeConfig(fieldType, []byte(config))
	require.NoError(t, err)
	return c
}

func TestDecodeConfigRejectsForeignKeys(t *testing.T) {
	_, err := DecodeConfig(Text, []byte(`{"options": ["a"]}`))
	assert.Error(t, err)

	_, err = DecodeConfig(Boolean, []byte(`{"multiline": true}`))
	assert.Error(t, err)

	_, err = DecodeConfig(Enum, []byte(`{}`))
	assert.Error(t, err)

	_, err = DecodeConfig(Enum, []byte(`{"options": ["a", "a"]}`))
	assert.Error(t, err)

	_, err = DecodeConfig(Numeric, []byte(`{"min": 5, "max": 1}`))
	assert.Error(t, err)

	_, err = DecodeConfig("date", nil)
	assert.Error(t, err)

	c := mustDecode(t, Text, `{"max_length": 10, "multiline": true}`)
	text := c.(TextConfig)
	assert.Equal(t, 10, *text.MaxLength)
	assert.True(t, text.Multiline)

	assert.IsType(t, BooleanConfig{}, mustDecode(t, Boolean, ``))
	assert.IsType(t, NumericConfig{}, mustDecode(t, Numeric, `null`))
}

func TestValidateValue(t *testing.T) {
	boolField := Field{Name: "predicted", Type: Boolean, Config: BooleanConfig{}}
	enumField := Field{Name: "color", Type: Enum, Config: mustDecode(t, Enum, `{"options": ["red", "blue"]}`)}
	textField := Field{Name: "name", Type: Text, Config: mustDecode(t, Text, `{"max_length": 3}`)}
	intField := Field{Name: "count", Type: Numeric, Config: mustDecode(t, Numeric, `{"min": 0, "max": 10}`)}
	decField := Field{Name: "score", Type: Numeric, Config: mustDecode(t, Numeric, `{"decimal": true}`)}

	assert.NoError(t, ValidateValue(boolField, true))
	assert.Error(t, ValidateValue(boolField, "true"))
	assert.NoError(t, ValidateValue(boolField, nil))
	assert.NoError(t, ValidateValue(boolField, ""))

	assert.NoError(t, ValidateValue(enumField, "red"))
	assert.Error(t, ValidateValue(enumField, "green"))

	assert.NoError(t, ValidateValue(textField, "abc"))
	assert.Error(t, ValidateValue(textField, "abcd"))
	assert.Error(t, ValidateValue(textField, 12.0))

	assert.NoError(t, ValidateValue(intField, 3.0))
	assert.Error(t, ValidateValue(intField, 3.5))
	assert.Error(t, ValidateValue(intField, 11.0))
	assert.Error(t, ValidateValue(intField, -1))
	assert.NoError(t, ValidateValue(decField, 3.5))
}

func TestValidateData(t *testing.T) {
	f := Field{Id: uuid.New(), Name: "predicted", Type: Boolean, Config: BooleanConfig{}}
	fields := []Field{f}

	assert.NoError(t, ValidateData(fields, map[string]interface{}{f.Id.String(): true}))
	assert.Error(t, ValidateData(fields, map[string]interface{}{"predicted": true}))
	assert.Error(t, ValidateData(fields, map[string]interface{}{f.Id.String(): "yes"}))
}

func TestCoerceAndFormatRoundTrip(t *testing.T) {
	boolField := Field{Name: "predicted", Type: Boolean, Config: BooleanConfig{}}
	numField := Field{Name: "score", Type: Numeric, Config: NumericConfig{Decimal: true}}
	textField := Field{Name: "name", Type: Text, Config: TextConfig{}}

	for _, raw := range []string{"true", "1", "YES"} {
		v, err := CoerceCSVValue(boolField, raw)
		require.NoError(t, err)
		assert.Equal(t, true, v)
	}
	v, err := CoerceCSVValue(boolField, "no")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	_, err = CoerceCSVValue(boolField, "maybe")
	assert.Error(t, err)

	v, err = CoerceCSVValue(numField, "2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
	assert.Equal(t, "2.5", FormatValue(v))

	v, err = CoerceCSVValue(textField, "  ")
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "3", FormatValue(3.0))
	assert.Equal(t, "cat", FormatValue("cat"))
	assert.Equal(t, "", FormatValue(nil))
}
