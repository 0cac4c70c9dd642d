package fields

import (
	"aitrace_platform/aitrace/database"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pos(i int) *int {
	return &i
}

func sampleFields() []FieldSpec {
	return []FieldSpec{
		{Name: "predicted", Type: Boolean, Required: true, Position: pos(0)},
		{Name: "label", Type: Enum, Config: json.RawMessage(`{"options": ["cat", "dog"]}`), Position: pos(1)},
		{Name: "notes", Type: Text, Config: json.RawMessage(`{"multiline": true}`), Position: pos(2)},
	}
}

func TestCreateSchemaWithFields(t *testing.T) {
	db := database.NewTestDB(t)
	teamId := uuid.New()

	s, err := CreateSchema(db, teamId, nil, NewSchema{Name: "animals", Fields: sampleFields()})
	require.NoError(t, err)

	require.Len(t, s.Fields, 3)
	assert.Equal(t, "predicted", s.Fields[0].Name)
	assert.Equal(t, "notes", s.Fields[2].Name)
	assert.Equal(t, []string{s.Fields[0].Id.String()}, s.RequiredFieldIds())

	_, err = CreateSchema(db, teamId, nil, NewSchema{Name: "animals"})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, utils.GetResponseCode(err))

	// names are scoped per team
	_, err = CreateSchema(db, uuid.New(), nil, NewSchema{Name: "animals"})
	require.NoError(t, err)
}

func TestCreateSchemaValidation(t *testing.T) {
	db := database.NewTestDB(t)
	teamId := uuid.New()

	cases := [][]FieldSpec{
		{{Name: "a", Type: Boolean}, {Name: "a", Type: Text}},
		{{Name: "a", Type: Boolean, Position: pos(1)}, {Name: "b", Type: Text, Position: pos(1)}},
		{{Name: "a", Type: "date"}},
		{{Name: "a", Type: Enum}},
		{{Name: "", Type: Text}},
		{{Name: "a", Type: Text, Config: json.RawMessage(`{"options": ["x"]}`)}},
	}

	for i, specs := range cases {
		_, err := CreateSchema(db, teamId, nil, NewSchema{Name: "bad", Fields: specs})
		require.Error(t, err, "case %d", i)
		assert.Equal(t, http.StatusBadRequest, utils.GetResponseCode(err), "case %d", i)
	}

	def := "maybe"
	_, err := CreateSchema(db, teamId, nil, NewSchema{Name: "bad", Fields: []FieldSpec{{Name: "a", Type: Boolean, DefaultValue: &def}}})
	require.Error(t, err)
}

func TestCopySchema(t *testing.T) {
	db := database.NewTestDB(t)
	teamId := uuid.New()

	source, err := CreateSchema(db, teamId, nil, NewSchema{Name: "source", Fields: sampleFields()})
	require.NoError(t, err)

	copied, err := CreateSchema(db, teamId, nil, NewSchema{Name: "copy", CopyFromSchemaId: &source.Id})
	require.NoError(t, err)

	require.Len(t, copied.Fields, len(source.Fields))
	for i := range source.Fields {
		assert.NotEqual(t, source.Fields[i].Id, copied.Fields[i].Id)
		assert.Equal(t, copied.Id, copied.Fields[i].SchemaId)
		assert.Equal(t, source.Fields[i].Name, copied.Fields[i].Name)
		assert.Equal(t, source.Fields[i].Position, copied.Fields[i].Position)
		assert.Equal(t, source.Fields[i].Required, copied.Fields[i].Required)
		assert.JSONEq(t, string(source.Fields[i].Config), string(copied.Fields[i].Config))
	}

	// the source is unaffected
	reloaded, err := GetSchema(db, source.Id, teamId)
	require.NoError(t, err)
	assert.Len(t, reloaded.Fields, 3)

	// copying from another team's schema is not possible
	_, err = CreateSchema(db, uuid.New(), nil, NewSchema{Name: "steal", CopyFromSchemaId: &source.Id})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, utils.GetResponseCode(err))

	_, err = CreateSchema(db, teamId, nil, NewSchema{Name: "both", CopyFromSchemaId: &source.Id, Fields: sampleFields()})
	require.Error(t, err)
}

func TestUpdateSchemaReplacesFields(t *testing.T) {
	db := database.NewTestDB(t)
	teamId := uuid.New()

	s, err := CreateSchema(db, teamId, nil, NewSchema{Name: "animals", Fields: sampleFields()})
	require.NoError(t, err)

	newFields := []FieldSpec{{Name: "score", Type: Numeric, Config: json.RawMessage(`{"min": 0, "max": 1, "decimal": true}`)}}
	name := "scores"
	updated, err := UpdateSchema(db, s.Id, teamId, nil, SchemaUpdate{Name: &name, Fields: &newFields})
	require.NoError(t, err)

	assert.Equal(t, "scores", updated.Name)
	require.Len(t, updated.Fields, 1)
	assert.Equal(t, "score", updated.Fields[0].Name)

	var count int64
	require.NoError(t, db.Model(&schema.SchemaField{}).Where("schema_id = ?", s.Id).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	desc := "only description"
	updated, err = UpdateSchema(db, s.Id, teamId, nil, SchemaUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Len(t, updated.Fields, 1)

	_, err = UpdateSchema(db, s.Id, uuid.New(), nil, SchemaUpdate{Description: &desc})
	assert.Equal(t, http.StatusNotFound, utils.GetResponseCode(err))
}

func TestDeleteSchemaInUse(t *testing.T) {
	db := database.NewTestDB(t)
	teamId := uuid.New()

	s, err := CreateSchema(db, teamId, nil, NewSchema{Name: "animals", Fields: sampleFields()})
	require.NoError(t, err)

	dataset := schema.Dataset{Id: uuid.New(), TeamId: teamId, Name: "ds", SchemaId: s.Id}
	require.NoError(t, db.Create(&dataset).Error)

	err = DeleteSchema(db, s.Id, teamId)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, utils.GetResponseCode(err))

	require.NoError(t, db.Delete(&dataset).Error)
	require.NoError(t, DeleteSchema(db, s.Id, teamId))

	_, err = GetSchema(db, s.Id, teamId)
	assert.Equal(t, http.StatusNotFound, utils.GetResponseCode(err))
}

func TestListSchemas(t *testing.T) {
	db := database.NewTestDB(t)
	teamId := uuid.New()

	for _, name := range []string{"a", "b", "c"} {
		_, err := CreateSchema(db, teamId, nil, NewSchema{Name: name})
		require.NoError(t, err)
	}
	_, err := CreateSchema(db, uuid.New(), nil, NewSchema{Name: "other"})
	require.NoError(t, err)

	schemas, total, err := ListSchemas(db, teamId, utils.Pagination{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, schemas, 2)

	schemas, _, err = ListSchemas(db, teamId, utils.Pagination{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, schemas, 1)
}
