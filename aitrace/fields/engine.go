package fields

import (
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxNameLength = 100

type FieldSpec struct {
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Required     bool            `json:"required"`
	DefaultValue *string         `json:"default_value"`
	Position     *int            `json:"position"`
	Config       json.RawMessage `json:"config"`
}

type NewSchema struct {
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Fields           []FieldSpec `json:"fields"`
	CopyFromSchemaId *uuid.UUID  `json:"copy_from_schema_id"`
}

// SchemaUpdate only changes the attributes that are set. Fields, when set,
// replace every existing field of the schema.
type SchemaUpdate struct {
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	Fields      *[]FieldSpec `json:"fields"`
}

func CheckName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", utils.Validationf("%v name cannot be empty", kind)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", utils.Validationf("%v name cannot be longer than %d characters", kind, maxNameLength)
	}
	return name, nil
}

// BuildFields validates the field specs and converts them to records of the schema.
// A spec without a position takes its index in the list.
func BuildFields(schemaId uuid.UUID, specs []FieldSpec) ([]schema.SchemaField, error) {
	names := make(map[string]bool, len(specs))
	positions := make(map[int]bool, len(specs))
	records := make([]schema.SchemaField, 0, len(specs))

	for i, spec := range specs {
		name, err := CheckName("field", spec.Name)
		if err != nil {
			return nil, err
		}
		if names[name] {
			return nil, utils.Validationf("field name '%v' is used more than once", name)
		}
		names[name] = true

		position := i
		if spec.Position != nil {
			position = *spec.Position
		}
		if position < 0 {
			return nil, utils.Validationf("field %v has negative position %d", name, position)
		}
		if positions[position] {
			return nil, utils.Validationf("field position %d is used more than once", position)
		}
		positions[position] = true

		if !IsValidType(spec.Type) {
			return nil, utils.Validationf("field %v has unknown type '%v'", name, spec.Type)
		}
		config, err := DecodeConfig(spec.Type, spec.Config)
		if err != nil {
			return nil, utils.Validation(fmt.Errorf("field %v: %w", name, err))
		}

		field := Field{Name: name, Type: spec.Type, Required: spec.Required, DefaultValue: spec.DefaultValue, Position: position, Config: config}
		if err := checkDefault(field); err != nil {
			return nil, utils.Validation(fmt.Errorf("field %v: %w", name, err))
		}

		encoded, err := EncodeConfig(config)
		if err != nil {
			return nil, utils.Internal(fmt.Errorf("error encoding config for field %v: %w", name, err))
		}

		records = append(records, schema.SchemaField{
			Id:           uuid.New(),
			SchemaId:     schemaId,
			Name:         name,
			Type:         spec.Type,
			Required:     spec.Required,
			DefaultValue: spec.DefaultValue,
			Position:     position,
			Config:       encoded,
		})
	}

	return records, nil
}

func checkDuplicateSchemaName(txn *gorm.DB, teamId uuid.UUID, name string, exclude *uuid.UUID) error {
	query := txn.Model(&schema.Schema{}).Where("team_id = ? AND name = ?", teamId, name)
	if exclude != nil {
		query = query.Where("id <> ?", *exclude)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		slog.Error("sql error checking for duplicate schema name", "team_id", teamId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}
	if count > 0 {
		return utils.Duplicate(fmt.Errorf("a schema named '%v' already exists", name))
	}
	return nil
}

func GetSchema(txn *gorm.DB, schemaId, teamId uuid.UUID) (schema.Schema, error) {
	s, err := schema.GetSchema(schemaId, teamId, txn, true)
	if err != nil {
		if errors.Is(err, schema.ErrSchemaNotFound) {
			return s, utils.NotFound(err)
		}
		return s, utils.Internal(err)
	}
	return s, nil
}

func copyFields(schemaId uuid.UUID, source schema.Schema) []schema.SchemaField {
	copied := make([]schema.SchemaField, 0, len(source.Fields))
	for _, f := range source.Fields {
		copied = append(copied, schema.SchemaField{
			Id:           uuid.New(),
			SchemaId:     schemaId,
			Name:         f.Name,
			Type:         f.Type,
			Required:     f.Required,
			DefaultValue: f.DefaultValue,
			Position:     f.Position,
			Config:       append([]byte(nil), f.Config...),
		})
	}
	return copied
}

func CreateSchema(txn *gorm.DB, teamId uuid.UUID, userId *uuid.UUID, input NewSchema) (schema.Schema, error) {
	name, err := CheckName("schema", input.Name)
	if err != nil {
		return schema.Schema{}, err
	}

	if input.CopyFromSchemaId != nil && len(input.Fields) > 0 {
		return schema.Schema{}, utils.Validationf("provide either fields or copy_from_schema_id, not both")
	}

	if err := checkDuplicateSchemaName(txn, teamId, name, nil); err != nil {
		return schema.Schema{}, err
	}

	newSchema := schema.Schema{
		Id:          uuid.New(),
		TeamId:      teamId,
		Name:        name,
		Description: input.Description,
		CreatedBy:   userId,
		UpdatedBy:   userId,
	}

	if input.CopyFromSchemaId != nil {
		source, err := GetSchema(txn, *input.CopyFromSchemaId, teamId)
		if err != nil {
			return schema.Schema{}, err
		}
		newSchema.Fields = copyFields(newSchema.Id, source)
	} else {
		fields, err := BuildFields(newSchema.Id, input.Fields)
		if err != nil {
			return schema.Schema{}, err
		}
		newSchema.Fields = fields
	}

	if err := txn.Create(&newSchema).Error; err != nil {
		if schema.IsUniqueViolation(err) {
			return schema.Schema{}, utils.Duplicate(fmt.Errorf("a schema named '%v' already exists", name))
		}
		slog.Error("sql error creating schema", "team_id", teamId, "error", err)
		return schema.Schema{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	slog.Info("created schema", "schema_id", newSchema.Id, "team_id", teamId, "n_fields", len(newSchema.Fields))

	return GetSchema(txn, newSchema.Id, teamId)
}

func UpdateSchema(txn *gorm.DB, schemaId, teamId uuid.UUID, userId *uuid.UUID, update SchemaUpdate) (schema.Schema, error) {
	existing, err := GetSchema(txn, schemaId, teamId)
	if err != nil {
		return schema.Schema{}, err
	}

	changes := map[string]interface{}{
		"updated_by": userId,
		"updated_at": time.Now().UTC(),
	}

	if update.Name != nil {
		name, err := CheckName("schema", *update.Name)
		if err != nil {
			return schema.Schema{}, err
		}
		if name != existing.Name {
			if err := checkDuplicateSchemaName(txn, teamId, name, &schemaId); err != nil {
				return schema.Schema{}, err
			}
		}
		changes["name"] = name
	}
	if update.Description != nil {
		changes["description"] = *update.Description
	}

	if update.Fields != nil {
		newFields, err := BuildFields(schemaId, *update.Fields)
		if err != nil {
			return schema.Schema{}, err
		}

		if err := txn.Where("schema_id = ?", schemaId).Delete(&schema.SchemaField{}).Error; err != nil {
			slog.Error("sql error deleting schema fields", "schema_id", schemaId, "error", err)
			return schema.Schema{}, utils.Internal(schema.ErrDbAccessFailed)
		}

		if len(newFields) > 0 {
			if err := txn.Create(&newFields).Error; err != nil {
				slog.Error("sql error creating schema fields", "schema_id", schemaId, "error", err)
				return schema.Schema{}, utils.Internal(schema.ErrDbAccessFailed)
			}
		}
	}

	if err := txn.Model(&schema.Schema{}).Where("id = ?", schemaId).Updates(changes).Error; err != nil {
		if schema.IsUniqueViolation(err) {
			return schema.Schema{}, utils.Duplicate(fmt.Errorf("a schema named '%v' already exists", changes["name"]))
		}
		slog.Error("sql error updating schema", "schema_id", schemaId, "error", err)
		return schema.Schema{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	return GetSchema(txn, schemaId, teamId)
}

func DeleteSchema(txn *gorm.DB, schemaId, teamId uuid.UUID) error {
	if _, err := GetSchema(txn, schemaId, teamId); err != nil {
		return err
	}

	var datasets int64
	if err := txn.Model(&schema.Dataset{}).Where("schema_id = ?", schemaId).Count(&datasets).Error; err != nil {
		slog.Error("sql error counting datasets for schema", "schema_id", schemaId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}
	if datasets > 0 {
		return utils.Validationf("schema is used by %d dataset(s) and cannot be deleted", datasets)
	}

	if err := txn.Where("schema_id = ?", schemaId).Delete(&schema.SchemaField{}).Error; err != nil {
		slog.Error("sql error deleting schema fields", "schema_id", schemaId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	if err := txn.Delete(&schema.Schema{Id: schemaId}).Error; err != nil {
		slog.Error("sql error deleting schema", "schema_id", schemaId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	slog.Info("deleted schema", "schema_id", schemaId, "team_id", teamId)
	return nil
}

func ListSchemas(txn *gorm.DB, teamId uuid.UUID, page utils.Pagination) ([]schema.Schema, int64, error) {
	var total int64
	if err := txn.Model(&schema.Schema{}).Where("team_id = ?", teamId).Count(&total).Error; err != nil {
		slog.Error("sql error counting schemas", "team_id", teamId, "error", err)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	var schemas []schema.Schema
	result := txn.
		Preload("Fields", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("team_id = ?", teamId).
		Order("created_at DESC").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&schemas)
	if result.Error != nil {
		slog.Error("sql error listing schemas", "team_id", teamId, "error", result.Error)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	return schemas, total, nil
}
