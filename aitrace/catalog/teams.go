package catalog

import (
	"aitrace_platform/aitrace/fields"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	BooleanTemplateName = "Boolean Template"
	DefaultTeamName     = "Default Team"
)

func defaultSchemaFields() []fields.FieldSpec {
	position := func(i int) *int { return &i }
	return []fields.FieldSpec{
		{Name: "predicted", Type: fields.Boolean, Required: true, Position: position(0)},
		{Name: "name", Type: fields.Text, Required: true, Position: position(1)},
		{Name: "description", Type: fields.Text, Position: position(2), Config: json.RawMessage(`{"multiline": true}`)},
	}
}

// CreateTeam creates a tenant together with the schema and feature flags every
// tenant starts with.
func CreateTeam(txn *gorm.DB, name string) (schema.Team, error) {
	name, err := fields.CheckName("team", name)
	if err != nil {
		return schema.Team{}, err
	}

	team := schema.Team{Id: uuid.New(), Name: name}
	if err := txn.Create(&team).Error; err != nil {
		slog.Error("sql error creating new team", "error", err)
		return schema.Team{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	_, err = fields.CreateSchema(txn, team.Id, nil, fields.NewSchema{
		Name:        BooleanTemplateName,
		Description: "Default template with a boolean prediction, a name and a description",
		Fields:      defaultSchemaFields(),
	})
	if err != nil {
		return schema.Team{}, fmt.Errorf("error creating default schema: %w", err)
	}

	if err := createDefaultFlags(txn, team.Id); err != nil {
		return schema.Team{}, err
	}

	slog.Info("created team", "team_id", team.Id, "name", team.Name)

	return team, nil
}

// GetOrCreateDefaultTeam backs single tenant deployments: the oldest team is
// returned, and one is created only when none exists.
func GetOrCreateDefaultTeam(txn *gorm.DB, name string) (schema.Team, error) {
	var team schema.Team
	result := txn.Order("created_at ASC").Limit(1).Find(&team)
	if result.Error != nil {
		slog.Error("sql error looking up default team", "error", result.Error)
		return schema.Team{}, utils.Internal(schema.ErrDbAccessFailed)
	}
	if result.RowsAffected > 0 {
		return team, nil
	}

	return CreateTeam(txn, name)
}

func NeedsSetup(db *gorm.DB) (bool, error) {
	var count int64
	if err := db.Model(&schema.User{}).Count(&count).Error; err != nil {
		slog.Error("sql error counting users", "error", err)
		return false, utils.Internal(schema.ErrDbAccessFailed)
	}
	return count == 0, nil
}

func GetTeam(txn *gorm.DB, teamId uuid.UUID) (schema.Team, error) {
	team, err := schema.GetTeam(teamId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrTeamNotFound) {
			return team, utils.NotFound(err)
		}
		return team, utils.Internal(err)
	}
	return team, nil
}

func RenameTeam(txn *gorm.DB, teamId uuid.UUID, name string) (schema.Team, error) {
	name, err := fields.CheckName("team", name)
	if err != nil {
		return schema.Team{}, err
	}

	if _, err := GetTeam(txn, teamId); err != nil {
		return schema.Team{}, err
	}

	result := txn.Model(&schema.Team{}).Where("id = ?", teamId).Updates(map[string]interface{}{
		"name":       name,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		slog.Error("sql error renaming team", "team_id", teamId, "error", result.Error)
		return schema.Team{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	return GetTeam(txn, teamId)
}
