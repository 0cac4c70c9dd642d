package catalog

import (
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const FlagAiNameCreation = "ai_name_creation"

var defaultFlags = map[string]bool{
	FlagAiNameCreation: true,
}

func createDefaultFlags(txn *gorm.DB, teamId uuid.UUID) error {
	flags := make([]schema.FeatureFlag, 0, len(defaultFlags))
	for name, enabled := range defaultFlags {
		flags = append(flags, schema.FeatureFlag{Id: uuid.New(), TeamId: teamId, Name: name, Enabled: enabled})
	}

	if err := txn.Create(&flags).Error; err != nil {
		slog.Error("sql error creating default feature flags", "team_id", teamId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}
	return nil
}

func ListFeatureFlags(txn *gorm.DB, teamId uuid.UUID) ([]schema.FeatureFlag, error) {
	var flags []schema.FeatureFlag
	if err := txn.Where("team_id = ?", teamId).Order("name ASC").Find(&flags).Error; err != nil {
		slog.Error("sql error listing feature flags", "team_id", teamId, "error", err)
		return nil, utils.Internal(schema.ErrDbAccessFailed)
	}
	return flags, nil
}

// SetFeatureFlag changes a flag of the team. Flags that a team predates are
// created on first use, anything else is unknown.
func SetFeatureFlag(txn *gorm.DB, teamId uuid.UUID, name string, enabled bool) (schema.FeatureFlag, error) {
	flag, err := schema.GetFeatureFlag(teamId, name, txn)
	if err != nil {
		if !errors.Is(err, schema.ErrFeatureFlagNotFound) {
			return flag, utils.Internal(err)
		}
		if _, known := defaultFlags[name]; !known {
			return flag, utils.NotFound(fmt.Errorf("%w: %v", err, name))
		}

		flag = schema.FeatureFlag{Id: uuid.New(), TeamId: teamId, Name: name, Enabled: enabled}
		if err := txn.Create(&flag).Error; err != nil {
			slog.Error("sql error creating feature flag", "team_id", teamId, "flag", name, "error", err)
			return flag, utils.Internal(schema.ErrDbAccessFailed)
		}
		return flag, nil
	}

	if err := txn.Model(&flag).Update("enabled", enabled).Error; err != nil {
		slog.Error("sql error updating feature flag", "team_id", teamId, "flag", name, "error", err)
		return flag, utils.Internal(schema.ErrDbAccessFailed)
	}
	flag.Enabled = enabled

	slog.Info("updated feature flag", "team_id", teamId, "flag", name, "enabled", enabled)

	return flag, nil
}

// IsFeatureEnabled falls back to the default value of flags the team does not have.
func IsFeatureEnabled(txn *gorm.DB, teamId uuid.UUID, name string) (bool, error) {
	flag, err := schema.GetFeatureFlag(teamId, name, txn)
	if err != nil {
		if errors.Is(err, schema.ErrFeatureFlagNotFound) {
			return defaultFlags[name], nil
		}
		return false, utils.Internal(err)
	}
	return flag.Enabled, nil
}
