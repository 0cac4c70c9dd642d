package catalog

import (
	"aitrace_platform/aitrace/fields"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NewAPIKey struct {
	Name    string
	Preview string
	KeyHash []byte
}

func CreateAPIKey(txn *gorm.DB, teamId, userId uuid.UUID, input NewAPIKey) (schema.APIKey, error) {
	name, err := fields.CheckName("api key", input.Name)
	if err != nil {
		return schema.APIKey{}, err
	}

	key := schema.APIKey{
		Id:        uuid.New(),
		TeamId:    teamId,
		Name:      name,
		Preview:   input.Preview,
		KeyHash:   input.KeyHash,
		CreatedBy: userId,
		CreatedAt: time.Now().UTC(),
	}

	if err := txn.Create(&key).Error; err != nil {
		slog.Error("sql error creating api key", "team_id", teamId, "error", err)
		return schema.APIKey{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	slog.Info("created api key", "api_key_id", key.Id, "team_id", teamId, "created_by", userId)

	return key, nil
}

func ListAPIKeys(txn *gorm.DB, teamId uuid.UUID) ([]schema.APIKey, error) {
	var keys []schema.APIKey
	if err := txn.Where("team_id = ?", teamId).Order("created_at DESC").Find(&keys).Error; err != nil {
		slog.Error("sql error listing api keys", "team_id", teamId, "error", err)
		return nil, utils.Internal(schema.ErrDbAccessFailed)
	}
	return keys, nil
}

func DeleteAPIKey(txn *gorm.DB, keyId, teamId uuid.UUID) error {
	var key schema.APIKey
	result := txn.Where("id = ? AND team_id = ?", keyId, teamId).First(&key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return utils.NotFound(schema.ErrAPIKeyNotFound)
		}
		slog.Error("sql error loading api key", "api_key_id", keyId, "error", result.Error)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	if err := txn.Delete(&key).Error; err != nil {
		slog.Error("sql error deleting api key", "api_key_id", keyId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	slog.Info("deleted api key", "api_key_id", keyId, "team_id", teamId)
	return nil
}
