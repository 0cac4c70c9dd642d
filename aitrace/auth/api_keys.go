package auth

import (
	"aitrace_platform/aitrace/schema"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	APIKeyPrefix      = "sk-"
	apiKeyPreviewSize = 8
)

var ErrInvalidAPIKey = errors.New("invalid api key")

type GeneratedKey struct {
	Key     string
	Preview string
	Hash    []byte
}

func KeyPreview(key string) string {
	if len(key) > apiKeyPreviewSize {
		key = key[:apiKeyPreviewSize]
	}
	return key + "***"
}

// GenerateAPIKey creates a new random key. Only the preview and the hash are
// stored, the key itself is shown to the user once.
func GenerateAPIKey() (GeneratedKey, error) {
	random, err := randomToken(32)
	if err != nil {
		return GeneratedKey{}, err
	}
	key := APIKeyPrefix + random

	hash, err := HashPassword(key)
	if err != nil {
		return GeneratedKey{}, fmt.Errorf("error hashing api key: %w", err)
	}

	return GeneratedKey{Key: key, Preview: KeyPreview(key), Hash: hash}, nil
}

// VerifyAPIKey finds the stored key matching the given key. Keys are looked up
// by their preview and then compared against the hash of every candidate.
func VerifyAPIKey(db *gorm.DB, key string) (schema.APIKey, error) {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return schema.APIKey{}, ErrInvalidAPIKey
	}

	var candidates []schema.APIKey
	result := db.Preload("User").Where("preview = ?", KeyPreview(key)).Find(&candidates)
	if result.Error != nil {
		slog.Error("sql error loading api key candidates", "error", result.Error)
		return schema.APIKey{}, schema.ErrDbAccessFailed
	}

	for _, candidate := range candidates {
		if !VerifyPassword(key, candidate.KeyHash) {
			continue
		}
		if candidate.User == nil {
			return schema.APIKey{}, ErrInvalidAPIKey
		}

		now := time.Now().UTC()
		if err := db.Model(&schema.APIKey{}).Where("id = ?", candidate.Id).Update("last_used_at", now).Error; err != nil {
			slog.Warn("error recording api key usage", "api_key_id", candidate.Id, "error", err)
		}
		candidate.LastUsedAt = &now

		return candidate, nil
	}

	return schema.APIKey{}, ErrInvalidAPIKey
}
