package schema

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrTeamNotFound        = errors.New("team not found")
	ErrSchemaNotFound      = errors.New("schema not found")
	ErrDatasetNotFound     = errors.New("dataset not found")
	ErrRowNotFound         = errors.New("row not found")
	ErrAPIKeyNotFound      = errors.New("api key not found")
	ErrFeatureFlagNotFound = errors.New("feature flag not found")
	ErrTestRunNotFound     = errors.New("test run not found")
	ErrDbAccessFailed      = errors.New("db access failed")
)

// IsUniqueViolation reports whether err was caused by a unique index rejecting
// a write. Gorm must be opened with TranslateError for the sqlite case.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetUserByEmail(email string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "email = ?", strings.ToLower(email))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user by email", "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

// GetTeamUser returns the user only if it belongs to the given team.
func GetTeamUser(userId, teamId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ? AND team_id = ?", userId, teamId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get team user", "user_id", userId, "team_id", teamId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetTeam(teamId uuid.UUID, db *gorm.DB) (Team, error) {
	var team Team

	result := db.First(&team, "id = ?", teamId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return team, ErrTeamNotFound
		}
		slog.Error("sql error in get team", "team_id", teamId, "error", result.Error)
		return team, ErrDbAccessFailed
	}

	return team, nil
}

func GetSchema(schemaId, teamId uuid.UUID, db *gorm.DB, loadFields bool) (Schema, error) {
	var schema Schema

	query := db
	if loadFields {
		query = query.Preload("Fields", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		})
	}

	result := query.First(&schema, "id = ? AND team_id = ?", schemaId, teamId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return schema, ErrSchemaNotFound
		}
		slog.Error("sql error in get schema", "schema_id", schemaId, "error", result.Error)
		return schema, ErrDbAccessFailed
	}

	return schema, nil
}

func GetDataset(datasetId, teamId uuid.UUID, db *gorm.DB) (Dataset, error) {
	var dataset Dataset

	result := db.First(&dataset, "id = ? AND team_id = ?", datasetId, teamId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return dataset, ErrDatasetNotFound
		}
		slog.Error("sql error in get dataset", "dataset_id", datasetId, "error", result.Error)
		return dataset, ErrDbAccessFailed
	}

	return dataset, nil
}

func GetRow(rowId, datasetId uuid.UUID, db *gorm.DB) (DatasetRow, error) {
	var row DatasetRow

	result := db.Preload("Creator").Preload("Updater").First(&row, "id = ? AND dataset_id = ?", rowId, datasetId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return row, ErrRowNotFound
		}
		slog.Error("sql error in get row", "row_id", rowId, "dataset_id", datasetId, "error", result.Error)
		return row, ErrDbAccessFailed
	}

	return row, nil
}

func GetFeatureFlag(teamId uuid.UUID, name string, db *gorm.DB) (FeatureFlag, error) {
	var flag FeatureFlag

	result := db.First(&flag, "team_id = ? AND name = ?", teamId, name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return flag, ErrFeatureFlagNotFound
		}
		slog.Error("sql error in get feature flag", "team_id", teamId, "flag", name, "error", result.Error)
		return flag, ErrDbAccessFailed
	}

	return flag, nil
}
