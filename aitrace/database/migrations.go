package database

import (
	"aitrace_platform/aitrace/schema"
	"fmt"
	"log/slog"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func allModels() []interface{} {
	return []interface{}{
		&schema.Team{}, &schema.User{}, &schema.APIKey{}, &schema.FeatureFlag{},
		&schema.Schema{}, &schema.SchemaField{}, &schema.Dataset{}, &schema.DatasetRow{},
		&schema.TestRun{},
	}
}

type uniqueIndex struct {
	model interface{}
	name  string
}

// These back the uniqueness rules that the engines also check up front, so
// that two racing writers cannot both commit.
var uniqueIndexes = []uniqueIndex{
	{model: &schema.DatasetRow{}, name: "ux_rows_dataset_hash"},
	{model: &schema.Dataset{}, name: "ux_datasets_team_name"},
	{model: &schema.Schema{}, name: "ux_schemas_team_name"},
	{model: &schema.SchemaField{}, name: "ux_fields_schema_position"},
	{model: &schema.FeatureFlag{}, name: "ux_flags_team_name"},
}

func migrateInitial(txn *gorm.DB) error {
	return txn.AutoMigrate(allModels()...)
}

func migrateUniqueIndexes(txn *gorm.DB) error {
	for _, idx := range uniqueIndexes {
		if txn.Migrator().HasIndex(idx.model, idx.name) {
			continue
		}
		if err := txn.Migrator().CreateIndex(idx.model, idx.name); err != nil {
			return fmt.Errorf("error creating index %v: %w", idx.name, err)
		}
	}
	return nil
}

func rollbackUniqueIndexes(txn *gorm.DB) error {
	for _, idx := range uniqueIndexes {
		if !txn.Migrator().HasIndex(idx.model, idx.name) {
			continue
		}
		if err := txn.Migrator().DropIndex(idx.model, idx.name); err != nil {
			return fmt.Errorf("error dropping index %v: %w", idx.name, err)
		}
	}
	return nil
}

func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID:      "0001_initial",
			Migrate: migrateInitial,
			// Rollback is not supported for the initial schema.
		},
		{
			ID:       "0002_unique_indexes",
			Migrate:  migrateUniqueIndexes,
			Rollback: rollbackUniqueIndexes,
		},
	}
}

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrations())

	if err := m.Migrate(); err != nil {
		slog.Error("database migration failed", "error", err)
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations applied")
	return nil
}
