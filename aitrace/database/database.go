package database

import (
	"aitrace_platform/aitrace/config"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
}

func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SqlitePath)
	default:
		dialector = postgres.Open(cfg.PostgresDsn())
	}

	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	if cfg.Driver == "sqlite" {
		if err := limitToSingleConnection(db); err != nil {
			return nil, err
		}
	}

	slog.Info("database connection opened", "driver", cfg.Driver, "mode", cfg.ConnectionMode)

	return db, nil
}

// sqlite only allows one writer, and in memory databases are per connection.
func limitToSingleConnection(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error accessing sql connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return nil
}

func OpenInMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("error opening in memory database: %w", err)
	}
	if err := limitToSingleConnection(db); err != nil {
		return nil, err
	}
	return db, nil
}
