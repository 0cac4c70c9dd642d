package database

import (
	"testing"

	"gorm.io/gorm"
)

// NewTestDB returns a migrated in memory database that lives as long as the test.
func NewTestDB(t testing.TB) *gorm.DB {
	db, err := OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}

	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}
