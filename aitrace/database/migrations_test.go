package database

import (
	"aitrace_platform/aitrace/schema"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db := NewTestDB(t)

	require.NoError(t, Migrate(db))

	for _, idx := range uniqueIndexes {
		assert.True(t, db.Migrator().HasIndex(idx.model, idx.name), idx.name)
	}
}

func TestDuplicateRowHashIsRejected(t *testing.T) {
	db := NewTestDB(t)

	datasetId := uuid.New()
	row := schema.DatasetRow{Id: uuid.New(), DatasetId: datasetId, ImageUrl: "a", ImageHash: "0123456789abcdef0123456789abcdef", Status: schema.StatusPending}
	require.NoError(t, db.Create(&row).Error)

	dup := row
	dup.Id = uuid.New()
	err := db.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, schema.IsUniqueViolation(err))

	other := row
	other.Id = uuid.New()
	other.DatasetId = uuid.New()
	require.NoError(t, db.Create(&other).Error)
}
