package schema

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const (
	StatusPending  = "pending"
	StatusReviewed = "reviewed"
)

const (
	TestRunRunning   = "running"
	TestRunCompleted = "completed"
	TestRunStopped   = "stopped"
	TestRunError     = "error"
)

type Team struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"size:100;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	TeamId uuid.UUID `gorm:"type:uuid;not null;index"`
	Team   *Team     `gorm:"constraint:OnDelete:CASCADE"`

	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	Role         string `gorm:"size:20;not null;default:'user'"`
	MustResetPwd bool   `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type APIKey struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	TeamId uuid.UUID `gorm:"type:uuid;not null;index"`

	Name    string `gorm:"size:100;not null"`
	Preview string `gorm:"size:16;not null;index"` // lookup key, the hash is compared afterwards
	KeyHash []byte `gorm:"not null"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null"`
	User      *User     `gorm:"foreignKey:CreatedBy;constraint:OnDelete:CASCADE"`

	CreatedAt  time.Time
	LastUsedAt *time.Time
}

func (APIKey) TableName() string {
	return "api_keys"
}

type FeatureFlag struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	TeamId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_flags_team_name"`
	Name    string    `gorm:"size:100;not null;uniqueIndex:ux_flags_team_name"`
	Enabled bool      `gorm:"not null;default:false"`
}

type Schema struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	TeamId      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_schemas_team_name"`
	Name        string    `gorm:"size:100;not null;uniqueIndex:ux_schemas_team_name"`
	Description string

	Fields []SchemaField `gorm:"constraint:OnDelete:CASCADE"`

	CreatedBy *uuid.UUID `gorm:"type:uuid"`
	UpdatedBy *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequiredFieldIds returns the ids of the fields that must carry a value for a
// row to count as reviewed. Fields must be loaded.
func (s *Schema) RequiredFieldIds() []string {
	ids := make([]string, 0)
	for _, field := range s.Fields {
		if field.Required {
			ids = append(ids, field.Id.String())
		}
	}
	return ids
}

type SchemaField struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	SchemaId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_fields_schema_position"`

	Name         string `gorm:"size:100;not null"`
	Type         string `gorm:"size:20;not null"`
	Required     bool   `gorm:"not null;default:false"`
	DefaultValue *string
	Position     int `gorm:"not null;uniqueIndex:ux_fields_schema_position"`

	Config datatypes.JSON
}

type Dataset struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	TeamId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_datasets_team_name"`
	Name   string    `gorm:"size:100;not null;uniqueIndex:ux_datasets_team_name"`

	Description string

	SchemaId uuid.UUID `gorm:"type:uuid;not null;index"`
	Schema   *Schema   `gorm:"constraint:OnDelete:RESTRICT"`

	RowsCount     int64 `gorm:"not null;default:0"`
	ReviewedCount int64 `gorm:"not null;default:0"`

	CreatedBy *uuid.UUID `gorm:"type:uuid"`
	UpdatedBy *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *Dataset) PendingCount() int64 {
	return d.RowsCount - d.ReviewedCount
}

type DatasetRow struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DatasetId uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_rows_dataset_hash"`

	ImageUrl    string  `gorm:"not null"`
	ImageHash   string  `gorm:"size:32;not null;uniqueIndex:ux_rows_dataset_hash"`
	StoragePath *string // set only when the blob lives in our storage

	Data    datatypes.JSONMap
	Status  string `gorm:"size:20;not null;default:'pending';index"`
	Comment *string

	CreatedBy *uuid.UUID `gorm:"type:uuid"`
	Creator   *User      `gorm:"foreignKey:CreatedBy;constraint:OnDelete:SET NULL"`
	UpdatedBy *uuid.UUID `gorm:"type:uuid"`
	Updater   *User      `gorm:"foreignKey:UpdatedBy;constraint:OnDelete:SET NULL"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

type TestRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DatasetId uuid.UUID `gorm:"type:uuid;not null;index"`
	Dataset   *Dataset  `gorm:"constraint:OnDelete:CASCADE"`

	Description  string
	RunStartTime time.Time
	RunEndTime   *time.Time
	Status       string `gorm:"size:20;not null;default:'running'"`

	Precision *float64
	Recall    *float64
	Accuracy  *float64
	F1Score   *float64

	NTestCases   int `gorm:"not null;default:0"`
	ExtraMetrics datatypes.JSONMap

	CreatedAt time.Time
	UpdatedAt time.Time
}

func CheckValidRowStatus(status string) bool {
	return status == StatusPending || status == StatusReviewed
}

func CheckValidTestRunStatus(status string) bool {
	switch status {
	case TestRunRunning, TestRunCompleted, TestRunStopped, TestRunError:
		return true
	}
	return false
}
