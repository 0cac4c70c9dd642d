package services

import (
	"aitrace_platform/aitrace/schema"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type userInfo struct {
	Id           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	TeamId       uuid.UUID `json:"team_id"`
	MustResetPwd bool      `json:"must_reset_password"`
	CreatedAt    time.Time `json:"created_at"`
}

func convertUser(user schema.User) userInfo {
	return userInfo{
		Id:           user.Id,
		Email:        user.Email,
		Role:         user.Role,
		TeamId:       user.TeamId,
		MustResetPwd: user.MustResetPwd,
		CreatedAt:    user.CreatedAt,
	}
}

type teamInfo struct {
	Id        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func convertTeam(team schema.Team) teamInfo {
	return teamInfo{Id: team.Id, Name: team.Name, CreatedAt: team.CreatedAt}
}

type fieldInfo struct {
	Id           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Required     bool            `json:"required"`
	DefaultValue *string         `json:"default_value"`
	Position     int             `json:"position"`
	Config       json.RawMessage `json:"config"`
}

type schemaInfo struct {
	Id          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Fields      []fieldInfo `json:"fields"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func convertSchema(s schema.Schema) schemaInfo {
	fields := make([]fieldInfo, 0, len(s.Fields))
	for _, f := range s.Fields {
		config := json.RawMessage(f.Config)
		if len(config) == 0 {
			config = json.RawMessage("{}")
		}
		fields = append(fields, fieldInfo{
			Id:           f.Id,
			Name:         f.Name,
			Type:         f.Type,
			Required:     f.Required,
			DefaultValue: f.DefaultValue,
			Position:     f.Position,
			Config:       config,
		})
	}
	return schemaInfo{
		Id:          s.Id,
		Name:        s.Name,
		Description: s.Description,
		Fields:      fields,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

type datasetInfo struct {
	Id            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	SchemaId      uuid.UUID `json:"schema_id"`
	RowsCount     int64     `json:"rows_count"`
	ReviewedCount int64     `json:"reviewed_count"`
	PendingCount  int64     `json:"pending_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func convertDataset(d schema.Dataset) datasetInfo {
	return datasetInfo{
		Id:            d.Id,
		Name:          d.Name,
		Description:   d.Description,
		SchemaId:      d.SchemaId,
		RowsCount:     d.RowsCount,
		ReviewedCount: d.ReviewedCount,
		PendingCount:  d.PendingCount(),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type rowInfo struct {
	Id             uuid.UUID              `json:"id"`
	DatasetId      uuid.UUID              `json:"dataset_id"`
	ImageUrl       string                 `json:"image_url"`
	ImageHash      string                 `json:"image_hash"`
	Stored         bool                   `json:"stored"`
	Data           map[string]interface{} `json:"data"`
	Status         string                 `json:"status"`
	Comment        *string                `json:"comment"`
	CreatedByEmail *string                `json:"created_by_email"`
	UpdatedByEmail *string                `json:"updated_by_email"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func emailOf(user *schema.User) *string {
	if user == nil {
		return nil
	}
	email := user.Email
	return &email
}

func convertRow(row schema.DatasetRow) rowInfo {
	data := map[string]interface{}(row.Data)
	if data == nil {
		data = map[string]interface{}{}
	}
	return rowInfo{
		Id:             row.Id,
		DatasetId:      row.DatasetId,
		ImageUrl:       row.ImageUrl,
		ImageHash:      row.ImageHash,
		Stored:         row.StoragePath != nil,
		Data:           data,
		Status:         row.Status,
		Comment:        row.Comment,
		CreatedByEmail: emailOf(row.Creator),
		UpdatedByEmail: emailOf(row.Updater),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

type testRunInfo struct {
	Id           uuid.UUID              `json:"id"`
	DatasetId    uuid.UUID              `json:"dataset_id"`
	Description  string                 `json:"description"`
	RunStartTime time.Time              `json:"run_start_time"`
	RunEndTime   *time.Time             `json:"run_end_time"`
	Status       string                 `json:"status"`
	Precision    *float64               `json:"precision"`
	Recall       *float64               `json:"recall"`
	Accuracy     *float64               `json:"accuracy"`
	F1Score      *float64               `json:"f1_score"`
	NTestCases   int                    `json:"n_test_cases"`
	ExtraMetrics map[string]interface{} `json:"extra_metrics"`
	CreatedAt    time.Time              `json:"created_at"`
}

func convertTestRun(run schema.TestRun) testRunInfo {
	return testRunInfo{
		Id:           run.Id,
		DatasetId:    run.DatasetId,
		Description:  run.Description,
		RunStartTime: run.RunStartTime,
		RunEndTime:   run.RunEndTime,
		Status:       run.Status,
		Precision:    run.Precision,
		Recall:       run.Recall,
		Accuracy:     run.Accuracy,
		F1Score:      run.F1Score,
		NTestCases:   run.NTestCases,
		ExtraMetrics: run.ExtraMetrics,
		CreatedAt:    run.CreatedAt,
	}
}

type apiKeyInfo struct {
	Id         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Preview    string     `json:"preview"`
	CreatedBy  uuid.UUID  `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

func convertAPIKey(key schema.APIKey) apiKeyInfo {
	return apiKeyInfo{
		Id:         key.Id,
		Name:       key.Name,
		Preview:    key.Preview,
		CreatedBy:  key.CreatedBy,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
	}
}

type featureFlagInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func convertList[T any, R any](items []T, convert func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, item := range items {
		out = append(out, convert(item))
	}
	return out
}
