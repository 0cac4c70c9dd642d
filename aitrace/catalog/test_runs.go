package catalog

import (
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewTestRun records the outcome of evaluating a model against a dataset.
type NewTestRun struct {
	Description  string                 `json:"description"`
	RunStartTime *time.Time             `json:"run_start_time"`
	RunEndTime   *time.Time             `json:"run_end_time"`
	Status       string                 `json:"status"`
	Precision    *float64               `json:"precision"`
	Recall       *float64               `json:"recall"`
	Accuracy     *float64               `json:"accuracy"`
	F1Score      *float64               `json:"f1_score"`
	NTestCases   int                    `json:"n_test_cases"`
	ExtraMetrics map[string]interface{} `json:"extra_metrics"`
}

func checkMetric(name string, value *float64) error {
	if value != nil && (*value < 0 || *value > 1) {
		return utils.Validationf("%v must be between 0 and 1, got %v", name, *value)
	}
	return nil
}

func (r *NewTestRun) validate() error {
	if r.Status == "" {
		r.Status = schema.TestRunRunning
	}
	if !schema.CheckValidTestRunStatus(r.Status) {
		return utils.Validationf("invalid test run status '%v'", r.Status)
	}

	metrics := []struct {
		name  string
		value *float64
	}{
		{"precision", r.Precision}, {"recall", r.Recall}, {"accuracy", r.Accuracy}, {"f1_score", r.F1Score},
	}
	for _, m := range metrics {
		if err := checkMetric(m.name, m.value); err != nil {
			return err
		}
	}

	if r.NTestCases < 0 {
		return utils.Validationf("n_test_cases cannot be negative")
	}
	if r.RunStartTime != nil && r.RunEndTime != nil && r.RunEndTime.Before(*r.RunStartTime) {
		return utils.Validationf("run_end_time cannot be before run_start_time")
	}
	return nil
}

func CreateTestRun(txn *gorm.DB, datasetId, teamId uuid.UUID, input NewTestRun) (schema.TestRun, error) {
	if _, err := GetDataset(txn, datasetId, teamId); err != nil {
		return schema.TestRun{}, err
	}

	if err := input.validate(); err != nil {
		return schema.TestRun{}, err
	}

	start := time.Now().UTC()
	if input.RunStartTime != nil {
		start = input.RunStartTime.UTC()
	}

	run := schema.TestRun{
		Id:           uuid.New(),
		DatasetId:    datasetId,
		Description:  input.Description,
		RunStartTime: start,
		RunEndTime:   input.RunEndTime,
		Status:       input.Status,
		Precision:    input.Precision,
		Recall:       input.Recall,
		Accuracy:     input.Accuracy,
		F1Score:      input.F1Score,
		NTestCases:   input.NTestCases,
		ExtraMetrics: input.ExtraMetrics,
	}

	if err := txn.Create(&run).Error; err != nil {
		slog.Error("sql error creating test run", "dataset_id", datasetId, "error", err)
		return schema.TestRun{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	return run, nil
}

// ListTestRuns returns the most recently finished runs first, unfinished runs last.
func ListTestRuns(txn *gorm.DB, datasetId, teamId uuid.UUID, page utils.Pagination) ([]schema.TestRun, int64, error) {
	if _, err := GetDataset(txn, datasetId, teamId); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := txn.Model(&schema.TestRun{}).Where("dataset_id = ?", datasetId).Count(&total).Error; err != nil {
		slog.Error("sql error counting test runs", "dataset_id", datasetId, "error", err)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	var runs []schema.TestRun
	result := txn.Where("dataset_id = ?", datasetId).
		Order("run_end_time IS NULL, run_end_time DESC, run_start_time DESC").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&runs)
	if result.Error != nil {
		slog.Error("sql error listing test runs", "dataset_id", datasetId, "error", result.Error)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	return runs, total, nil
}
