package catalog

import (
	"aitrace_platform/aitrace/fields"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NewDataset struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SchemaId    uuid.UUID `json:"schema_id"`
}

type DatasetUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type Counters struct {
	Rows     int64
	Reviewed int64
}

func GetDataset(txn *gorm.DB, datasetId, teamId uuid.UUID) (schema.Dataset, error) {
	dataset, err := schema.GetDataset(datasetId, teamId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrDatasetNotFound) {
			return dataset, utils.NotFound(err)
		}
		return dataset, utils.Internal(err)
	}
	return dataset, nil
}

func checkDuplicateDatasetName(txn *gorm.DB, teamId uuid.UUID, name string, exclude *uuid.UUID) error {
	query := txn.Model(&schema.Dataset{}).Where("team_id = ? AND name = ?", teamId, name)
	if exclude != nil {
		query = query.Where("id <> ?", *exclude)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		slog.Error("sql error checking for duplicate dataset name", "team_id", teamId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}
	if count > 0 {
		return utils.Duplicate(fmt.Errorf("a dataset named '%v' already exists", name))
	}
	return nil
}

func CreateDataset(txn *gorm.DB, teamId uuid.UUID, userId *uuid.UUID, input NewDataset) (schema.Dataset, error) {
	name, err := fields.CheckName("dataset", input.Name)
	if err != nil {
		return schema.Dataset{}, err
	}

	if _, err := fields.GetSchema(txn, input.SchemaId, teamId); err != nil {
		return schema.Dataset{}, err
	}

	if err := checkDuplicateDatasetName(txn, teamId, name, nil); err != nil {
		return schema.Dataset{}, err
	}

	dataset := schema.Dataset{
		Id:          uuid.New(),
		TeamId:      teamId,
		Name:        name,
		Description: input.Description,
		SchemaId:    input.SchemaId,
		CreatedBy:   userId,
		UpdatedBy:   userId,
	}

	if err := txn.Create(&dataset).Error; err != nil {
		if schema.IsUniqueViolation(err) {
			return schema.Dataset{}, utils.Duplicate(fmt.Errorf("a dataset named '%v' already exists", name))
		}
		slog.Error("sql error creating dataset", "team_id", teamId, "error", err)
		return schema.Dataset{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	slog.Info("created dataset", "dataset_id", dataset.Id, "team_id", teamId, "schema_id", dataset.SchemaId)

	return dataset, nil
}

func UpdateDataset(txn *gorm.DB, datasetId, teamId uuid.UUID, userId *uuid.UUID, update DatasetUpdate) (schema.Dataset, error) {
	existing, err := GetDataset(txn, datasetId, teamId)
	if err != nil {
		return schema.Dataset{}, err
	}

	changes := map[string]interface{}{
		"updated_by": userId,
		"updated_at": time.Now().UTC(),
	}

	if update.Name != nil {
		name, err := fields.CheckName("dataset", *update.Name)
		if err != nil {
			return schema.Dataset{}, err
		}
		if name != existing.Name {
			if err := checkDuplicateDatasetName(txn, teamId, name, &datasetId); err != nil {
				return schema.Dataset{}, err
			}
		}
		changes["name"] = name
	}
	if update.Description != nil {
		changes["description"] = *update.Description
	}

	if err := txn.Model(&schema.Dataset{}).Where("id = ?", datasetId).Updates(changes).Error; err != nil {
		if schema.IsUniqueViolation(err) {
			return schema.Dataset{}, utils.Duplicate(fmt.Errorf("a dataset named '%v' already exists", changes["name"]))
		}
		slog.Error("sql error updating dataset", "dataset_id", datasetId, "error", err)
		return schema.Dataset{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	return GetDataset(txn, datasetId, teamId)
}

// DeleteDataset removes the dataset with its rows and test runs. It returns
// the storage urls of the deleted rows, the caller removes the blobs once the
// transaction has committed.
func DeleteDataset(txn *gorm.DB, datasetId, teamId uuid.UUID) ([]string, error) {
	if _, err := GetDataset(txn, datasetId, teamId); err != nil {
		return nil, err
	}

	var blobs []string
	err := txn.Model(&schema.DatasetRow{}).
		Where("dataset_id = ? AND storage_path IS NOT NULL", datasetId).
		Pluck("storage_path", &blobs).Error
	if err != nil {
		slog.Error("sql error listing stored images of dataset", "dataset_id", datasetId, "error", err)
		return nil, utils.Internal(schema.ErrDbAccessFailed)
	}

	if err := txn.Where("dataset_id = ?", datasetId).Delete(&schema.DatasetRow{}).Error; err != nil {
		slog.Error("sql error deleting dataset rows", "dataset_id", datasetId, "error", err)
		return nil, utils.Internal(schema.ErrDbAccessFailed)
	}

	if err := txn.Where("dataset_id = ?", datasetId).Delete(&schema.TestRun{}).Error; err != nil {
		slog.Error("sql error deleting dataset test runs", "dataset_id", datasetId, "error", err)
		return nil, utils.Internal(schema.ErrDbAccessFailed)
	}

	if err := txn.Delete(&schema.Dataset{Id: datasetId}).Error; err != nil {
		slog.Error("sql error deleting dataset", "dataset_id", datasetId, "error", err)
		return nil, utils.Internal(schema.ErrDbAccessFailed)
	}

	slog.Info("deleted dataset", "dataset_id", datasetId, "team_id", teamId, "n_blobs", len(blobs))

	return blobs, nil
}

func ListDatasets(txn *gorm.DB, teamId uuid.UUID, page utils.Pagination) ([]schema.Dataset, int64, error) {
	var total int64
	if err := txn.Model(&schema.Dataset{}).Where("team_id = ?", teamId).Count(&total).Error; err != nil {
		slog.Error("sql error counting datasets", "team_id", teamId, "error", err)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	var datasets []schema.Dataset
	result := txn.Where("team_id = ?", teamId).
		Order("created_at DESC").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&datasets)
	if result.Error != nil {
		slog.Error("sql error listing datasets", "team_id", teamId, "error", result.Error)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	return datasets, total, nil
}

// AdjustCounters applies the deltas in sql so concurrent writers do not lose updates.
func AdjustCounters(txn *gorm.DB, datasetId uuid.UUID, deltaRows, deltaReviewed int64) error {
	if deltaRows == 0 && deltaReviewed == 0 {
		return nil
	}

	result := txn.Model(&schema.Dataset{}).Where("id = ?", datasetId).Updates(map[string]interface{}{
		"rows_count":     gorm.Expr("rows_count + ?", deltaRows),
		"reviewed_count": gorm.Expr("reviewed_count + ?", deltaReviewed),
	})
	if result.Error != nil {
		slog.Error("sql error adjusting dataset counters", "dataset_id", datasetId, "error", result.Error)
		return utils.Internal(schema.ErrDbAccessFailed)
	}
	if result.RowsAffected == 0 {
		return utils.NotFound(schema.ErrDatasetNotFound)
	}
	return nil
}

// CountRows computes the counters of the dataset from its rows.
func CountRows(txn *gorm.DB, datasetId uuid.UUID) (Counters, error) {
	var counters Counters

	err := txn.Model(&schema.DatasetRow{}).Where("dataset_id = ?", datasetId).Count(&counters.Rows).Error
	if err != nil {
		slog.Error("sql error counting dataset rows", "dataset_id", datasetId, "error", err)
		return Counters{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	err = txn.Model(&schema.DatasetRow{}).
		Where("dataset_id = ? AND status = ?", datasetId, schema.StatusReviewed).
		Count(&counters.Reviewed).Error
	if err != nil {
		slog.Error("sql error counting reviewed dataset rows", "dataset_id", datasetId, "error", err)
		return Counters{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	return counters, nil
}

// RecountDataset overwrites the stored counters with a full recount.
func RecountDataset(txn *gorm.DB, datasetId uuid.UUID) (Counters, error) {
	counters, err := CountRows(txn, datasetId)
	if err != nil {
		return Counters{}, err
	}

	result := txn.Model(&schema.Dataset{}).Where("id = ?", datasetId).Updates(map[string]interface{}{
		"rows_count":     counters.Rows,
		"reviewed_count": counters.Reviewed,
	})
	if result.Error != nil {
		slog.Error("sql error storing recounted dataset counters", "dataset_id", datasetId, "error", result.Error)
		return Counters{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	return counters, nil
}
