package rows

import (
	"aitrace_platform/aitrace/ai"
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/fields"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/storage"
	"aitrace_platform/aitrace/utils"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrDuplicateImage = errors.New("This image already exists in the dataset")
	ErrImageUrlScheme = errors.New("image_url must be an http(s) url")
)

type NewRow struct {
	ImageUrl string                 `json:"image_url"`
	Data     map[string]interface{} `json:"data"`
	Comment  *string                `json:"comment"`
}

// RowUpdate changes only what is set. Data, when set, replaces the row's data
// and rederives its status, an explicit Status wins over the derived one.
type RowUpdate struct {
	ImageUrl *string                `json:"image_url"`
	Data     map[string]interface{} `json:"data"`
	Status   *string                `json:"status"`
	Comment  *string                `json:"comment"`
}

type Engine struct {
	store   storage.Storage
	fetcher ImageFetcher
	titles  ai.TitleSuggester
}

// NewEngine builds the row engine. titles may be nil, which disables title suggestions.
func NewEngine(store storage.Storage, fetcher ImageFetcher, titles ai.TitleSuggester) *Engine {
	return &Engine{store: store, fetcher: fetcher, titles: titles}
}

type datasetContext struct {
	dataset  schema.Dataset
	fields   []fields.Field
	required []string
}

func loadDataset(txn *gorm.DB, datasetId, teamId uuid.UUID) (datasetContext, error) {
	dataset, err := catalog.GetDataset(txn, datasetId, teamId)
	if err != nil {
		return datasetContext{}, err
	}

	s, err := fields.GetSchema(txn, dataset.SchemaId, teamId)
	if err != nil {
		return datasetContext{}, err
	}

	loaded, err := fields.LoadFields(s)
	if err != nil {
		slog.Error("dataset schema has invalid fields", "dataset_id", datasetId, "schema_id", s.Id, "error", err)
		return datasetContext{}, utils.Internal(err)
	}

	return datasetContext{dataset: dataset, fields: loaded, required: fields.RequiredFieldIds(loaded)}, nil
}

// fetchImage only loads remote urls. Keys of our own storage are never accepted
// from callers, they could name another team's blobs.
func (e *Engine) fetchImage(ctx context.Context, url string) ([]byte, error) {
	if !isRemoteUrl(url) {
		return nil, ErrImageUrlScheme
	}
	data, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("image could not be loaded: %w", err)
	}
	return data, nil
}

func reviewedDelta(status string) int64 {
	if status == schema.StatusReviewed {
		return 1
	}
	return 0
}

func hashExists(txn *gorm.DB, datasetId uuid.UUID, hash string, exclude *uuid.UUID) (bool, error) {
	query := txn.Model(&schema.DatasetRow{}).Where("dataset_id = ? AND image_hash = ?", datasetId, hash)
	if exclude != nil {
		query = query.Where("id <> ?", *exclude)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		slog.Error("sql error checking for duplicate image", "dataset_id", datasetId, "error", err)
		return false, utils.Internal(schema.ErrDbAccessFailed)
	}
	return count > 0, nil
}

// insertRow stores a new row and updates the counters of its dataset. The
// unique index on (dataset_id, image_hash) settles races the count check misses.
func insertRow(txn *gorm.DB, row *schema.DatasetRow) error {
	exists, err := hashExists(txn, row.DatasetId, row.ImageHash, nil)
	if err != nil {
		return err
	}
	if exists {
		return utils.Duplicate(ErrDuplicateImage)
	}

	if err := txn.Create(row).Error; err != nil {
		if schema.IsUniqueViolation(err) {
			return utils.Duplicate(ErrDuplicateImage)
		}
		slog.Error("sql error creating row", "dataset_id", row.DatasetId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	if err := catalog.AdjustCounters(txn, row.DatasetId, 1, reviewedDelta(row.Status)); err != nil {
		return err
	}

	rowsCreated.Inc()
	return nil
}

func newRow(datasetId uuid.UUID, userId *uuid.UUID, url, hash string, data map[string]interface{}, status string) schema.DatasetRow {
	if data == nil {
		data = map[string]interface{}{}
	}
	return schema.DatasetRow{
		Id:        uuid.New(),
		DatasetId: datasetId,
		ImageUrl:  url,
		ImageHash: hash,
		Data:      datatypes.JSONMap(data),
		Status:    status,
		CreatedBy: userId,
		UpdatedBy: userId,
	}
}

func GetRow(txn *gorm.DB, rowId, datasetId, teamId uuid.UUID) (schema.DatasetRow, error) {
	if _, err := catalog.GetDataset(txn, datasetId, teamId); err != nil {
		return schema.DatasetRow{}, err
	}

	row, err := schema.GetRow(rowId, datasetId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrRowNotFound) {
			return row, utils.NotFound(err)
		}
		return row, utils.Internal(err)
	}
	return row, nil
}

func (e *Engine) CreateRow(ctx context.Context, txn *gorm.DB, datasetId, teamId uuid.UUID, userId *uuid.UUID, input NewRow) (schema.DatasetRow, error) {
	dc, err := loadDataset(txn, datasetId, teamId)
	if err != nil {
		return schema.DatasetRow{}, err
	}

	url := strings.TrimSpace(input.ImageUrl)
	if url == "" {
		return schema.DatasetRow{}, utils.Validationf("image_url is required")
	}

	if err := fields.ValidateData(dc.fields, input.Data); err != nil {
		return schema.DatasetRow{}, utils.Validation(err)
	}

	image, err := e.fetchImage(ctx, url)
	if err != nil {
		return schema.DatasetRow{}, utils.Validation(err)
	}

	row := newRow(datasetId, userId, url, storage.ContentHash(image), input.Data, fields.CalculateStatus(input.Data, dc.required))
	row.Comment = input.Comment

	if err := insertRow(txn, &row); err != nil {
		return schema.DatasetRow{}, err
	}

	slog.Info("created row", "row_id", row.Id, "dataset_id", datasetId, "status", row.Status)

	return GetRow(txn, row.Id, datasetId, teamId)
}

// UpdateRow applies the update and returns the row with the storage urls that
// are no longer referenced, to be deleted after commit.
func (e *Engine) UpdateRow(ctx context.Context, txn *gorm.DB, rowId, datasetId, teamId uuid.UUID, userId *uuid.UUID, update RowUpdate) (schema.DatasetRow, []string, error) {
	dc, err := loadDataset(txn, datasetId, teamId)
	if err != nil {
		return schema.DatasetRow{}, nil, err
	}

	row, err := GetRow(txn, rowId, datasetId, teamId)
	if err != nil {
		return schema.DatasetRow{}, nil, err
	}

	changes := map[string]interface{}{
		"updated_by": userId,
		"updated_at": time.Now().UTC(),
	}
	var orphaned []string
	status := row.Status

	if update.ImageUrl != nil {
		url := strings.TrimSpace(*update.ImageUrl)
		if url == "" {
			return schema.DatasetRow{}, nil, utils.Validationf("image_url cannot be empty")
		}
		if url != row.ImageUrl {
			image, err := e.fetchImage(ctx, url)
			if err != nil {
				return schema.DatasetRow{}, nil, utils.Validation(err)
			}
			hash := storage.ContentHash(image)

			exists, err := hashExists(txn, datasetId, hash, &rowId)
			if err != nil {
				return schema.DatasetRow{}, nil, err
			}
			if exists {
				return schema.DatasetRow{}, nil, utils.Duplicate(ErrDuplicateImage)
			}

			changes["image_url"] = url
			changes["image_hash"] = hash
			if row.StoragePath != nil {
				orphaned = append(orphaned, *row.StoragePath)
				changes["storage_path"] = nil
			}
		}
	}

	if update.Data != nil {
		if err := fields.ValidateData(dc.fields, update.Data); err != nil {
			return schema.DatasetRow{}, nil, utils.Validation(err)
		}
		changes["data"] = datatypes.JSONMap(update.Data)
		status = fields.CalculateStatus(update.Data, dc.required)
	}

	if update.Status != nil {
		if !schema.CheckValidRowStatus(*update.Status) {
			return schema.DatasetRow{}, nil, utils.Validationf("invalid status '%v'", *update.Status)
		}
		status = *update.Status
	}
	changes["status"] = status

	if update.Comment != nil {
		changes["comment"] = *update.Comment
	}

	if err := txn.Model(&schema.DatasetRow{}).Where("id = ?", rowId).Updates(changes).Error; err != nil {
		if schema.IsUniqueViolation(err) {
			return schema.DatasetRow{}, nil, utils.Duplicate(ErrDuplicateImage)
		}
		slog.Error("sql error updating row", "row_id", rowId, "error", err)
		return schema.DatasetRow{}, nil, utils.Internal(schema.ErrDbAccessFailed)
	}

	delta := reviewedDelta(status) - reviewedDelta(row.Status)
	if err := catalog.AdjustCounters(txn, datasetId, 0, delta); err != nil {
		return schema.DatasetRow{}, nil, err
	}

	updated, err := GetRow(txn, rowId, datasetId, teamId)
	if err != nil {
		return schema.DatasetRow{}, nil, err
	}
	return updated, orphaned, nil
}

func storedImages(rows []schema.DatasetRow) []string {
	paths := make([]string, 0)
	for _, row := range rows {
		if row.StoragePath != nil {
			paths = append(paths, *row.StoragePath)
		}
	}
	return paths
}

func deleteRows(txn *gorm.DB, datasetId uuid.UUID, rows []schema.DatasetRow) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	var reviewed int64
	for _, row := range rows {
		ids = append(ids, row.Id)
		reviewed += reviewedDelta(row.Status)
	}

	if err := txn.Where("dataset_id = ? AND id IN ?", datasetId, ids).Delete(&schema.DatasetRow{}).Error; err != nil {
		slog.Error("sql error deleting rows", "dataset_id", datasetId, "n_rows", len(ids), "error", err)
		return nil, utils.Internal(schema.ErrDbAccessFailed)
	}

	if err := catalog.AdjustCounters(txn, datasetId, -int64(len(rows)), -reviewed); err != nil {
		return nil, err
	}

	rowsDeleted.Add(float64(len(rows)))

	return storedImages(rows), nil
}

// DeleteRow removes the row and returns the storage urls to delete after commit.
func DeleteRow(txn *gorm.DB, rowId, datasetId, teamId uuid.UUID) ([]string, error) {
	row, err := GetRow(txn, rowId, datasetId, teamId)
	if err != nil {
		return nil, err
	}

	blobs, err := deleteRows(txn, datasetId, []schema.DatasetRow{row})
	if err != nil {
		return nil, err
	}

	slog.Info("deleted row", "row_id", rowId, "dataset_id", datasetId)
	return blobs, nil
}

// BulkDelete removes the given rows of the dataset, ids of other datasets are ignored.
func BulkDelete(txn *gorm.DB, datasetId, teamId uuid.UUID, rowIds []uuid.UUID) ([]string, error) {
	if _, err := catalog.GetDataset(txn, datasetId, teamId); err != nil {
		return nil, err
	}
	if len(rowIds) == 0 {
		return nil, nil
	}

	var rows []schema.DatasetRow
	if err := txn.Where("dataset_id = ? AND id IN ?", datasetId, rowIds).Find(&rows).Error; err != nil {
		slog.Error("sql error loading rows for bulk delete", "dataset_id", datasetId, "error", err)
		return nil, utils.Internal(schema.ErrDbAccessFailed)
	}

	blobs, err := deleteRows(txn, datasetId, rows)
	if err != nil {
		return nil, err
	}

	slog.Info("bulk deleted rows", "dataset_id", datasetId, "n_rows", len(rows))
	return blobs, nil
}

// BulkUpdateStatus sets the status of the given rows without looking at their data.
func BulkUpdateStatus(txn *gorm.DB, datasetId, teamId uuid.UUID, userId *uuid.UUID, rowIds []uuid.UUID, status string) error {
	if !schema.CheckValidRowStatus(status) {
		return utils.Validationf("invalid status '%v'", status)
	}
	if _, err := catalog.GetDataset(txn, datasetId, teamId); err != nil {
		return err
	}
	if len(rowIds) == 0 {
		return nil
	}

	var changing int64
	err := txn.Model(&schema.DatasetRow{}).
		Where("dataset_id = ? AND id IN ? AND status <> ?", datasetId, rowIds, status).
		Count(&changing).Error
	if err != nil {
		slog.Error("sql error counting rows for status update", "dataset_id", datasetId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	result := txn.Model(&schema.DatasetRow{}).
		Where("dataset_id = ? AND id IN ?", datasetId, rowIds).
		Updates(map[string]interface{}{"status": status, "updated_by": userId, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		slog.Error("sql error bulk updating row status", "dataset_id", datasetId, "error", result.Error)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	delta := changing
	if status == schema.StatusPending {
		delta = -changing
	}
	return catalog.AdjustCounters(txn, datasetId, 0, delta)
}

// ListRows returns the most recently updated rows first. An empty status lists every row.
func ListRows(txn *gorm.DB, datasetId, teamId uuid.UUID, page utils.Pagination, status string) ([]schema.DatasetRow, int64, error) {
	if status != "" && !schema.CheckValidRowStatus(status) {
		return nil, 0, utils.Validationf("invalid status '%v'", status)
	}
	if _, err := catalog.GetDataset(txn, datasetId, teamId); err != nil {
		return nil, 0, err
	}

	return listRows(txn, datasetId, page, status)
}

func listRows(txn *gorm.DB, datasetId uuid.UUID, page utils.Pagination, status string) ([]schema.DatasetRow, int64, error) {
	filtered := func() *gorm.DB {
		query := txn.Model(&schema.DatasetRow{}).Where("dataset_id = ?", datasetId)
		if status != "" {
			query = query.Where("status = ?", status)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		slog.Error("sql error counting rows", "dataset_id", datasetId, "error", err)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	var rows []schema.DatasetRow
	result := filtered().
		Preload("Creator").Preload("Updater").
		Order("updated_at DESC").Order("id ASC").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&rows)
	if result.Error != nil {
		slog.Error("sql error listing rows", "dataset_id", datasetId, "error", result.Error)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	return rows, total, nil
}
