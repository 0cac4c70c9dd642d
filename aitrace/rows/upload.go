package rows

import (
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/fields"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/storage"
	"aitrace_platform/aitrace/utils"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const titleFieldName = "name"

type Upload struct {
	Image     []byte
	SourceUrl string
	Data      map[string]interface{}
	Comment   *string
}

func storageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrInvalidImage):
		return utils.Validation(err)
	case errors.Is(err, storage.ErrImageExists):
		return utils.Duplicate(ErrDuplicateImage)
	case errors.Is(err, storage.ErrInsufficientStorage):
		return utils.CodedError(err, http.StatusInsufficientStorage)
	default:
		return utils.Internal(err)
	}
}

func titleField(fieldList []fields.Field) (fields.Field, bool) {
	for _, f := range fieldList {
		if f.Type == fields.Text && strings.EqualFold(f.Name, titleFieldName) {
			return f, true
		}
	}
	return fields.Field{}, false
}

func isBlank(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

// suggestTitle fills in the name field from the llm when the uploader left it
// empty. Any failure leaves the data unchanged.
func (e *Engine) suggestTitle(ctx context.Context, txn *gorm.DB, teamId uuid.UUID, dc datasetContext, upload Upload, info storage.ImageInfo, data map[string]interface{}) {
	if e.titles == nil || upload.SourceUrl == "" {
		return
	}

	field, ok := titleField(dc.fields)
	if !ok || !isBlank(data[field.Id.String()]) {
		return
	}

	enabled, err := catalog.IsFeatureEnabled(txn, teamId, catalog.FlagAiNameCreation)
	if err != nil || !enabled {
		return
	}

	title, err := e.titles.SuggestTitle(ctx, upload.SourceUrl, upload.Image, info.MediaType)
	if err != nil {
		slog.Warn("title suggestion failed", "dataset_id", dc.dataset.Id, "error", err)
		return
	}
	if title != "" {
		if err := fields.ValidateValue(field, title); err != nil {
			slog.Warn("suggested title is not valid for name field", "title", title, "error", err)
			return
		}
		data[field.Id.String()] = title
	}
}

// CreateRowFromUpload stores the uploaded bytes in our storage and creates a
// row pointing at them. The stored blob is removed again if the row cannot be
// created.
func (e *Engine) CreateRowFromUpload(ctx context.Context, txn *gorm.DB, datasetId, teamId uuid.UUID, userId *uuid.UUID, upload Upload) (created schema.DatasetRow, err error) {
	dc, err := loadDataset(txn, datasetId, teamId)
	if err != nil {
		return schema.DatasetRow{}, err
	}

	if len(upload.Image) == 0 {
		return schema.DatasetRow{}, utils.Validationf("uploaded file is empty")
	}

	if err := fields.ValidateData(dc.fields, upload.Data); err != nil {
		return schema.DatasetRow{}, utils.Validation(err)
	}

	hash := storage.ContentHash(upload.Image)
	exists, err := hashExists(txn, datasetId, hash, nil)
	if err != nil {
		return schema.DatasetRow{}, err
	}
	if exists {
		return schema.DatasetRow{}, utils.Duplicate(ErrDuplicateImage)
	}

	info, err := e.store.SaveImage(ctx, datasetId, upload.Image)
	if err != nil {
		return schema.DatasetRow{}, storageError(err)
	}
	defer func() {
		if err != nil {
			storage.DeleteImages(ctx, e.store, []string{info.Url})
		}
	}()

	data := make(map[string]interface{}, len(upload.Data)+1)
	maps.Copy(data, upload.Data)
	e.suggestTitle(ctx, txn, teamId, dc, upload, info, data)

	url := upload.SourceUrl
	if url == "" {
		url = info.Url
	}

	row := newRow(datasetId, userId, url, info.Hash, data, fields.CalculateStatus(data, dc.required))
	row.StoragePath = &info.Url
	row.Comment = upload.Comment

	if err := insertRow(txn, &row); err != nil {
		return schema.DatasetRow{}, err
	}

	slog.Info("created row from upload", "row_id", row.Id, "dataset_id", datasetId, "media_type", info.MediaType)

	created, err = GetRow(txn, row.Id, datasetId, teamId)
	if err != nil {
		return schema.DatasetRow{}, fmt.Errorf("error loading uploaded row: %w", err)
	}
	return created, nil
}
