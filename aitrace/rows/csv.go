package rows

import (
	"aitrace_platform/aitrace/fields"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/storage"
	"aitrace_platform/aitrace/utils"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ImageUrlColumn  = "image_url"
	maxImportErrors = 100
	exportPageSize  = 100
)

// CSVImport maps field ids, plus the reserved key image_url, to the csv
// columns holding their values.
type CSVImport struct {
	FileContent    string            `json:"file_content"`
	ColumnMapping  map[string]string `json:"column_mapping"`
	MarkAllPending bool              `json:"mark_all_pending"`
}

type ImportResult struct {
	Imported          int      `json:"imported"`
	SkippedDuplicates int      `json:"skipped_duplicates"`
	SkippedInvalid    int      `json:"skipped_invalid"`
	Errors            []string `json:"errors"`
}

func (r *ImportResult) invalid(rowNum int, format string, args ...interface{}) {
	r.SkippedInvalid++
	rowsImported.WithLabelValues("invalid").Inc()
	if len(r.Errors) < maxImportErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("Row %d: ", rowNum)+fmt.Sprintf(format, args...))
	}
}

func (r *ImportResult) duplicate() {
	r.SkippedDuplicates++
	rowsImported.WithLabelValues("duplicate").Inc()
}

func (r *ImportResult) imported() {
	r.Imported++
	rowsImported.WithLabelValues("imported").Inc()
}

type columnBinding struct {
	field fields.Field
	index int
}

func bindColumns(dc datasetContext, mapping map[string]string, header []string) (int, []columnBinding, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, seen := columns[name]; !seen {
			columns[name] = i
		}
	}

	byId := make(map[string]fields.Field, len(dc.fields))
	for _, f := range dc.fields {
		byId[f.Id.String()] = f
	}

	imageIndex := -1
	if column, ok := mapping[ImageUrlColumn]; ok {
		if i, found := columns[column]; found {
			imageIndex = i
		}
	}

	bindings := make([]columnBinding, 0, len(mapping))
	for key, column := range mapping {
		if key == ImageUrlColumn {
			continue
		}
		field, ok := byId[key]
		if !ok {
			return 0, nil, utils.Validationf("column_mapping key '%v' is not a field of the dataset schema", key)
		}
		if i, found := columns[column]; found {
			bindings = append(bindings, columnBinding{field: field, index: i})
		}
	}

	return imageIndex, bindings, nil
}

func cell(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ImportCSV creates a row for every csv record with a loadable image that is not
// already in the dataset. Bad records are counted and reported, they never stop
// the import.
func (e *Engine) ImportCSV(ctx context.Context, txn *gorm.DB, datasetId, teamId uuid.UUID, userId *uuid.UUID, input CSVImport) (ImportResult, error) {
	dc, err := loadDataset(txn, datasetId, teamId)
	if err != nil {
		return ImportResult{}, err
	}

	reader := csv.NewReader(strings.NewReader(input.FileContent))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ImportResult{}, utils.Validationf("csv file is empty")
		}
		return ImportResult{}, utils.Validation(fmt.Errorf("invalid csv header: %w", err))
	}

	imageIndex, bindings, err := bindColumns(dc, input.ColumnMapping, header)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Errors: []string{}}

	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.invalid(rowNum, "%v", err)
			continue
		}

		url := cell(record, imageIndex)
		if url == "" {
			result.invalid(rowNum, "Missing image URL")
			continue
		}

		if !isRemoteUrl(url) {
			result.invalid(rowNum, "Invalid image - %v", ErrImageUrlScheme)
			continue
		}
		image, err := e.fetcher.Fetch(ctx, url)
		if err != nil {
			result.invalid(rowNum, "Invalid image - %v", err)
			continue
		}
		hash := storage.ContentHash(image)

		exists, err := hashExists(txn, datasetId, hash, nil)
		if err != nil {
			return ImportResult{}, err
		}
		if exists {
			result.duplicate()
			continue
		}

		data := make(map[string]interface{}, len(bindings))
		var dataErr error
		for _, b := range bindings {
			value, err := fields.CoerceCSVValue(b.field, cell(record, b.index))
			if err != nil {
				dataErr = err
				break
			}
			if value != nil {
				data[b.field.Id.String()] = value
			}
		}
		if dataErr != nil {
			result.invalid(rowNum, "Invalid data - %v", dataErr)
			continue
		}

		status := schema.StatusPending
		if !input.MarkAllPending {
			status = fields.CalculateStatus(data, dc.required)
		}

		row := newRow(datasetId, userId, url, hash, data, status)

		// a failed row only rolls back its own savepoint
		err = txn.Transaction(func(rowTxn *gorm.DB) error {
			return insertRow(rowTxn, &row)
		})
		if err != nil {
			if utils.HasCode(err) && utils.GetResponseCode(err) == http.StatusConflict {
				result.duplicate()
			} else {
				result.invalid(rowNum, "%v", err)
			}
			continue
		}

		result.imported()
	}

	slog.Info("imported csv", "dataset_id", datasetId, "imported", result.Imported,
		"skipped_duplicates", result.SkippedDuplicates, "skipped_invalid", result.SkippedInvalid)

	return result, nil
}

func reviewedFilter(onlyReviewed bool) string {
	if onlyReviewed {
		return schema.StatusReviewed
	}
	return ""
}

// eachRow pages through the rows of the dataset oldest first. Pages are keyed on
// (created_at, id), which updates never change, so rows edited while an export
// runs are written exactly once.
func eachRow(txn *gorm.DB, datasetId uuid.UUID, status string, fn func(schema.DatasetRow) error) error {
	var last *schema.DatasetRow
	for {
		query := txn.Model(&schema.DatasetRow{}).Where("dataset_id = ?", datasetId)
		if status != "" {
			query = query.Where("status = ?", status)
		}
		if last != nil {
			query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", last.CreatedAt, last.CreatedAt, last.Id)
		}

		var rows []schema.DatasetRow
		result := query.Preload("Creator").Preload("Updater").
			Order("created_at ASC").Order("id ASC").
			Limit(exportPageSize).
			Find(&rows)
		if result.Error != nil {
			slog.Error("sql error paging rows for export", "dataset_id", datasetId, "error", result.Error)
			return utils.Internal(schema.ErrDbAccessFailed)
		}

		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		if len(rows) < exportPageSize {
			return nil
		}
		last = &rows[len(rows)-1]
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func userEmail(user *schema.User) string {
	if user == nil {
		return ""
	}
	return user.Email
}

// ExportCSV writes the header image_url, the field names in position order,
// status, created_at, updated_at, updated_by and then one record per row.
func ExportCSV(txn *gorm.DB, datasetId, teamId uuid.UUID, onlyReviewed bool, w io.Writer) error {
	dc, err := loadDataset(txn, datasetId, teamId)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)

	header := make([]string, 0, len(dc.fields)+5)
	header = append(header, ImageUrlColumn)
	for _, f := range dc.fields {
		header = append(header, f.Name)
	}
	header = append(header, "status", "created_at", "updated_at", "updated_by")

	if err := writer.Write(header); err != nil {
		return fmt.Errorf("error writing csv header: %w", err)
	}

	err = eachRow(txn, datasetId, reviewedFilter(onlyReviewed), func(row schema.DatasetRow) error {
		record := make([]string, 0, len(header))
		record = append(record, row.ImageUrl)
		for _, f := range dc.fields {
			record = append(record, fields.FormatValue(row.Data[f.Id.String()]))
		}
		record = append(record, row.Status, formatTime(row.CreatedAt), formatTime(row.UpdatedAt), userEmail(row.Updater))
		return writer.Write(record)
	})
	if err != nil {
		return err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("error writing csv: %w", err)
	}
	return nil
}
