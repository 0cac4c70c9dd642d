package rows

import (
	"aitrace_platform/aitrace/fields"
	"aitrace_platform/aitrace/schema"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"gorm.io/gorm"
)

var fixedParquetColumns = []string{"id", "image_url", "status", "created_at", "updated_at", "updated_by"}

type parquetLayout struct {
	schema  *parquet.Schema
	fields  []string
	indexes map[string]int
}

// parquetColumns names one column per field, prefixing any name that would
// collide with a fixed column or an earlier field.
func parquetColumns(fieldList []fields.Field) []string {
	taken := make(map[string]bool, len(fixedParquetColumns)+len(fieldList))
	for _, name := range fixedParquetColumns {
		taken[name] = true
	}

	names := make([]string, 0, len(fieldList))
	for _, f := range fieldList {
		name := f.Name
		for taken[name] {
			name = "field_" + name
		}
		taken[name] = true
		names = append(names, name)
	}
	return names
}

func newParquetLayout(fieldList []fields.Field) parquetLayout {
	fieldColumns := parquetColumns(fieldList)

	group := parquet.Group{}
	for _, name := range append(append([]string{}, fixedParquetColumns...), fieldColumns...) {
		group[name] = parquet.Optional(parquet.String())
	}
	s := parquet.NewSchema("dataset_row", group)

	indexes := make(map[string]int)
	for i, path := range s.Columns() {
		indexes[path[0]] = i
	}

	return parquetLayout{schema: s, fields: fieldColumns, indexes: indexes}
}

func (l parquetLayout) row(values map[string]string) parquet.Row {
	row := make(parquet.Row, len(l.indexes))
	for name, i := range l.indexes {
		value, ok := values[name]
		if !ok || value == "" {
			row[i] = parquet.NullValue().Level(0, 0, i)
		} else {
			row[i] = parquet.ByteArrayValue([]byte(value)).Level(0, 1, i)
		}
	}
	return row
}

// ExportParquet writes the same rows as ExportCSV as a parquet file with
// optional string columns. Empty values are written as nulls.
func ExportParquet(txn *gorm.DB, datasetId, teamId uuid.UUID, onlyReviewed bool, w io.Writer) error {
	dc, err := loadDataset(txn, datasetId, teamId)
	if err != nil {
		return err
	}

	layout := newParquetLayout(dc.fields)
	writer := parquet.NewWriter(w, layout.schema)

	err = eachRow(txn, datasetId, reviewedFilter(onlyReviewed), func(r schema.DatasetRow) error {
		values := map[string]string{
			"id":         r.Id.String(),
			"image_url":  r.ImageUrl,
			"status":     r.Status,
			"created_at": formatTime(r.CreatedAt),
			"updated_at": formatTime(r.UpdatedAt),
			"updated_by": userEmail(r.Updater),
		}
		for i, f := range dc.fields {
			values[layout.fields[i]] = fields.FormatValue(r.Data[f.Id.String()])
		}
		if _, err := writer.WriteRows([]parquet.Row{layout.row(values)}); err != nil {
			return fmt.Errorf("error writing parquet row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("error closing parquet writer: %w", err)
	}
	return nil
}
