package services

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/rows"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/storage"
	"aitrace_platform/aitrace/utils"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxUploadBytes = 10 << 20
	imageCacheAge  = "public, max-age=3600"
)

type RowService struct {
	db      *gorm.DB
	storage storage.Storage
	engine  *rows.Engine
}

func (s *RowService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Get("/queue", s.Queue)
	r.Get("/export", s.Export)
	r.Post("/", s.Create)
	r.Post("/upload", s.Upload)
	r.Post("/import", s.Import)
	r.Post("/bulk/update-status", s.BulkUpdateStatus)
	r.Post("/bulk/delete", s.BulkDelete)

	r.Route("/{row_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)
		r.Get("/image", s.Image)
	})

	return r
}

func (s *RowService) list(w http.ResponseWriter, r *http.Request, status string) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	page, err := utils.ParsePagination(r)
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	found, total, err := rows.ListRows(s.db, datasetId, user.TeamId, page, status)
	if err != nil {
		utils.WriteError(w, "unable to list rows", err)
		return
	}

	utils.WriteJsonResponse(w, utils.NewPageResponse(convertList(found, convertRow), total, page))
}

func (s *RowService) List(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, r.URL.Query().Get("status"))
}

// Queue lists the rows that still need review.
func (s *RowService) Queue(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, schema.StatusPending)
}

func (s *RowService) Export(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	onlyReviewed, err := utils.BoolQueryParam(r, "only_reviewed", false)
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	dataset, err := catalog.GetDataset(s.db, datasetId, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to export rows", err)
		return
	}

	writeExport(w, s.db, dataset, onlyReviewed, "csv")
}

func (s *RowService) Create(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var params rows.NewRow
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var row schema.DatasetRow
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		row, err = s.engine.CreateRow(r.Context(), txn, datasetId, user.TeamId, auth.UserIdPtr(user), params)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to create row", err)
		return
	}

	utils.WriteCreated(w, convertRow(row))
}

func parseUpload(r *http.Request) (rows.Upload, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return rows.Upload{}, utils.Validationf("invalid multipart form: %v", err)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return rows.Upload{}, utils.Validationf("missing file in upload: %v", err)
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return rows.Upload{}, utils.Validationf("unable to read uploaded file: %v", err)
	}
	if len(image) > maxUploadBytes {
		return rows.Upload{}, utils.Validationf("uploaded file is too large (max 10MB)")
	}

	upload := rows.Upload{Image: image, SourceUrl: strings.TrimSpace(r.FormValue("source_url"))}

	if raw := r.FormValue("data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &upload.Data); err != nil {
			return rows.Upload{}, utils.Validationf("data must be a json object: %v", err)
		}
	}
	if comment := r.FormValue("comment"); comment != "" {
		upload.Comment = &comment
	}

	return upload, nil
}

func (s *RowService) Upload(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	upload, err := parseUpload(r)
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	var row schema.DatasetRow
	err = s.db.Transaction(func(txn *gorm.DB) error {
		row, err = s.engine.CreateRowFromUpload(r.Context(), txn, datasetId, user.TeamId, auth.UserIdPtr(user), upload)
		return err
	})
	if err != nil {
		if row.StoragePath != nil {
			storage.DeleteImages(r.Context(), s.storage, []string{*row.StoragePath})
		}
		utils.WriteError(w, "unable to upload image", err)
		return
	}

	utils.WriteCreated(w, convertRow(row))
}

func (s *RowService) Import(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var params rows.CSVImport
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var result rows.ImportResult
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		result, err = s.engine.ImportCSV(r.Context(), txn, datasetId, user.TeamId, auth.UserIdPtr(user), params)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to import csv", err)
		return
	}

	if result.Errors == nil {
		result.Errors = []string{}
	}
	utils.WriteJsonResponse(w, result)
}

type bulkStatusRequest struct {
	RowIds []uuid.UUID `json:"row_ids"`
	Status string      `json:"status"`
}

func (s *RowService) BulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var params bulkStatusRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		return rows.BulkUpdateStatus(txn, datasetId, user.TeamId, auth.UserIdPtr(user), params.RowIds, params.Status)
	})
	if err != nil {
		utils.WriteError(w, "unable to update rows", err)
		return
	}

	utils.WriteNoContent(w)
}

type bulkDeleteRequest struct {
	RowIds []uuid.UUID `json:"row_ids"`
}

func (s *RowService) BulkDelete(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var params bulkDeleteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var images []string
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		images, err = rows.BulkDelete(txn, datasetId, user.TeamId, params.RowIds)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to delete rows", err)
		return
	}

	storage.DeleteImages(r.Context(), s.storage, images)

	utils.WriteNoContent(w)
}

func rowRequest(w http.ResponseWriter, r *http.Request) (schema.User, uuid.UUID, uuid.UUID, bool) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return user, datasetId, uuid.Nil, false
	}

	rowId, err := utils.URLParamUUID(r, "row_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return user, datasetId, uuid.Nil, false
	}

	return user, datasetId, rowId, true
}

func (s *RowService) Get(w http.ResponseWriter, r *http.Request) {
	user, datasetId, rowId, ok := rowRequest(w, r)
	if !ok {
		return
	}

	row, err := rows.GetRow(s.db, rowId, datasetId, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to retrieve row", err)
		return
	}

	utils.WriteJsonResponse(w, convertRow(row))
}

func (s *RowService) Update(w http.ResponseWriter, r *http.Request) {
	user, datasetId, rowId, ok := rowRequest(w, r)
	if !ok {
		return
	}

	var params rows.RowUpdate
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var row schema.DatasetRow
	var orphaned []string
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		row, orphaned, err = s.engine.UpdateRow(r.Context(), txn, rowId, datasetId, user.TeamId, auth.UserIdPtr(user), params)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to update row", err)
		return
	}

	storage.DeleteImages(r.Context(), s.storage, orphaned)

	utils.WriteJsonResponse(w, convertRow(row))
}

func (s *RowService) Delete(w http.ResponseWriter, r *http.Request) {
	user, datasetId, rowId, ok := rowRequest(w, r)
	if !ok {
		return
	}

	var images []string
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		images, err = rows.DeleteRow(txn, rowId, datasetId, user.TeamId)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to delete row", err)
		return
	}

	storage.DeleteImages(r.Context(), s.storage, images)

	utils.WriteNoContent(w)
}

func isHttpUrl(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// Image redirects to where the row's image can be loaded from. Stored images
// are served through a signed url, or streamed directly when the storage does
// not produce urls a browser can follow.
func (s *RowService) Image(w http.ResponseWriter, r *http.Request) {
	user, datasetId, rowId, ok := rowRequest(w, r)
	if !ok {
		return
	}

	row, err := rows.GetRow(s.db, rowId, datasetId, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to retrieve row", err)
		return
	}

	w.Header().Set("Cache-Control", imageCacheAge)

	if row.StoragePath == nil {
		http.Redirect(w, r, row.ImageUrl, http.StatusTemporaryRedirect)
		return
	}

	signed, err := s.storage.GetSignedUrl(r.Context(), *row.StoragePath, signedUrlMinutes)
	if err != nil {
		slog.Error("unable to sign image url", "row_id", row.Id, "error", err)
		utils.WriteError(w, "unable to load image", utils.Internal(err))
		return
	}

	if isHttpUrl(signed) {
		http.Redirect(w, r, signed, http.StatusTemporaryRedirect)
		return
	}

	data, err := s.storage.ReadImage(r.Context(), *row.StoragePath)
	if err != nil {
		utils.WriteError(w, "unable to load image", imageReadError(err))
		return
	}
	writeImage(w, data)
}

func imageReadError(err error) error {
	if errors.Is(err, storage.ErrImageMissing) {
		return utils.NotFound(err)
	}
	return utils.Internal(err)
}

func writeImage(w http.ResponseWriter, data []byte) {
	_, mediaType, err := storage.DetectImageType(data)
	if err != nil {
		utils.WriteError(w, "", utils.Validation(err))
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("error writing image", "error", err)
	}
}
