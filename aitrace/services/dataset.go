package services

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/rows"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/storage"
	"aitrace_platform/aitrace/utils"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DatasetService struct {
	db      *gorm.DB
	storage storage.Storage
}

func (s *DatasetService) Routes(rowRoutes chi.Router) chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{dataset_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)
		r.Get("/export", s.Export)

		r.Get("/tests", s.ListTestRuns)
		r.Post("/tests", s.CreateTestRun)

		r.Mount("/rows", rowRoutes)
	})

	return r
}

func (s *DatasetService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	page, err := utils.ParsePagination(r)
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	datasets, total, err := catalog.ListDatasets(s.db, user.TeamId, page)
	if err != nil {
		utils.WriteError(w, "unable to list datasets", err)
		return
	}

	utils.WriteJsonResponse(w, utils.NewPageResponse(convertList(datasets, convertDataset), total, page))
}

func (s *DatasetService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	var params catalog.NewDataset
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var dataset schema.Dataset
	err = s.db.Transaction(func(txn *gorm.DB) error {
		dataset, err = catalog.CreateDataset(txn, user.TeamId, auth.UserIdPtr(user), params)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to create dataset", err)
		return
	}

	utils.WriteCreated(w, convertDataset(dataset))
}

func (s *DatasetService) Get(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	dataset, err := catalog.GetDataset(s.db, datasetId, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to retrieve dataset", err)
		return
	}

	utils.WriteJsonResponse(w, convertDataset(dataset))
}

func (s *DatasetService) Update(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var params catalog.DatasetUpdate
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var dataset schema.Dataset
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		dataset, err = catalog.UpdateDataset(txn, datasetId, user.TeamId, auth.UserIdPtr(user), params)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to update dataset", err)
		return
	}

	utils.WriteJsonResponse(w, convertDataset(dataset))
}

// Delete removes the dataset with its rows. Stored images are only deleted
// once the transaction has committed.
func (s *DatasetService) Delete(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var images []string
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		images, err = catalog.DeleteDataset(txn, datasetId, user.TeamId)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to delete dataset", err)
		return
	}

	storage.DeleteImages(r.Context(), s.storage, images)

	utils.WriteNoContent(w)
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func exportFilename(dataset schema.Dataset, ext string) string {
	name := unsafeFilenameChars.ReplaceAllString(dataset.Name, "_")
	if name == "" {
		name = "dataset"
	}
	return fmt.Sprintf("%v_%v.%v", name, time.Now().UTC().Format("20060102_150405"), ext)
}

type exportFunc func(txn *gorm.DB, datasetId, teamId uuid.UUID, onlyReviewed bool, w io.Writer) error

// writeExport renders the export into a buffer first so that failures can
// still be reported as json errors.
func writeExport(w http.ResponseWriter, db *gorm.DB, dataset schema.Dataset, onlyReviewed bool, format string) {
	var export exportFunc
	var contentType string

	switch format {
	case "csv":
		export, contentType = rows.ExportCSV, "text/csv"
	case "parquet":
		export, contentType = rows.ExportParquet, "application/vnd.apache.parquet"
	default:
		utils.WriteError(w, "", utils.Validationf("unsupported export format '%v', expected csv or parquet", format))
		return
	}

	buf := new(bytes.Buffer)
	if err := export(db, dataset.Id, dataset.TeamId, onlyReviewed, buf); err != nil {
		utils.WriteError(w, "unable to export dataset", err)
		return
	}

	slog.Info("exported dataset", "dataset_id", dataset.Id, "format", format, "only_reviewed", onlyReviewed, "bytes", buf.Len())

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%v"`, exportFilename(dataset, format)))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("error writing export", "dataset_id", dataset.Id, "error", err)
	}
}

func (s *DatasetService) Export(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	onlyReviewed, err := utils.BoolQueryParam(r, "only_reviewed", false)
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	dataset, err := catalog.GetDataset(s.db, datasetId, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to export dataset", err)
		return
	}

	writeExport(w, s.db, dataset, onlyReviewed, format)
}

func (s *DatasetService) ListTestRuns(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	page, err := utils.ParsePagination(r)
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	runs, total, err := catalog.ListTestRuns(s.db, datasetId, user.TeamId, page)
	if err != nil {
		utils.WriteError(w, "unable to list test runs", err)
		return
	}

	utils.WriteJsonResponse(w, utils.NewPageResponse(convertList(runs, convertTestRun), total, page))
}

func (s *DatasetService) CreateTestRun(w http.ResponseWriter, r *http.Request) {
	user, datasetId, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var params catalog.NewTestRun
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var run schema.TestRun
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		run, err = catalog.CreateTestRun(txn, datasetId, user.TeamId, params)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to record test run", err)
		return
	}

	utils.WriteCreated(w, convertTestRun(run))
}

// datasetRequest resolves the user and the {dataset_id} of a request, writing
// the error response when either is missing.
func datasetRequest(w http.ResponseWriter, r *http.Request) (schema.User, uuid.UUID, bool) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return schema.User{}, uuid.Nil, false
	}

	datasetId, err := utils.URLParamUUID(r, "dataset_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return schema.User{}, uuid.Nil, false
	}

	return user, datasetId, true
}
