package services

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/fields"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type SchemaService struct {
	db *gorm.DB
}

func (s *SchemaService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{schema_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)
	})

	return r
}

func (s *SchemaService) List(w http.ResponseWriter, r *http.Request) {
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

	schemas, total, err := fields.ListSchemas(s.db, user.TeamId, page)
	if err != nil {
		utils.WriteError(w, "unable to list schemas", err)
		return
	}

	utils.WriteJsonResponse(w, utils.NewPageResponse(convertList(schemas, convertSchema), total, page))
}

func (s *SchemaService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	var params fields.NewSchema
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var created schema.Schema
	err = s.db.Transaction(func(txn *gorm.DB) error {
		created, err = fields.CreateSchema(txn, user.TeamId, auth.UserIdPtr(user), params)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to create schema", err)
		return
	}

	slog.Info("schema created", "schema_id", created.Id, "team_id", user.TeamId, "n_fields", len(created.Fields))
	utils.WriteCreated(w, convertSchema(created))
}

func (s *SchemaService) Get(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	schemaId, err := utils.URLParamUUID(r, "schema_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	found, err := fields.GetSchema(s.db, schemaId, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to retrieve schema", err)
		return
	}

	utils.WriteJsonResponse(w, convertSchema(found))
}

func (s *SchemaService) Update(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	schemaId, err := utils.URLParamUUID(r, "schema_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	var params fields.SchemaUpdate
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var updated schema.Schema
	err = s.db.Transaction(func(txn *gorm.DB) error {
		updated, err = fields.UpdateSchema(txn, schemaId, user.TeamId, auth.UserIdPtr(user), params)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to update schema", err)
		return
	}

	utils.WriteJsonResponse(w, convertSchema(updated))
}

func (s *SchemaService) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	schemaId, err := utils.URLParamUUID(r, "schema_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return fields.DeleteSchema(txn, schemaId, user.TeamId)
	})
	if err != nil {
		utils.WriteError(w, "unable to delete schema", err)
		return
	}

	slog.Info("schema deleted", "schema_id", schemaId, "team_id", user.TeamId)
	utils.WriteNoContent(w)
}
