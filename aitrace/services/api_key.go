package services

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type APIKeyService struct {
	db *gorm.DB
}

func (s *APIKeyService) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.AdminOnly)

	r.Get("/", s.List)
	r.Post("/", s.Create)
	r.Delete("/{key_id}", s.Delete)

	return r
}

func (s *APIKeyService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	keys, err := catalog.ListAPIKeys(s.db, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to list api keys", err)
		return
	}

	utils.WriteJsonResponse(w, convertList(keys, convertAPIKey))
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

type createAPIKeyResponse struct {
	Id        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Preview   string    `json:"preview"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// Create returns the full key. It is not stored and cannot be retrieved again.
func (s *APIKeyService) Create(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	var params createAPIKeyRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	generated, err := auth.GenerateAPIKey()
	if err != nil {
		utils.WriteError(w, "unable to create api key", utils.Internal(err))
		return
	}

	var key schema.APIKey
	err = s.db.Transaction(func(txn *gorm.DB) error {
		key, err = catalog.CreateAPIKey(txn, user.TeamId, user.Id, catalog.NewAPIKey{
			Name:    params.Name,
			Preview: generated.Preview,
			KeyHash: generated.Hash,
		})
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to create api key", err)
		return
	}

	utils.WriteCreated(w, createAPIKeyResponse{
		Id:        key.Id,
		Name:      key.Name,
		Preview:   key.Preview,
		Key:       generated.Key,
		CreatedAt: key.CreatedAt,
	})
}

func (s *APIKeyService) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	keyId, err := utils.URLParamUUID(r, "key_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return catalog.DeleteAPIKey(txn, keyId, user.TeamId)
	})
	if err != nil {
		utils.WriteError(w, "unable to delete api key", err)
		return
	}

	utils.WriteNoContent(w)
}
