package services

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type FeatureFlagService struct {
	db *gorm.DB
}

func (s *FeatureFlagService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.List)
	r.With(auth.AdminOnly).Patch("/{name}", s.Set)

	return r
}

func (s *FeatureFlagService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	flags, err := catalog.ListFeatureFlags(s.db, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to list feature flags", err)
		return
	}

	utils.WriteJsonResponse(w, convertList(flags, func(f schema.FeatureFlag) featureFlagInfo {
		return featureFlagInfo{Name: f.Name, Enabled: f.Enabled}
	}))
}

type setFlagRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *FeatureFlagService) Set(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	name, err := utils.URLParam(r, "name")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	var params setFlagRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Enabled == nil {
		utils.WriteError(w, "", utils.Validationf("enabled must be provided"))
		return
	}

	var flag schema.FeatureFlag
	err = s.db.Transaction(func(txn *gorm.DB) error {
		flag, err = catalog.SetFeatureFlag(txn, user.TeamId, name, *params.Enabled)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to update feature flag", err)
		return
	}

	utils.WriteJsonResponse(w, featureFlagInfo{Name: flag.Name, Enabled: flag.Enabled})
}
