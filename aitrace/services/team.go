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

type TeamService struct {
	db *gorm.DB
}

func (s *TeamService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.Get)
	r.With(auth.AdminOnly).Put("/", s.Rename)

	return r
}

func (s *TeamService) Get(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	team, err := catalog.GetTeam(s.db, user.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to retrieve team", err)
		return
	}

	utils.WriteJsonResponse(w, convertTeam(team))
}

type renameTeamRequest struct {
	Name string `json:"name"`
}

func (s *TeamService) Rename(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	var params renameTeamRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var team schema.Team
	err = s.db.Transaction(func(txn *gorm.DB) error {
		team, err = catalog.RenameTeam(txn, user.TeamId, params.Name)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to rename team", err)
		return
	}

	utils.WriteJsonResponse(w, convertTeam(team))
}
