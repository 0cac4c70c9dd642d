package services

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// UserService manages the members of the requesting admin's team. New users
// and password resets are given a temporary password that must be changed on
// the next login.
type UserService struct {
	db *gorm.DB
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.AdminOnly)

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{user_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.UpdateRole)
		r.Delete("/", s.Delete)
		r.Post("/reset-password", s.ResetPassword)
	})

	return r
}

func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
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

	users, total, err := catalog.ListUsers(s.db, user.TeamId, page)
	if err != nil {
		utils.WriteError(w, "unable to list users", err)
		return
	}

	utils.WriteJsonResponse(w, utils.NewPageResponse(convertList(users, convertUser), total, page))
}

type createUserRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type userWithPassword struct {
	User         userInfo `json:"user"`
	TempPassword string   `json:"temp_password"`
}

func (s *UserService) Create(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	var params createUserRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	password, hash, err := newTempPassword()
	if err != nil {
		utils.WriteError(w, "unable to create user", err)
		return
	}

	var user schema.User
	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err = catalog.CreateUser(txn, admin.TeamId, catalog.NewUser{
			Email:        params.Email,
			Role:         params.Role,
			PasswordHash: hash,
			MustResetPwd: true,
		})
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to create user", err)
		return
	}

	slog.Info("user created", "user_id", user.Id, "team_id", user.TeamId, "created_by", admin.Id)

	utils.WriteCreated(w, userWithPassword{User: convertUser(user), TempPassword: password})
}

func newTempPassword() (string, []byte, error) {
	password, err := auth.TempPassword()
	if err != nil {
		return "", nil, utils.Internal(err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", nil, utils.Internal(err)
	}
	return password, hash, nil
}

func (s *UserService) Get(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	user, err := catalog.GetTeamUser(s.db, userId, admin.TeamId)
	if err != nil {
		utils.WriteError(w, "unable to retrieve user", err)
		return
	}

	utils.WriteJsonResponse(w, convertUser(user))
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (s *UserService) UpdateRole(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	var params updateRoleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var user schema.User
	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err = catalog.UpdateUserRole(txn, userId, admin.TeamId, params.Role)
		return err
	})
	if err != nil {
		utils.WriteError(w, "unable to update role", err)
		return
	}

	utils.WriteJsonResponse(w, convertUser(user))
}

func (s *UserService) Delete(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return catalog.DeleteUser(txn, userId, admin.TeamId, admin.Id)
	})
	if err != nil {
		utils.WriteError(w, "unable to delete user", err)
		return
	}

	slog.Info("user deleted", "user_id", userId, "deleted_by", admin.Id)
	utils.WriteNoContent(w)
}

func (s *UserService) ResetPassword(w http.ResponseWriter, r *http.Request) {
	admin, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		utils.WriteError(w, "", err)
		return
	}

	password, hash, err := newTempPassword()
	if err != nil {
		utils.WriteError(w, "unable to reset password", err)
		return
	}

	var user schema.User
	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err = catalog.GetTeamUser(txn, userId, admin.TeamId)
		if err != nil {
			return err
		}
		if err := catalog.SetPassword(txn, user.Id, hash, true); err != nil {
			return err
		}
		user.MustResetPwd = true
		return nil
	})
	if err != nil {
		utils.WriteError(w, "unable to reset password", err)
		return
	}

	utils.WriteJsonResponse(w, userWithPassword{User: convertUser(user), TempPassword: password})
}
