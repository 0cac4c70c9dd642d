package services

import (
	"aitrace_platform/aitrace/auth"
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"
)

var (
	ErrSetupDone        = errors.New("setup has already been completed")
	ErrWrongOldPassword = errors.New("current password is incorrect")
)

type sessionIssuer struct {
	jwt    *auth.JwtManager
	secure bool
}

type loginResponse struct {
	User        userInfo  `json:"user"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s sessionIssuer) issue(w http.ResponseWriter, user schema.User, rememberMe bool) (loginResponse, error) {
	token, expires, err := s.jwt.CreateSessionToken(user.Id, rememberMe)
	if err != nil {
		return loginResponse{}, utils.Internal(err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.SessionDuration(rememberMe).Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return loginResponse{User: convertUser(user), AccessToken: token, ExpiresAt: expires}, nil
}

func (s sessionIssuer) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type AuthService struct {
	db           *gorm.DB
	identity     auth.IdentityProvider
	sessions     sessionIssuer
	singleTenant bool
}

func (s *AuthService) SetupCheck(w http.ResponseWriter, r *http.Request) {
	needed, err := catalog.NeedsSetup(s.db)
	if err != nil {
		utils.WriteError(w, "error checking setup", err)
		return
	}
	utils.WriteJsonResponse(w, map[string]bool{"needs_setup": needed})
}

type setupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TeamName string `json:"team_name"`
}

func newAdmin(txn *gorm.DB, team schema.Team, email, password string) (schema.User, error) {
	if err := catalog.CheckPassword(password); err != nil {
		return schema.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return schema.User{}, utils.Internal(err)
	}
	return catalog.CreateUser(txn, team.Id, catalog.NewUser{Email: email, Role: schema.RoleAdmin, PasswordHash: hash})
}

// SetupInit creates the first admin. Single tenant deployments reuse the
// default team, otherwise a new team is created for them.
func (s *AuthService) SetupInit(w http.ResponseWriter, r *http.Request) {
	var params setupRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var admin schema.User
	err := s.db.Transaction(func(txn *gorm.DB) error {
		needed, err := catalog.NeedsSetup(txn)
		if err != nil {
			return err
		}
		if !needed {
			return utils.Validation(ErrSetupDone)
		}

		teamName := params.TeamName
		if teamName == "" {
			teamName = catalog.DefaultTeamName
		}

		var team schema.Team
		if s.singleTenant {
			team, err = catalog.GetOrCreateDefaultTeam(txn, teamName)
		} else {
			team, err = catalog.CreateTeam(txn, teamName)
		}
		if err != nil {
			return err
		}

		admin, err = newAdmin(txn, team, params.Email, params.Password)
		return err
	})
	if err != nil {
		utils.WriteError(w, "setup failed", err)
		return
	}

	slog.Info("setup completed", "user_id", admin.Id, "team_id", admin.TeamId)

	res, err := s.sessions.issue(w, admin, false)
	if err != nil {
		utils.WriteError(w, "setup failed", err)
		return
	}
	utils.WriteCreated(w, res)
}

func (s *AuthService) Signup(w http.ResponseWriter, r *http.Request) {
	var params setupRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var admin schema.User
	err := s.db.Transaction(func(txn *gorm.DB) error {
		team, err := catalog.CreateTeam(txn, params.TeamName)
		if err != nil {
			return err
		}
		admin, err = newAdmin(txn, team, params.Email, params.Password)
		return err
	})
	if err != nil {
		utils.WriteError(w, "signup failed", err)
		return
	}

	res, err := s.sessions.issue(w, admin, false)
	if err != nil {
		utils.WriteError(w, "signup failed", err)
		return
	}
	utils.WriteCreated(w, res)
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	var params loginRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := s.identity.LoginWithEmail(r.Context(), params.Email, params.Password)
	if err != nil {
		utils.WriteError(w, "login failed", err)
		return
	}

	res, err := s.sessions.issue(w, user, params.RememberMe)
	if err != nil {
		utils.WriteError(w, "login failed", err)
		return
	}
	utils.WriteJsonResponse(w, res)
}

type loginWithTokenRequest struct {
	AccessToken string `json:"access_token"`
	RememberMe  bool   `json:"remember_me"`
}

func (s *AuthService) LoginWithToken(w http.ResponseWriter, r *http.Request) {
	var params loginWithTokenRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := s.identity.LoginWithToken(r.Context(), params.AccessToken)
	if err != nil {
		utils.WriteError(w, "login failed", err)
		return
	}

	res, err := s.sessions.issue(w, user, params.RememberMe)
	if err != nil {
		utils.WriteError(w, "login failed", err)
		return
	}
	utils.WriteJsonResponse(w, res)
}

func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.clear(w)
	utils.WriteSuccess(w)
}

func (s *AuthService) Me(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}
	utils.WriteJsonResponse(w, convertUser(user))
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *AuthService) updatePassword(w http.ResponseWriter, user schema.User, password string) {
	if err := catalog.CheckPassword(password); err != nil {
		utils.WriteError(w, "error updating password", err)
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		utils.WriteError(w, "error updating password", utils.Internal(err))
		return
	}

	if err := catalog.SetPassword(s.db, user.Id, hash, false); err != nil {
		utils.WriteError(w, "error updating password", err)
		return
	}

	slog.Info("password updated", "user_id", user.Id)
	utils.WriteSuccess(w)
}

func (s *AuthService) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	var params changePasswordRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if !auth.VerifyPassword(params.OldPassword, user.Password) {
		utils.WriteError(w, "error updating password", utils.Validation(ErrWrongOldPassword))
		return
	}

	s.updatePassword(w, user, params.NewPassword)
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// ResetPassword lets a user holding a temporary password choose a new one.
func (s *AuthService) ResetPassword(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		utils.WriteError(w, "", utils.Internal(err))
		return
	}

	var params resetPasswordRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	s.updatePassword(w, user, params.NewPassword)
}
