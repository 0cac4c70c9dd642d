package auth

import (
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"errors"
	"net/http"
	"slices"
	"strings"
)

var (
	ErrForbidden             = errors.New("forbidden")
	ErrPasswordResetRequired = errors.New("password reset required")
)

func RequireRole(user schema.User, roles ...string) error {
	if slices.Contains(roles, user.Role) {
		return nil
	}
	return utils.Forbidden(ErrForbidden)
}

func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := UserFromContext(r)
		if err != nil {
			utils.WriteError(w, "", utils.Internal(err))
			return
		}

		if err := RequireRole(user, schema.RoleAdmin); err != nil {
			utils.WriteError(w, "", err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// PasswordResetSatisfied keeps users holding a temporary password away from
// everything but the auth routes until they choose a new one.
func PasswordResetSatisfied(authPrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				utils.WriteError(w, "", utils.Internal(err))
				return
			}

			if user.MustResetPwd && !strings.HasPrefix(r.URL.Path, authPrefix) {
				utils.WriteError(w, "", utils.Forbidden(ErrPasswordResetRequired))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
