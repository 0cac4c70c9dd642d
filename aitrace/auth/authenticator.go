package auth

import (
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SessionCookie = "access_token"
	APIKeyHeader  = "X-API-Key"
)

var ErrNotAuthenticated = errors.New("not authenticated")

type requestContextKey string

const (
	userRequestContextKey   requestContextKey = "user"
	apiKeyRequestContextKey requestContextKey = "api_key"
)

type Authenticator struct {
	db  *gorm.DB
	jwt *JwtManager
}

func NewAuthenticator(db *gorm.DB, jwt *JwtManager) *Authenticator {
	return &Authenticator{db: db, jwt: jwt}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func sessionCredential(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

func (a *Authenticator) userFromSession(token string) (schema.User, error) {
	userId, err := a.jwt.VerifySessionToken(token)
	if err != nil {
		return schema.User{}, err
	}
	return schema.GetUser(userId, a.db)
}

// resolve finds the user behind the request credentials. A cookie or bearer
// credential is tried as a session token first and then, if it looks like one,
// as an api key.
func (a *Authenticator) resolve(r *http.Request) (schema.User, *schema.APIKey, error) {
	if credential := sessionCredential(r); credential != "" {
		user, err := a.userFromSession(credential)
		if err == nil {
			return user, nil, nil
		}
		if !strings.HasPrefix(credential, APIKeyPrefix) {
			return schema.User{}, nil, err
		}
		return a.userFromAPIKey(credential)
	}

	if key := r.Header.Get(APIKeyHeader); key != "" {
		return a.userFromAPIKey(key)
	}

	return schema.User{}, nil, ErrNotAuthenticated
}

func (a *Authenticator) userFromAPIKey(key string) (schema.User, *schema.APIKey, error) {
	apiKey, err := VerifyAPIKey(a.db, key)
	if err != nil {
		return schema.User{}, nil, err
	}
	return *apiKey.User, &apiKey, nil
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, apiKey, err := a.resolve(r)
		if err != nil {
			if errors.Is(err, schema.ErrDbAccessFailed) {
				utils.WriteError(w, "", utils.Internal(err))
				return
			}
			slog.Debug("request not authenticated", "path", r.URL.Path, "error", err)
			utils.WriteError(w, "", utils.CodedError(ErrNotAuthenticated, http.StatusUnauthorized))
			return
		}

		ctx := context.WithValue(r.Context(), userRequestContextKey, user)
		if apiKey != nil {
			ctx = context.WithValue(ctx, apiKeyRequestContextKey, *apiKey)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserFromContext(r *http.Request) (schema.User, error) {
	userUntyped := r.Context().Value(userRequestContextKey)
	if userUntyped == nil {
		return schema.User{}, fmt.Errorf("user field not found in request context")
	}
	user, ok := userUntyped.(schema.User)
	if !ok {
		return schema.User{}, fmt.Errorf("invalid value for user field")
	}
	return user, nil
}

// APIKeyFromContext returns the key used to authenticate the request, if any.
func APIKeyFromContext(r *http.Request) (schema.APIKey, bool) {
	key, ok := r.Context().Value(apiKeyRequestContextKey).(schema.APIKey)
	return key, ok
}

func WithUser(ctx context.Context, user schema.User) context.Context {
	return context.WithValue(ctx, userRequestContextKey, user)
}

func UserIdPtr(user schema.User) *uuid.UUID {
	id := user.Id
	return &id
}
