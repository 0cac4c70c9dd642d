package auth

import (
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrLoginNotSupported  = errors.New("login method is not supported by the identity provider")
)

// IdentityProvider decides who is logging in. Both providers end in the same
// session token issued by the JwtManager.
type IdentityProvider interface {
	Name() string

	LoginWithEmail(ctx context.Context, email, password string) (schema.User, error)

	LoginWithToken(ctx context.Context, accessToken string) (schema.User, error)
}

type BasicIdentityProvider struct {
	db *gorm.DB
}

func NewBasicIdentityProvider(db *gorm.DB) *BasicIdentityProvider {
	return &BasicIdentityProvider{db: db}
}

func (p *BasicIdentityProvider) Name() string {
	return "basic"
}

func (p *BasicIdentityProvider) LoginWithEmail(ctx context.Context, email, password string) (schema.User, error) {
	user, err := schema.GetUserByEmail(email, p.db.WithContext(ctx))
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return schema.User{}, utils.CodedError(ErrInvalidCredentials, http.StatusUnauthorized)
		}
		return schema.User{}, utils.Internal(err)
	}

	if !VerifyPassword(password, user.Password) {
		return schema.User{}, utils.CodedError(ErrInvalidCredentials, http.StatusUnauthorized)
	}

	return user, nil
}

func (p *BasicIdentityProvider) LoginWithToken(ctx context.Context, accessToken string) (schema.User, error) {
	return schema.User{}, utils.Validation(ErrLoginNotSupported)
}
