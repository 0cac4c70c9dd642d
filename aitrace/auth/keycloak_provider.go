package auth

import (
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
)

const (
	tokenCacheSize   = 1024
	tokenCacheMaxTTL = 5 * time.Minute
	keycloakTimeout  = 5 * time.Second
)

type userInfoClient interface {
	GetUserInfo(ctx context.Context, accessToken, realm string) (*gocloak.UserInfo, error)
}

type cachedIdentity struct {
	email   string
	expires time.Time
}

// KeycloakIdentityProvider trusts access tokens issued by keycloak. Validated
// tokens are cached until they expire, and at most for tokenCacheMaxTTL.
type KeycloakIdentityProvider struct {
	keycloak userInfoClient
	db       *gorm.DB
	realm    string

	singleTenant bool

	cache *expirable.LRU[string, cachedIdentity]
}

func NewKeycloakIdentityProvider(db *gorm.DB, serverUrl, realm string, singleTenant bool) *KeycloakIdentityProvider {
	return newKeycloakIdentityProvider(db, gocloak.NewClient(serverUrl), realm, singleTenant)
}

func newKeycloakIdentityProvider(db *gorm.DB, client userInfoClient, realm string, singleTenant bool) *KeycloakIdentityProvider {
	return &KeycloakIdentityProvider{
		keycloak:     client,
		db:           db,
		realm:        realm,
		singleTenant: singleTenant,
		cache:        expirable.NewLRU[string, cachedIdentity](tokenCacheSize, nil, tokenCacheMaxTTL),
	}
}

func (p *KeycloakIdentityProvider) Name() string {
	return "keycloak"
}

func (p *KeycloakIdentityProvider) LoginWithEmail(ctx context.Context, email, password string) (schema.User, error) {
	return schema.User{}, utils.Validation(ErrLoginNotSupported)
}

// tokenExpiry reads the exp claim without checking the signature, keycloak has
// already vouched for the token when this is called.
func tokenExpiry(accessToken string) (time.Time, bool) {
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func cacheDeadline(accessToken string, now time.Time) time.Time {
	deadline := now.Add(tokenCacheMaxTTL)
	if exp, ok := tokenExpiry(accessToken); ok && exp.Before(deadline) {
		return exp
	}
	return deadline
}

func (p *KeycloakIdentityProvider) verifyToken(ctx context.Context, accessToken string) (string, error) {
	now := time.Now()

	if cached, ok := p.cache.Get(accessToken); ok {
		if now.Before(cached.expires) {
			return cached.email, nil
		}
		p.cache.Remove(accessToken)
	}

	ctx, cancel := context.WithTimeout(ctx, keycloakTimeout)
	defer cancel()

	userInfo, err := p.keycloak.GetUserInfo(ctx, accessToken, p.realm)
	if err != nil {
		slog.Warn("unable to verify token with keycloak", "error", err)
		return "", ErrNotAuthenticated
	}
	if userInfo == nil || userInfo.Email == nil || *userInfo.Email == "" {
		slog.Error("keycloak did not return an email for the token")
		return "", ErrNotAuthenticated
	}

	if deadline := cacheDeadline(accessToken, now); deadline.After(now) {
		p.cache.Add(accessToken, cachedIdentity{email: *userInfo.Email, expires: deadline})
	}

	return *userInfo.Email, nil
}

// provision creates the local user for an email keycloak vouched for. Single
// tenant deployments add it to the default team, otherwise it gets a new team of
// its own and administers it.
func (p *KeycloakIdentityProvider) provision(txn *gorm.DB, email string) (schema.User, error) {
	if p.singleTenant {
		team, err := catalog.GetOrCreateDefaultTeam(txn, catalog.DefaultTeamName)
		if err != nil {
			return schema.User{}, err
		}
		return catalog.CreateUser(txn, team.Id, catalog.NewUser{Email: email, Role: schema.RoleUser})
	}

	team, err := catalog.CreateTeam(txn, "Team-"+uuid.NewString()[:8])
	if err != nil {
		return schema.User{}, err
	}
	return catalog.CreateUser(txn, team.Id, catalog.NewUser{Email: email, Role: schema.RoleAdmin})
}

// LoginWithToken maps a keycloak token to the local user with the same email,
// provisioning unknown emails.
func (p *KeycloakIdentityProvider) LoginWithToken(ctx context.Context, accessToken string) (schema.User, error) {
	email, err := p.verifyToken(ctx, accessToken)
	if err != nil {
		return schema.User{}, utils.CodedError(err, http.StatusUnauthorized)
	}

	var user schema.User
	err = p.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		existing, err := schema.GetUserByEmail(email, txn)
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, schema.ErrUserNotFound) {
			return utils.Internal(err)
		}

		user, err = p.provision(txn, email)
		if err != nil {
			return err
		}
		slog.Info("provisioned user from keycloak", "user_id", user.Id, "team_id", user.TeamId, "role", user.Role)
		return nil
	})
	if err != nil {
		return schema.User{}, fmt.Errorf("error logging in with keycloak token: %w", err)
	}

	return user, nil
}
