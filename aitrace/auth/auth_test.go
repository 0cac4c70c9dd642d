package auth

import (
	"aitrace_platform/aitrace/catalog"
	"aitrace_platform/aitrace/database"
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", string(hash))

	assert.True(t, VerifyPassword("correct horse", hash))
	assert.False(t, VerifyPassword("wrong horse", hash))
	assert.False(t, VerifyPassword("correct horse", nil))

	temp, err := TempPassword()
	require.NoError(t, err)
	assert.Len(t, temp, 16)
}

func TestSessionTokens(t *testing.T) {
	manager := NewJwtManager([]byte("test-secret"))
	userId := uuid.New()

	token, expires, err := manager.CreateSessionToken(userId, false)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), expires, time.Minute)

	verified, err := manager.VerifySessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, userId, verified)

	_, expires, err = manager.CreateSessionToken(userId, true)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), expires, time.Minute)

	other := NewJwtManager([]byte("other-secret"))
	_, err = other.VerifySessionToken(token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, expired, err := manager.auth.Encode(map[string]interface{}{"sub": userId.String(), "exp": time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	_, err = manager.VerifySessionToken(expired)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, noSubject, err := manager.auth.Encode(map[string]interface{}{"exp": time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = manager.VerifySessionToken(noSubject)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = manager.VerifySessionToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

type authTest struct {
	db    *gorm.DB
	jwt   *JwtManager
	team  schema.Team
	admin schema.User
	user  schema.User
}

func setupAuthTest(t *testing.T) authTest {
	db := database.NewTestDB(t)

	team, err := catalog.CreateTeam(db, "acme")
	require.NoError(t, err)

	hash, err := HashPassword("admin-password")
	require.NoError(t, err)
	admin, err := catalog.CreateUser(db, team.Id, catalog.NewUser{Email: "Admin@Acme.com", Role: schema.RoleAdmin, PasswordHash: hash})
	require.NoError(t, err)

	user, err := catalog.CreateUser(db, team.Id, catalog.NewUser{Email: "user@acme.com", MustResetPwd: true})
	require.NoError(t, err)

	return authTest{db: db, jwt: NewJwtManager([]byte("secret")), team: team, admin: admin, user: user}
}

func (at authTest) storeKey(t *testing.T, owner schema.User) string {
	generated, err := GenerateAPIKey()
	require.NoError(t, err)

	key := schema.APIKey{
		Id:        uuid.New(),
		TeamId:    owner.TeamId,
		Name:      "ci",
		Preview:   generated.Preview,
		KeyHash:   generated.Hash,
		CreatedBy: owner.Id,
	}
	require.NoError(t, at.db.Create(&key).Error)
	return generated.Key
}

func TestAPIKeys(t *testing.T) {
	at := setupAuthTest(t)

	generated, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(generated.Key, APIKeyPrefix))
	assert.Equal(t, generated.Key[:8]+"***", generated.Preview)
	assert.NotContains(t, string(generated.Hash), generated.Key)

	key := at.storeKey(t, at.admin)

	found, err := VerifyAPIKey(at.db, key)
	require.NoError(t, err)
	require.NotNil(t, found.User)
	assert.Equal(t, at.admin.Id, found.User.Id)
	assert.NotNil(t, found.LastUsedAt)

	// same preview, different secret
	_, err = VerifyAPIKey(at.db, key[:8]+"tampered")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = VerifyAPIKey(at.db, "not-a-key")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func whoAmI(w http.ResponseWriter, r *http.Request) {
	user, err := UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write([]byte(user.Email))
}

func serve(handler http.Handler, prepare func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets", nil)
	prepare(req)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestAuthenticatorCredentials(t *testing.T) {
	at := setupAuthTest(t)
	handler := NewAuthenticator(at.db, at.jwt).Middleware(http.HandlerFunc(whoAmI))

	session, _, err := at.jwt.CreateSessionToken(at.admin.Id, false)
	require.NoError(t, err)
	key := at.storeKey(t, at.user)

	w := serve(handler, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: session})
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin@acme.com", w.Body.String())

	w = serve(handler, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+session) })
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(handler, func(r *http.Request) { r.Header.Set(APIKeyHeader, key) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user@acme.com", w.Body.String())

	// a bearer credential that is not a session falls back to the api key path
	w = serve(handler, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+key) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user@acme.com", w.Body.String())

	for _, prepare := range []func(r *http.Request){
		func(r *http.Request) {},
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") },
		func(r *http.Request) { r.Header.Set(APIKeyHeader, "sk-unknown") },
		func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "expired"}) },
	} {
		w := serve(handler, prepare)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "not authenticated")
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	}

	// tokens of deleted users are refused
	require.NoError(t, at.db.Delete(&schema.User{}, "id = ?", at.admin.Id).Error)
	w = serve(handler, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+session) })
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleGates(t *testing.T) {
	at := setupAuthTest(t)

	assert.NoError(t, RequireRole(at.admin, schema.RoleAdmin))
	err := RequireRole(at.user, schema.RoleAdmin)
	assert.Equal(t, http.StatusForbidden, utils.GetResponseCode(err))
	assert.NoError(t, RequireRole(at.user, schema.RoleAdmin, schema.RoleUser))

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	request := func(handler http.Handler, user schema.User, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(WithUser(req.Context(), user))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, request(AdminOnly(ok), at.admin, "/api/v1/users"))
	assert.Equal(t, http.StatusForbidden, request(AdminOnly(ok), at.user, "/api/v1/users"))

	resetGate := PasswordResetSatisfied("/api/v1/auth")(ok)
	assert.Equal(t, http.StatusForbidden, request(resetGate, at.user, "/api/v1/datasets"))
	assert.Equal(t, http.StatusNoContent, request(resetGate, at.user, "/api/v1/auth/reset-password"))
	assert.Equal(t, http.StatusNoContent, request(resetGate, at.admin, "/api/v1/datasets"))
}

func TestBasicIdentityProvider(t *testing.T) {
	at := setupAuthTest(t)
	provider := NewBasicIdentityProvider(at.db)
	ctx := context.Background()

	user, err := provider.LoginWithEmail(ctx, "ADMIN@acme.com", "admin-password")
	require.NoError(t, err)
	assert.Equal(t, at.admin.Id, user.Id)

	_, err = provider.LoginWithEmail(ctx, "admin@acme.com", "wrong")
	assert.Equal(t, http.StatusUnauthorized, utils.GetResponseCode(err))

	_, err = provider.LoginWithEmail(ctx, "nobody@acme.com", "admin-password")
	assert.Equal(t, http.StatusUnauthorized, utils.GetResponseCode(err))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// users created without a password cannot log in with one
	_, err = provider.LoginWithEmail(ctx, "user@acme.com", "")
	assert.Equal(t, http.StatusUnauthorized, utils.GetResponseCode(err))

	_, err = provider.LoginWithToken(ctx, "token")
	assert.Equal(t, http.StatusBadRequest, utils.GetResponseCode(err))
}

type fakeKeycloak struct {
	emails map[string]string
	calls  int
}

func (f *fakeKeycloak) GetUserInfo(ctx context.Context, accessToken, realm string) (*gocloak.UserInfo, error) {
	f.calls++
	email, ok := f.emails[accessToken]
	if !ok {
		return nil, errors.New("401 Unauthorized: invalid token")
	}
	return &gocloak.UserInfo{Email: &email}, nil
}

func keycloakToken(t *testing.T, exp time.Time) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "jti": uuid.NewString()}).SignedString([]byte("keycloak"))
	require.NoError(t, err)
	return token
}

func TestKeycloakIdentityProvider(t *testing.T) {
	at := setupAuthTest(t)
	ctx := context.Background()

	known := keycloakToken(t, time.Now().Add(time.Hour))
	newcomer := keycloakToken(t, time.Now().Add(time.Hour))
	client := &fakeKeycloak{emails: map[string]string{known: "user@acme.com", newcomer: "New@Example.com"}}
	provider := newKeycloakIdentityProvider(at.db, client, "aitrace", true)

	user, err := provider.LoginWithToken(ctx, known)
	require.NoError(t, err)
	assert.Equal(t, at.user.Id, user.Id)

	_, err = provider.LoginWithToken(ctx, known)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)

	created, err := provider.LoginWithToken(ctx, newcomer)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", created.Email)
	assert.Equal(t, schema.RoleUser, created.Role)
	assert.False(t, created.MustResetPwd)
	assert.Equal(t, at.team.Id, created.TeamId)

	_, err = provider.LoginWithToken(ctx, "invalid")
	assert.Equal(t, http.StatusUnauthorized, utils.GetResponseCode(err))

	_, err = provider.LoginWithEmail(ctx, "user@acme.com", "password")
	assert.Equal(t, http.StatusBadRequest, utils.GetResponseCode(err))
}

func TestKeycloakProvisionsSeparateTeams(t *testing.T) {
	at := setupAuthTest(t)
	ctx := context.Background()

	other, err := catalog.CreateTeam(at.db, "globex")
	require.NoError(t, err)

	first := keycloakToken(t, time.Now().Add(time.Hour))
	second := keycloakToken(t, time.Now().Add(time.Hour))
	client := &fakeKeycloak{emails: map[string]string{first: "stranger@example.com", second: "another@example.com"}}
	provider := newKeycloakIdentityProvider(at.db, client, "aitrace", false)

	stranger, err := provider.LoginWithToken(ctx, first)
	require.NoError(t, err)
	assert.NotEqual(t, at.team.Id, stranger.TeamId)
	assert.NotEqual(t, other.Id, stranger.TeamId)
	assert.Equal(t, schema.RoleAdmin, stranger.Role)

	another, err := provider.LoginWithToken(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, stranger.TeamId, another.TeamId)

	var teams int64
	require.NoError(t, at.db.Model(&schema.Team{}).Count(&teams).Error)
	assert.Equal(t, int64(4), teams)

	var templates int64
	require.NoError(t, at.db.Model(&schema.Schema{}).Where("team_id = ?", stranger.TeamId).Count(&templates).Error)
	assert.Equal(t, int64(1), templates)

	again, err := provider.LoginWithToken(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, stranger.Id, again.Id)
	assert.Equal(t, stranger.TeamId, again.TeamId)
}

func TestKeycloakSingleTenantUsesOldestTeam(t *testing.T) {
	at := setupAuthTest(t)

	_, err := catalog.CreateTeam(at.db, "globex")
	require.NoError(t, err)

	token := keycloakToken(t, time.Now().Add(time.Hour))
	client := &fakeKeycloak{emails: map[string]string{token: "newcomer@example.com"}}
	provider := newKeycloakIdentityProvider(at.db, client, "aitrace", true)

	user, err := provider.LoginWithToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, at.team.Id, user.TeamId)
	assert.Equal(t, schema.RoleUser, user.Role)
}

func TestKeycloakCacheDeadline(t *testing.T) {
	now := time.Now()

	soon := now.Add(time.Minute)
	assert.WithinDuration(t, soon, cacheDeadline(keycloakToken(t, soon), now), time.Second)

	later := now.Add(time.Hour)
	assert.Equal(t, now.Add(tokenCacheMaxTTL), cacheDeadline(keycloakToken(t, later), now))

	assert.Equal(t, now.Add(tokenCacheMaxTTL), cacheDeadline("opaque-token", now))

	// expired tokens are not cached
	client := &fakeKeycloak{emails: map[string]string{}}
	provider := newKeycloakIdentityProvider(nil, client, "aitrace", true)
	expired := keycloakToken(t, now.Add(-time.Minute))
	client.emails[expired] = "user@acme.com"

	_, err := provider.verifyToken(context.Background(), expired)
	require.NoError(t, err)
	_, err = provider.verifyToken(context.Background(), expired)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}
