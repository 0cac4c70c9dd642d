package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

const (
	sessionDuration    = 24 * time.Hour
	rememberMeDuration = 7 * 24 * time.Hour
)

var ErrInvalidSession = errors.New("invalid session token")

type JwtManager struct {
	auth *jwtauth.JWTAuth
}

func NewJwtManager(secret []byte) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil)}
}

func SessionDuration(rememberMe bool) time.Duration {
	if rememberMe {
		return rememberMeDuration
	}
	return sessionDuration
}

// CreateSessionToken signs a token for the user and returns it with its expiry.
func (m *JwtManager) CreateSessionToken(userId uuid.UUID, rememberMe bool) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(SessionDuration(rememberMe))

	claims := map[string]interface{}{
		"sub": userId.String(),
		"iat": now,
		"exp": expires,
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", time.Time{}, fmt.Errorf("error generating access token: %w", err)
	}
	return token, expires, nil
}

// VerifySessionToken returns the user id the token was issued for. Bad
// signatures, expired tokens and tokens without a subject all give ErrInvalidSession.
func (m *JwtManager) VerifySessionToken(tokenString string) (uuid.UUID, error) {
	token, err := jwtauth.VerifyToken(m.auth, tokenString)
	if err != nil {
		return uuid.Nil, ErrInvalidSession
	}

	if token.Expiration().IsZero() || token.Expiration().Before(time.Now()) {
		return uuid.Nil, ErrInvalidSession
	}

	userId, err := uuid.Parse(token.Subject())
	if err != nil {
		return uuid.Nil, ErrInvalidSession
	}
	return userId, nil
}
