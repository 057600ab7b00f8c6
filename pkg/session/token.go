package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/docflow/docflow-backend/pkg/config"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
)

// Claims are the session token claims
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// Token is handed to the client when a session is created
type Token struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
}

// TokenManager issues and validates session tokens
type TokenManager struct {
	config *config.JWTConfig
	now    func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(cfg *config.JWTConfig) *TokenManager {
	return &TokenManager{config: cfg, now: time.Now}
}

// Issue signs a token for the given session. An empty id creates a new session id.
func (m *TokenManager) Issue(sessionID string) (*Token, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	now := m.now()
	expiry := now.Add(m.config.SessionExpiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
	if err != nil {
		return nil, err
	}

	return &Token{
		SessionID: sessionID,
		Token:     signed,
		ExpiresAt: expiry,
		TokenType: "Bearer",
	}, nil
}

// Validate parses a token and returns the session id it carries
func (m *TokenManager) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.TokenInvalid()
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithIssuer(m.config.Issuer), jwt.WithTimeFunc(m.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperrors.TokenExpired()
		}
		return "", apperrors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", apperrors.TokenInvalid()
	}

	return claims.SessionID, nil
}
