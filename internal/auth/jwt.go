package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fenggwsx/SlashRelay/internal/config"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("auth: missing token")

// Claims represents the JWT payload identifying a relay peer.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewToken generates a signed JWT for the provided subject.
func NewToken(cfg config.JWTConfig, subject, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken validates the provided token string and extracts claims.
func ParseToken(cfg config.JWTConfig, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// Authenticator verifies a raw token and returns the subject it names.
type Authenticator func(token string) (string, error)

// NewAuthenticator binds ParseToken to cfg.
func NewAuthenticator(cfg config.JWTConfig) Authenticator {
	return func(token string) (string, error) {
		if token == "" {
			return "", ErrMissingToken
		}
		claims, err := ParseToken(cfg, token)
		if err != nil {
			return "", fmt.Errorf("auth: %w", err)
		}
		return claims.Subject, nil
	}
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter browsers use for WebSocket upgrades.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}
