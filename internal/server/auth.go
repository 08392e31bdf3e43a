package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/docrelay/config"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator accepts a bearer token that is either the configured API key,
// a key matching the configured bcrypt hash, or an HS256 JWT signed with the
// configured secret. With nothing configured every request passes.
type Authenticator struct {
	apiKey  []byte
	keyHash []byte
	secret  []byte
}

func NewAuthenticator(cfg config.ServerConfig) (*Authenticator, error) {
	a := &Authenticator{}
	if cfg.APIKey != "" {
		a.apiKey = []byte(cfg.APIKey)
	}
	if cfg.APIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.APIKeyHash)); err != nil {
			return nil, errors.New("server.api_key_hash is not a bcrypt hash")
		}
		a.keyHash = []byte(cfg.APIKeyHash)
	}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	return a, nil
}

func (a *Authenticator) Enabled() bool {
	return a.apiKey != nil || a.keyHash != nil || a.secret != nil
}

// Verify reports whether token is accepted by any configured method.
func (a *Authenticator) Verify(token string) bool {
	if token == "" {
		return false
	}
	if a.apiKey != nil && subtle.ConstantTimeCompare([]byte(token), a.apiKey) == 1 {
		return true
	}
	if a.keyHash != nil && bcrypt.CompareHashAndPassword(a.keyHash, []byte(token)) == nil {
		return true
	}
	if a.secret != nil && strings.Count(token, ".") == 2 {
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) { return a.secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		return err == nil && parsed.Valid
	}
	return false
}

// Middleware rejects requests without an accepted bearer token. CORS
// preflight requests are answered before this runs.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !a.Enabled() || c.Request().Method == http.MethodOptions {
				return next(c)
			}
			if !a.Verify(bearerToken(c)) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// SignToken issues an HS256 token for subject valid for ttl.
func SignToken(subject string, secret []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured (server.jwt_secret)")
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// HashAPIKey returns the bcrypt hash to put in server.api_key_hash.
func HashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
