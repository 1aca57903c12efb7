package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
)

// Claims is the token payload the server understands. Project scopes
// reads and writes to one tenant; SuperAdmin bypasses the scope.
type Claims struct {
	jwt.RegisteredClaims
	Project    string `json:"project"`
	SuperAdmin bool   `json:"super_admin"`
}

// Config controls bearer-token verification. Tokens are HMAC-signed with
// SigningKey. When Optional is set, requests without an Authorization
// header pass through unscoped; used in development.
type Config struct {
	SigningKey []byte
	Optional   bool
}

// Middleware verifies the bearer token and attaches the resulting
// OperationContext to the request context.
func Middleware(cfg Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				if cfg.Optional {
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == header {
				return echo.NewHTTPError(http.StatusUnauthorized, "authorization header must use Bearer scheme")
			}

			claims, err := ParseToken(raw, cfg.SigningKey)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			oc := &fhir.OperationContext{
				Project:    claims.Project,
				Author:     claims.Subject,
				SuperAdmin: claims.SuperAdmin,
			}
			req := c.Request()
			c.SetRequest(req.WithContext(fhir.WithOperationContext(req.Context(), oc)))
			return next(c)
		}
	}
}

// ParseToken verifies an HMAC-signed token and returns its claims.
func ParseToken(raw string, key []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// SignToken issues an HMAC-signed token for the given scope. Used by the
// development tooling and tests.
func SignToken(key []byte, subject, project string, superAdmin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Project:    project,
		SuperAdmin: superAdmin,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
