package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware creates an Echo middleware that validates the master key.
// Paths in skipPaths (health, metrics) bypass authentication.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip[c.Path()] {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, errorResponse{
					Error:   "missing authorization header",
					Details: "auth_failed",
				})
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return c.JSON(http.StatusUnauthorized, errorResponse{
					Error:   "invalid authorization header format, expected 'Bearer <token>'",
					Details: "auth_failed",
				})
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if token != masterKey {
				return c.JSON(http.StatusUnauthorized, errorResponse{
					Error:   "invalid master key",
					Details: "auth_failed",
				})
			}

			return next(c)
		}
	}
}
