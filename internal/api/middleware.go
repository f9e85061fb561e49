package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/careerpath/interviewcoach/server/internal/auth"
)

const claimsKey = "claims"

// TokenValidator validates session tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.JWTClaims, error)
}

// bearerToken extracts the token from the Authorization header, falling back
// to the token query parameter when allowQuery is set.
func bearerToken(c echo.Context, allowQuery bool) string {
	authHeader := c.Request().Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && token != "" {
		return token
	}
	if allowQuery {
		return c.QueryParam("token")
	}
	return ""
}

// sessionAuth validates the session token. When the route has an :id parameter
// the token must belong to that session.
func sessionAuth(validator TokenValidator, allowQuery bool, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c, allowQuery)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "Session token is required in Authorization header",
				})
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.String("path", c.Path()), zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired session token",
				})
			}

			if claims.Role != auth.RoleCandidate {
				logger.Warn("Request rejected: invalid role", zap.String("role", claims.Role))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "invalid_role",
					Message: "Only candidate session tokens are accepted",
				})
			}

			if id := c.Param("id"); id != "" && id != claims.SessionID() {
				logger.Warn("Request rejected: token for another session",
					zap.String("sessionID", id),
					zap.String("tokenSessionID", claims.SessionID()))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "session_mismatch",
					Message: "Token does not grant access to this session",
				})
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) *auth.JWTClaims {
	claims, _ := c.Get(claimsKey).(*auth.JWTClaims)
	return claims
}
