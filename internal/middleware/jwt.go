package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/haven-live/backend/internal/auth"
	"github.com/haven-live/backend/pkg/response"
)

const (
	// ContextUserID is the key for user/guest ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for platform role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextAlias is the key for a guest's chosen alias in gin context.
	ContextAlias = "alias"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
// Guest tokens pass through like any other; the role claim distinguishes them.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextAlias, claims.Alias)
		c.Next()
	}
}
