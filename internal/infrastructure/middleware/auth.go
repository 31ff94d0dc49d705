package middleware

import (
	"net/http"
	"strings"

	"telesession/internal/core/domain"
	"telesession/internal/core/services"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "user_id"
	ctxName   = "user_name"
	ctxRole   = "user_role"
)

// Auth validates the bearer token and stores the caller's identity in the
// request context.
func Auth(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxName, claims.Name)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireRole restricts an endpoint to callers with the given role. Must run
// after Auth.
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		val, exists := c.Get(ctxRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if r, ok := val.(domain.Role); !ok || r != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// CallerID returns the authenticated user ID from the request context.
func CallerID(c *gin.Context) (domain.UserID, bool) {
	val, exists := c.Get(ctxUserID)
	if !exists {
		return "", false
	}
	id, ok := val.(domain.UserID)
	return id, ok
}

// CallerRole returns the authenticated role from the request context.
func CallerRole(c *gin.Context) (domain.Role, bool) {
	val, exists := c.Get(ctxRole)
	if !exists {
		return "", false
	}
	role, ok := val.(domain.Role)
	return role, ok
}
