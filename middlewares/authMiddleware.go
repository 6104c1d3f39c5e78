package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/closing_backend/utils"
)

const bearerPrefix = "Bearer "

// AuthMiddleware accepts an "Authorization: Bearer <jwt>" header as an alternative to the session
// token. It never overrides a username the session middleware already resolved.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, bearerPrefix) {
			c.Next()
			return
		}
		if username, ok := utils.GetUsernameFromContext(c.Request.Context()); ok && username != "" {
			c.Next()
			return
		}

		claims, err := utils.JwtValidate(strings.TrimSpace(auth[len(bearerPrefix):]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}
		c.Request = c.Request.WithContext(utils.SetUsernameInContext(c.Request.Context(), claims.Username))
		c.Next()
	}
}
