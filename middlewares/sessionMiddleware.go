package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/utils"
)

const sessionKeyPrefix = "Token:"

// SessionMiddleware resolves the "token" header to a username through the session store in Redis.
// Requests without a token pass through anonymous; an unknown token is rejected.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue(sessionKeyPrefix + token)
		if err != nil {
			config.LogError(config.GetLogger(), "sessionMiddleware.go", "SessionMiddleware", "GetRedisValue", nil, err)
		}
		if err != nil || !exists || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}

		c.Request = c.Request.WithContext(utils.SetUsernameInContext(c.Request.Context(), username))
		c.Next()
	}
}

// RequireUser rejects requests no earlier middleware attached a username to.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if username, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}
