package http

import (
	"net/http"

	"github.com/dkeye/circles/internal/adapters/auth"
	"github.com/dkeye/circles/internal/core"
	"github.com/dkeye/circles/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionTokenKey = "token"
	userKey         = "user"
)

// SessionTokenMiddleware exposes a token saved by POST /api/session to the
// handlers behind it.
func SessionTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok, ok := sessions.Default(c).Get(sessionTokenKey).(string); ok && tok != "" {
			c.Set(auth.TokenKey, tok)
		}
		c.Next()
	}
}

// AuthMiddleware resolves the caller and stores it under userKey.
func AuthMiddleware(resolver core.IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := resolver.Resolve(c.Request.Context(), auth.RequestToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.User {
	u, _ := c.MustGet(userKey).(domain.User)
	return u
}
