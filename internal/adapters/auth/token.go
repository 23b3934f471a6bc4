package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenKey is the gin context key under which middleware stores a token
// recovered from somewhere other than the request itself.
const TokenKey = "auth_token"

// TokenFromRequest returns the bearer token of r. Browsers cannot set
// headers on a WebSocket handshake, so the token query parameter is
// accepted as well.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// RequestToken returns the token carried by the request, falling back to
// one stored on c under TokenKey.
func RequestToken(c *gin.Context) string {
	if t := TokenFromRequest(c.Request); t != "" {
		return t
	}
	return c.GetString(TokenKey)
}
