package middleware

import (
	"net/http"
	"strings"

	tokenstore "ChatStream/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	ContextUserIDKey = "current_user_id"
	ContextJTIKey    = "current_jti"
	ContextClaimsKey = "current_claims"
)

// AuthMiddleware accepts "Authorization: Bearer <jwt>" and stores the caller
// in the gin context.
func AuthMiddleware(issuer *tokenstore.Issuer, revoked tokenstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing authorization header", "code": "unauthorized"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid authorization header", "code": "unauthorized"})
			return
		}
		if !Authenticate(c, issuer, revoked, parts[1]) {
			return
		}
		c.Next()
	}
}

// Authenticate verifies tokenStr and stores the claims in c. On failure it
// aborts c with 401 and returns false. The WebSocket handshake uses it with a
// token taken from the query string.
func Authenticate(c *gin.Context, issuer *tokenstore.Issuer, revoked tokenstore.Store, tokenStr string) bool {
	claims, err := issuer.Parse(tokenStr)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid token", "code": "unauthorized"})
		return false
	}
	isRevoked, err := revoked.IsRevoked(c.Request.Context(), claims.JTI)
	if err != nil {
		log.Error().Err(err).Str("component", "auth").Msg("revocation lookup failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"msg": "auth backend unavailable", "code": "internal_error"})
		return false
	}
	if isRevoked {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Token has been revoked (logout)", "code": "unauthorized"})
		return false
	}
	c.Set(ContextUserIDKey, claims.UserID)
	c.Set(ContextJTIKey, claims.JTI)
	c.Set(ContextClaimsKey, claims)
	return true
}

// CurrentUserID returns the authenticated caller, or 0 outside AuthMiddleware.
func CurrentUserID(c *gin.Context) uint {
	v, _ := c.Get(ContextUserIDKey)
	id, _ := v.(uint)
	return id
}

func CurrentClaims(c *gin.Context) (tokenstore.Claims, bool) {
	v, ok := c.Get(ContextClaimsKey)
	if !ok {
		return tokenstore.Claims{}, false
	}
	claims, ok := v.(tokenstore.Claims)
	return claims, ok
}
