package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loomchat/loomchat/internal/auth"
	"github.com/loomchat/loomchat/internal/chat"
	"github.com/loomchat/loomchat/internal/common"
	"github.com/loomchat/loomchat/internal/errs"
)

const IdentityKey = "identity"

// AuthRequired rejects requests without a valid bearer token and stores
// the resolved identity for handlers downstream.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			common.Fail(c, errs.Unauthorized, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, errs.Unauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(IdentityKey, chat.Identity{UserID: claims.UserID, Type: claims.UserType})
		c.Next()
	}
}

// IdentityFrom reads the identity set by AuthRequired.
func IdentityFrom(c *gin.Context) (chat.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return chat.Identity{}, false
	}
	id, ok := v.(chat.Identity)
	return id, ok && id.UserID != ""
}
