package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/loomchat/loomchat/internal/common"
	"github.com/loomchat/loomchat/internal/errs"
)

// Recovery converts panics into the standard error envelope instead of a
// dropped connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered",
					"path", c.Request.URL.Path,
					"request_id", c.GetString(RequestIDKey),
					"panic", r,
				)
				if !c.Writer.Written() {
					common.Fail(c, errs.Internal, "internal error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
