package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fahrizalm14/wasap-gateway/internal/engineerr"
)

// AdminAuth guards the admin-only API-key management routes with the
// shared-secret header contract; no per-caller bearer tokens in this
// version.
func AdminAuth(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("x-secret-key") != secretKey {
			_ = c.Error(engineerr.AuthRejected())
			c.Abort()
			return
		}
		c.Next()
	}
}
