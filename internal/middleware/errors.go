package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fahrizalm14/wasap-gateway/internal/engineerr"
	"github.com/fahrizalm14/wasap-gateway/pkg/logger"
	"github.com/fahrizalm14/wasap-gateway/pkg/response"
)

// ErrorHandler drains gin's per-request error list and converts the last
// error into the envelope its engineerr.Kind promises, so handlers only
// ever need to call c.Error(err) and return.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if engErr, ok := engineerr.As(err); ok {
			if engErr.Detail != nil {
				response.ErrorWithData(c, engErr.HTTPStatus, engErr.Message, engErr.Detail)
			} else {
				response.Error(c, engErr.HTTPStatus, engErr.Message)
			}
			return
		}

		log.Error("unhandled request error", err, logger.F("path", c.Request.URL.Path))
		response.Error(c, 500, "Internal server error")
	}
}
