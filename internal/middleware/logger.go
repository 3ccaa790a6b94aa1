package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fahrizalm14/wasap-gateway/pkg/logger"
)

// RequestLogger logs each request with structured fields through the
// shared logger. It reuses the incoming X-Request-ID (or generates one),
// echoes it on the response and includes it in the request's log line; it
// is not passed on to the supervisor's own log lines.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		fields := []logger.Field{
			logger.F("requestId", requestID),
			logger.F("method", c.Request.Method),
			logger.F("path", c.Request.URL.Path),
			logger.F("status", c.Writer.Status()),
			logger.F("latencyMs", time.Since(start).Milliseconds()),
			logger.F("clientIp", c.ClientIP()),
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			log.Error("http request", nil, fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}
