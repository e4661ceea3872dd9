package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/consent-api/internal/system/log"
	"github.com/carebridge/consent-api/internal/system/utils"
)

// RequestLogger logs one line per request once the handler chain has finished.
func RequestLogger() gin.HandlerFunc {
	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "HTTP"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []log.Field{
			log.String("method", c.Request.Method),
			log.String("path", c.FullPath()),
			log.Int("status", c.Writer.Status()),
			log.Int64("latency_ms", time.Since(start).Milliseconds()),
			log.String(log.LoggerKeyCorrelationID, utils.GetCorrelationID(c)),
		}
		if c.Writer.Status() >= 500 {
			logger.Error("Request failed", fields...)
			return
		}
		logger.Debug("Request completed", fields...)
	}
}
