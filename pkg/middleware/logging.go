package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment-system/pkg/logger"
)

// Logging — middleware для логирования HTTP запросов.
// Логирует метод, путь, статус, длительность и trace информацию.
// Уровень лога зависит от статуса: 2xx/3xx — Info, 4xx — Warn, 5xx — Error.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		log := logger.FromContext(c.Request.Context())
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Msg("Входящий запрос")

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		logEvent := log.Info()
		if statusCode >= 400 {
			logEvent = log.Warn()
		}
		if statusCode >= 500 {
			logEvent = log.Error()
		}

		logEvent.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", statusCode).
			Dur("duration", duration).
			Msg("Запрос завершён")
	}
}
