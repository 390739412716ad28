package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment-system/pkg/logger"
)

// Recovery — middleware для обработки паник в HTTP handler-ах.
// При панике логирует stack trace и возвращает 500 клиенту.
// Детали паники клиенту не раскрываются.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())

				log := logger.FromContext(c.Request.Context())
				log.Error().
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Interface("panic", r).
					Str("stack", stack).
					Msg("Перехвачена паника в HTTP handler")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "внутренняя ошибка сервера",
				})
			}
		}()

		c.Next()
	}
}
