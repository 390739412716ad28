package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/middleware"
	"example.com/fulfillment-system/services/order/internal/service"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	OrderService   service.OrderService
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер Order Service.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Recovery, trace_id/correlation_id, структурированные логи запросов
	engine.Use(middleware.Chain()...)

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware("order-service"))

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware("order-service"))

	// Health endpoints
	engine.GET("/healthz", livenessCheck)
	engine.GET("/readyz", readinessHandler(cfg.ReadinessCheck))

	// API v1
	orderHandler := NewOrderHandler(cfg.OrderService)
	v1 := engine.Group("/api/v1")
	orders := v1.Group("/orders")
	{
		orders.POST("/checkout", orderHandler.Checkout)
		orders.GET("/:id", orderHandler.GetOrder)
	}

	return engine
}

// livenessCheck — liveness probe: процесс отвечает, значит жив.
func livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessHandler — readiness probe: проверяет зависимости сервиса.
func readinessHandler(check ReadinessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
