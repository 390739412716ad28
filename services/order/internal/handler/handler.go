// Package handler содержит HTTP обработчики Order Service.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/services/order/internal/domain"
	"example.com/fulfillment-system/services/order/internal/service"
)

// OrderHandler — обработчик API заказов.
type OrderHandler struct {
	orderService service.OrderService
}

// NewOrderHandler создаёт новый обработчик заказов.
func NewOrderHandler(orderService service.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

// === Request/Response DTOs ===

// CheckoutRequest — запрос на оформление заказа.
type CheckoutRequest struct {
	CustomerID     string                `json:"customer_id" binding:"required"`
	IdempotencyKey string                `json:"idempotency_key" binding:"required"`
	Items          []CheckoutItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CheckoutItemRequest — позиция в запросе на оформление.
type CheckoutItemRequest struct {
	ProductID   string       `json:"product_id" binding:"required"`
	ProductName string       `json:"product_name" binding:"required,min=1"`
	Quantity    int32        `json:"quantity" binding:"required,min=1"`
	UnitPrice   MoneyRequest `json:"unit_price" binding:"required"`
}

// MoneyRequest — денежная сумма в запросе.
type MoneyRequest struct {
	Amount   int64  `json:"amount" binding:"required,min=1"`
	Currency string `json:"currency" binding:"required,len=3"`
}

// CheckoutResponse — ответ на оформление заказа.
// Статус PENDING: подтверждение или отмена придут асинхронно через сагу.
type CheckoutResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// OrderResponse — информация о заказе в ответе.
type OrderResponse struct {
	ID           string              `json:"id"`
	CustomerID   string              `json:"customer_id"`
	Items        []OrderItemResponse `json:"items"`
	TotalAmount  MoneyResponse       `json:"total_amount"`
	Status       string              `json:"status"`
	CancelReason *string             `json:"cancel_reason,omitempty"`
	CreatedAt    int64               `json:"created_at"`
	UpdatedAt    int64               `json:"updated_at"`
}

// OrderItemResponse — позиция заказа в ответе.
type OrderItemResponse struct {
	ProductID   string        `json:"product_id"`
	ProductName string        `json:"product_name"`
	Quantity    int32         `json:"quantity"`
	UnitPrice   MoneyResponse `json:"unit_price"`
}

// MoneyResponse — денежная сумма в ответе.
type MoneyResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// === Handlers ===

// Checkout оформляет новый заказ и запускает сагу.
// POST /api/v1/orders/checkout
func (h *OrderHandler) Checkout(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на оформление заказа")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice: domain.Money{
				Amount:   item.UnitPrice.Amount,
				Currency: item.UnitPrice.Currency,
			},
		}
	}

	order, err := h.orderService.Checkout(ctx, req.CustomerID, req.IdempotencyKey, items)
	if err != nil {
		handleError(c, err, "Checkout")
		return
	}

	c.JSON(http.StatusAccepted, CheckoutResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
	})
}

// GetOrder возвращает заказ по ID.
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()

	orderID := c.Param("id")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Не указан ID заказа",
		})
		return
	}

	order, err := h.orderService.GetOrder(ctx, orderID)
	if err != nil {
		handleError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// toOrderResponse преобразует доменную сущность в DTO ответа.
func toOrderResponse(order *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice: MoneyResponse{
				Amount:   item.UnitPrice.Amount,
				Currency: item.UnitPrice.Currency,
			},
		}
	}

	return OrderResponse{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		Items:      items,
		TotalAmount: MoneyResponse{
			Amount:   order.TotalAmount.Amount,
			Currency: order.TotalAmount.Currency,
		},
		Status:       string(order.Status),
		CancelReason: order.CancelReason,
		CreatedAt:    order.CreatedAt.Unix(),
		UpdatedAt:    order.UpdatedAt.Unix(),
	}
}

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleError преобразует доменную ошибку в HTTP ответ.
func handleError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Заказ не найден",
		})
	case isValidationError(err):
		log.Debug().Err(err).Str("method", method).Msg("Ошибка валидации")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	default:
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
	}
}

// isValidationError проверяет, является ли ошибка ошибкой валидации домена.
func isValidationError(err error) bool {
	validationErrors := []error{
		domain.ErrEmptyOrderItems,
		domain.ErrInvalidCustomerID,
		domain.ErrInvalidProductID,
		domain.ErrInvalidProductName,
		domain.ErrInvalidQuantity,
		domain.ErrInvalidPrice,
	}
	for _, ve := range validationErrors {
		if errors.Is(err, ve) {
			return true
		}
	}
	return false
}
