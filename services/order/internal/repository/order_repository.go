// Package repository содержит реализацию доступа к данным для Order Service.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment-system/services/order/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
// Все изменяющие операции выполняются внутри транзакций саги
// (InsertOrderTx / UpdateOrderTx), здесь только чтение.
type OrderRepository interface {
	// GetByID возвращает заказ по ID с загруженными позициями.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
	// Используется для предотвращения дублирования заказов при retry checkout.
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Order, error)
}

// OrderModel — GORM модель для таблицы orders.
// Отделена от доменной сущности для гибкости.
type OrderModel struct {
	ID             string           `gorm:"column:id;type:varchar(36);primaryKey"`
	CustomerID     string           `gorm:"column:customer_id;type:varchar(36);not null;index"`
	Status         string           `gorm:"column:status;type:varchar(20);not null;index"`
	TotalAmount    int64            `gorm:"column:total_amount;not null"`
	Currency       string           `gorm:"column:currency;type:varchar(3);not null"`
	IdempotencyKey *string          `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	CancelReason   *string          `gorm:"column:cancel_reason;type:varchar(50)"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items          []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — GORM модель для таблицы order_items.
type OrderItemModel struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string    `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID   string    `gorm:"column:product_id;type:varchar(36);not null"`
	ProductName string    `gorm:"column:product_name;type:varchar(255);not null"`
	Quantity    int32     `gorm:"column:quantity;not null"`
	UnitPrice   int64     `gorm:"column:unit_price;not null"`
	Currency    string    `gorm:"column:currency;type:varchar(3);not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

// toDomain конвертирует GORM модель заказа в доменную сущность.
func (m *OrderModel) toDomain() *domain.Order {
	order := &domain.Order{
		ID:         m.ID,
		CustomerID: m.CustomerID,
		Status:     domain.OrderStatus(m.Status),
		TotalAmount: domain.Money{
			Amount:   m.TotalAmount,
			Currency: m.Currency,
		},
		CancelReason: m.CancelReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		Items:        make([]domain.OrderItem, len(m.Items)),
	}

	if m.IdempotencyKey != nil {
		order.IdempotencyKey = *m.IdempotencyKey
	}

	for i, item := range m.Items {
		order.Items[i] = *item.toDomain()
	}

	return order
}

// toDomain конвертирует GORM модель позиции в доменную сущность.
func (m *OrderItemModel) toDomain() *domain.OrderItem {
	return &domain.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		ProductName: m.ProductName,
		Quantity:    m.Quantity,
		UnitPrice: domain.Money{
			Amount:   m.UnitPrice,
			Currency: m.Currency,
		},
	}
}

// orderModelFromDomain конвертирует доменную сущность заказа в GORM модель.
func orderModelFromDomain(o *domain.Order) *OrderModel {
	model := &OrderModel{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		Status:       string(o.Status),
		TotalAmount:  o.TotalAmount.Amount,
		Currency:     o.TotalAmount.Currency,
		CancelReason: o.CancelReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		Items:        make([]OrderItemModel, len(o.Items)),
	}

	// Пустая строка -> NULL, чтобы uniqueIndex не конфликтовал
	if o.IdempotencyKey != "" {
		model.IdempotencyKey = &o.IdempotencyKey
	}

	for i, item := range o.Items {
		model.Items[i] = *orderItemModelFromDomain(&item)
	}

	return model
}

// orderItemModelFromDomain конвертирует доменную сущность позиции в GORM модель.
func orderItemModelFromDomain(oi *domain.OrderItem) *OrderItemModel {
	return &OrderItemModel{
		ID:          oi.ID,
		OrderID:     oi.OrderID,
		ProductID:   oi.ProductID,
		ProductName: oi.ProductName,
		Quantity:    oi.Quantity,
		UnitPrice:   oi.UnitPrice.Amount,
		Currency:    oi.UnitPrice.Currency,
	}
}

// =============================================================================
// Транзакционные операции — вызываются из транзакций саги
// =============================================================================

// InsertOrderTx вставляет заказ с позициями внутри транзакции вызывающего.
// Дубликат idempotency_key транслируется в domain.ErrDuplicateOrder.
func InsertOrderTx(tx *gorm.DB, order *domain.Order) error {
	model := orderModelFromDomain(order)

	if err := tx.Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateOrder
		}
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// UpdateOrderTx обновляет статус и причину отмены заказа внутри транзакции вызывающего.
func UpdateOrderTx(tx *gorm.DB, order *domain.Order) error {
	result := tx.Model(&OrderModel{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"status":        string(order.Status),
			"cancel_reason": order.CancelReason,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// =============================================================================
// Реализация OrderRepository
// =============================================================================

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// GetByID возвращает заказ по ID с загруженными позициями.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("idempotency_key = ?", key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// GORM v2 имеет ErrDuplicatedKey, также проверяем текст ошибки MySQL
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
