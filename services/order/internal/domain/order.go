// Package domain содержит бизнес-сущности и доменные ошибки Order Service.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/fulfillment-system/pkg/domainevent"
)

// OrderStatus — статус заказа в системе.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сага проверки и резервирования в процессе.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusConfirmed — покупатель проверен, товары зарезервированы.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"

	// OrderStatusCancelled — заказ отменён: покупатель не найден,
	// товара не хватило или истёк таймаут саги.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Money — денежная сумма с валютой.
// Хранит сумму в минимальных единицах (копейки, центы) для избежания проблем с плавающей точкой.
type Money struct {
	Currency string // ISO 4217 код валюты (USD, RUB, EUR)
	Amount   int64  // Сумма в минимальных единицах (копейки/центы)
}

// Multiply умножает сумму на количество.
// Используется для расчёта стоимости позиции (цена * количество).
func (m Money) Multiply(quantity int32) Money {
	return Money{
		Currency: m.Currency,
		Amount:   m.Amount * int64(quantity),
	}
}

// Order — заказ в системе.
// Это доменная сущность без зависимостей от инфраструктуры (GORM, транспорт).
// Встроенный domainevent.Buffer накапливает доменные события до коммита:
// репозиторий переводит их в outbox записи в той же транзакции, что
// и строки заказа, и очищает буфер только после успешного коммита.
type Order struct {
	domainevent.Buffer

	ID             string      // Уникальный идентификатор заказа (UUID)
	CustomerID     string      // ID покупателя, оформившего заказ
	Items          []OrderItem // Позиции заказа
	TotalAmount    Money       // Общая сумма заказа
	Status         OrderStatus // Текущий статус заказа
	CancelReason   *string     // Причина отмены (nil если заказ не отменён)
	IdempotencyKey string      // Ключ идемпотентности для предотвращения дубликатов
	CreatedAt      time.Time   // Дата создания заказа
	UpdatedAt      time.Time   // Дата последнего обновления
}

// NewOrder создаёт заказ в статусе PENDING, рассчитывает сумму и записывает
// события order.created и order.total_calculated в буфер.
func NewOrder(customerID string, items []OrderItem, idempotencyKey string) (*Order, error) {
	order := &Order{
		ID:             uuid.New().String(),
		CustomerID:     customerID,
		Items:          items,
		Status:         OrderStatusPending,
		IdempotencyKey: idempotencyKey,
	}

	for i := range order.Items {
		order.Items[i].ID = uuid.New().String()
		order.Items[i].OrderID = order.ID
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}

	order.CalculateTotal()

	order.Record(order.ID, EventOrderCreated, OrderCreatedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
	})
	order.Record(order.ID, EventOrderTotalCalculated, OrderTotalCalculatedPayload{
		OrderID:  order.ID,
		Amount:   order.TotalAmount.Amount,
		Currency: order.TotalAmount.Currency,
	})

	return order, nil
}

// Validate проверяет корректность полей заказа.
// Вызывается перед созданием заказа.
func (o *Order) Validate() error {
	if err := o.validateCustomerID(); err != nil {
		return err
	}

	if err := o.validateItems(); err != nil {
		return err
	}

	return nil
}

// validateCustomerID проверяет, что CustomerID не пустой.
func (o *Order) validateCustomerID() error {
	if strings.TrimSpace(o.CustomerID) == "" {
		return ErrInvalidCustomerID
	}
	return nil
}

// validateItems проверяет, что заказ содержит хотя бы одну позицию.
func (o *Order) validateItems() error {
	if len(o.Items) == 0 {
		return ErrEmptyOrderItems
	}

	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// CalculateTotal пересчитывает общую сумму заказа из позиций.
// Валюта берётся из первой позиции.
func (o *Order) CalculateTotal() {
	if len(o.Items) == 0 {
		o.TotalAmount = Money{Amount: 0}
		return
	}

	currency := o.Items[0].UnitPrice.Currency
	var totalAmount int64

	for i := range o.Items {
		itemTotal := o.Items[i].Total()
		totalAmount += itemTotal.Amount
	}

	o.TotalAmount = Money{
		Currency: currency,
		Amount:   totalAmount,
	}
}

// CanConfirm проверяет, можно ли подтвердить заказ.
// Подтвердить можно только заказ в статусе PENDING.
func (o *Order) CanConfirm() bool {
	return o.Status == OrderStatusPending
}

// Confirm подтверждает заказ после успешного резервирования товаров.
// Записывает событие order.confirmed в буфер.
func (o *Order) Confirm() error {
	if !o.CanConfirm() {
		return ErrOrderCannotConfirm
	}
	o.Status = OrderStatusConfirmed
	o.UpdatedAt = time.Now()

	o.Record(o.ID, EventOrderConfirmed, OrderConfirmedPayload{OrderID: o.ID})
	return nil
}

// CanCancel проверяет, можно ли отменить заказ.
// Отменить можно только заказ в статусе PENDING.
func (o *Order) CanCancel() bool {
	return o.Status == OrderStatusPending
}

// Cancel отменяет заказ с указанием причины (customer_not_found,
// insufficient_stock, timeout). Записывает событие order.cancelled в буфер.
func (o *Order) Cancel(reason string) error {
	if !o.CanCancel() {
		return ErrOrderCannotCancel
	}
	o.Status = OrderStatusCancelled
	o.CancelReason = &reason
	o.UpdatedAt = time.Now()

	o.Record(o.ID, EventOrderCancelled, OrderCancelledPayload{
		OrderID: o.ID,
		Reason:  reason,
	})
	return nil
}

// IsTerminal возвращает true, если заказ в финальном статусе.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusConfirmed || o.Status == OrderStatusCancelled
}

// OrderItem — позиция заказа.
// Содержит информацию о товаре, количестве и цене.
type OrderItem struct {
	ID          string // Уникальный идентификатор позиции (UUID)
	OrderID     string // ID заказа, к которому относится позиция
	ProductID   string // ID товара
	ProductName string // Название товара (денормализовано для истории)
	Quantity    int32  // Количество единиц товара
	UnitPrice   Money  // Цена за единицу товара
}

// Validate проверяет корректность полей позиции заказа.
func (oi *OrderItem) Validate() error {
	if strings.TrimSpace(oi.ProductID) == "" {
		return ErrInvalidProductID
	}

	if strings.TrimSpace(oi.ProductName) == "" {
		return ErrInvalidProductName
	}

	if oi.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	if oi.UnitPrice.Amount <= 0 {
		return ErrInvalidPrice
	}

	return nil
}

// Total возвращает общую стоимость позиции (количество * цена за единицу).
func (oi *OrderItem) Total() Money {
	return oi.UnitPrice.Multiply(oi.Quantity)
}
