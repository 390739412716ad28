// Package messaging содержит контракты сообщений пайплайна оформления заказа.
// Используется всеми сервисами (Order, Users, Catalog, Notification) —
// единый источник правды для команд и ответов, исключает рассинхронизацию типов.
//
// Каждое сообщение несёт Envelope: message_id (ключ идемпотентности),
// correlation_id (= order_id) и occurred_at.
package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Типы сообщений
// =============================================================================

// Type — тип сообщения, дискриминатор envelope.
type Type string

const (
	// TypeCheckCustomer — команда проверки покупателя (Order → Users).
	TypeCheckCustomer Type = "saga.command.check_customer"

	// TypeReserveProducts — команда резервирования товаров (Order → Catalog).
	TypeReserveProducts Type = "saga.command.reserve_products"

	// TypeReleaseReservation — компенсация: снятие резерва (Order → Catalog).
	// Безопасна, даже если резерв не был создан.
	TypeReleaseReservation Type = "saga.command.release_reservation"

	// TypeCustomerChecked — ответ от Users Service.
	TypeCustomerChecked Type = "saga.reply.customer_checked"

	// TypeProductsReserved — ответ от Catalog Service.
	TypeProductsReserved Type = "saga.reply.products_reserved"

	// TypeOrderConfirmed — терминальное событие: заказ подтверждён.
	TypeOrderConfirmed Type = "order.confirmed"

	// TypeOrderCancelled — терминальное событие: заказ отменён.
	TypeOrderCancelled Type = "order.cancelled"
)

// Причины отмены заказа (wire-константы, попадают в OrderCancelled.Reason).
const (
	ReasonCustomerNotFound  = "customer_not_found"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonTimeout           = "timeout"
)

// =============================================================================
// Envelope — общая часть каждого сообщения
// =============================================================================

// Envelope — метаданные, которые несёт каждое сообщение пайплайна.
type Envelope struct {
	MessageID     string    `json:"message_id"`     // Уникальный ID сообщения — ключ идемпотентности
	CorrelationID string    `json:"correlation_id"` // ID заказа, связывает все сообщения саги
	Type          Type      `json:"type"`           // Тип сообщения
	OccurredAt    time.Time `json:"occurred_at"`    // Время создания сообщения
}

// NewEnvelope создаёт envelope с новым message_id.
func NewEnvelope(t Type, orderID string) Envelope {
	return Envelope{
		MessageID:     uuid.New().String(),
		CorrelationID: orderID,
		Type:          t,
		OccurredAt:    time.Now(),
	}
}

// PeekEnvelope читает только envelope из сырого payload.
// Используется consumer-ами для диспетчеризации по Type до полного парсинга.
func PeekEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// =============================================================================
// Команды саги
// =============================================================================

// CheckCustomer — команда проверки покупателя перед резервированием.
type CheckCustomer struct {
	Envelope
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
}

// ReservationItem — позиция резервирования.
type ReservationItem struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

// ReserveProducts — команда резервирования товаров заказа.
type ReserveProducts struct {
	Envelope
	OrderID string            `json:"order_id"`
	Items   []ReservationItem `json:"items"`
}

// ReleaseReservation — компенсирующая команда снятия резерва.
// Catalog Service обязан обработать её как no-op, если резерва нет.
type ReleaseReservation struct {
	Envelope
	OrderID string `json:"order_id"`
}

// =============================================================================
// Ответы саги
// =============================================================================

// CustomerChecked — результат проверки покупателя.
// OK=false — это бизнес-исход, а не ошибка: сага понимает его и отменяет заказ.
type CustomerChecked struct {
	Envelope
	OrderID string `json:"order_id"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"` // Заполняется при OK=false
}

// ProductsReserved — результат резервирования товаров.
type ProductsReserved struct {
	Envelope
	OrderID string `json:"order_id"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"` // Заполняется при OK=false
}

// =============================================================================
// Терминальные события заказа (fan-out)
// =============================================================================

// OrderConfirmed — заказ подтверждён: покупатель проверен, товары зарезервированы.
type OrderConfirmed struct {
	Envelope
	OrderID string `json:"order_id"`
}

// OrderCancelled — заказ отменён с указанием причины.
type OrderCancelled struct {
	Envelope
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// =============================================================================
// Сериализация
// =============================================================================

// Marshal сериализует любое сообщение в JSON.
func Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// CheckCustomerFromJSON десериализует команду CheckCustomer.
func CheckCustomerFromJSON(data []byte) (*CheckCustomer, error) {
	var cmd CheckCustomer
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// ReserveProductsFromJSON десериализует команду ReserveProducts.
func ReserveProductsFromJSON(data []byte) (*ReserveProducts, error) {
	var cmd ReserveProducts
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// ReleaseReservationFromJSON десериализует команду ReleaseReservation.
func ReleaseReservationFromJSON(data []byte) (*ReleaseReservation, error) {
	var cmd ReleaseReservation
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// CustomerCheckedFromJSON десериализует ответ CustomerChecked.
func CustomerCheckedFromJSON(data []byte) (*CustomerChecked, error) {
	var reply CustomerChecked
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// ProductsReservedFromJSON десериализует ответ ProductsReserved.
func ProductsReservedFromJSON(data []byte) (*ProductsReserved, error) {
	var reply ProductsReserved
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// OrderCancelledFromJSON десериализует событие OrderCancelled.
func OrderCancelledFromJSON(data []byte) (*OrderCancelled, error) {
	var event OrderCancelled
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// OrderConfirmedFromJSON десериализует событие OrderConfirmed.
func OrderConfirmedFromJSON(data []byte) (*OrderConfirmed, error) {
	var event OrderConfirmed
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
