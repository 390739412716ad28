package domain

import "example.com/fulfillment-system/pkg/domainevent"

// Виды доменных событий заказа.
// Каждый вид либо транслируется в запись outbox при коммите (eventmap),
// либо явно помечен как внутренний и отбрасывается.
const (
	// EventOrderCreated — заказ создан, сага должна проверить покупателя.
	EventOrderCreated domainevent.Kind = "order.created"

	// EventOrderConfirmed — заказ подтверждён, уходит в order.events.
	EventOrderConfirmed domainevent.Kind = "order.confirmed"

	// EventOrderCancelled — заказ отменён, уходит в order.events.
	EventOrderCancelled domainevent.Kind = "order.cancelled"

	// EventOrderTotalCalculated — внутреннее событие,
	// наружу не публикуется (отфильтровывается при коммите).
	EventOrderTotalCalculated domainevent.Kind = "order.total_calculated"
)

// OrderCreatedPayload — данные события order.created.
type OrderCreatedPayload struct {
	OrderID    string
	CustomerID string
}

// OrderConfirmedPayload — данные события order.confirmed.
type OrderConfirmedPayload struct {
	OrderID string
}

// OrderCancelledPayload — данные события order.cancelled.
type OrderCancelledPayload struct {
	OrderID string
	Reason  string
}

// OrderTotalCalculatedPayload — данные внутреннего события order.total_calculated.
type OrderTotalCalculatedPayload struct {
	OrderID  string
	Amount   int64
	Currency string
}
