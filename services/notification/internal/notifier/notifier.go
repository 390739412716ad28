// Package notifier отвечает за отправку уведомлений покупателям.
package notifier

import (
	"context"

	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/pkg/metrics"
)

// channelLog — канал доставки "в лог". Реальные каналы (email, push)
// подключаются своей реализацией Notifier.
const channelLog = "log"

// Notifier доставляет уведомление о терминальном событии заказа.
// Доставка должна быть идемпотентной: события приходят at-least-once.
type Notifier interface {
	// NotifyOrderConfirmed уведомляет о подтверждении заказа.
	NotifyOrderConfirmed(ctx context.Context, event *messaging.OrderConfirmed) error

	// NotifyOrderCancelled уведомляет об отмене заказа с причиной.
	NotifyOrderCancelled(ctx context.Context, event *messaging.OrderCancelled) error
}

// logNotifier пишет уведомления в структурированный лог.
type logNotifier struct{}

// NewLogNotifier создаёт notifier, доставляющий уведомления в лог.
func NewLogNotifier() Notifier {
	return &logNotifier{}
}

// NotifyOrderConfirmed пишет уведомление о подтверждении заказа.
func (n *logNotifier) NotifyOrderConfirmed(ctx context.Context, event *messaging.OrderConfirmed) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("order_id", event.OrderID).
		Str("event", string(event.Type)).
		Msg("Уведомление: заказ подтверждён")

	metrics.NotificationsSentTotal.WithLabelValues(channelLog, string(event.Type)).Inc()
	return nil
}

// NotifyOrderCancelled пишет уведомление об отмене заказа.
func (n *logNotifier) NotifyOrderCancelled(ctx context.Context, event *messaging.OrderCancelled) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("order_id", event.OrderID).
		Str("event", string(event.Type)).
		Str("reason", event.Reason).
		Msg("Уведомление: заказ отменён")

	metrics.NotificationsSentTotal.WithLabelValues(channelLog, string(event.Type)).Inc()
	return nil
}
