// Package consumer реализует fan-out обработку терминальных событий заказа.
// Notification Service слушает order.events и доставляет уведомления;
// состояния у сервиса нет, повторная доставка события безопасна.
package consumer

import (
	"context"
	"fmt"

	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/services/notification/internal/notifier"
)

// KafkaConsumer — интерфейс для чтения сообщений из Kafka.
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// EventConsumer слушает топик терминальных событий заказа.
type EventConsumer struct {
	consumer KafkaConsumer
	notifier notifier.Notifier
}

// NewEventConsumer создаёт новый consumer событий заказа.
func NewEventConsumer(consumer KafkaConsumer, n notifier.Notifier) *EventConsumer {
	return &EventConsumer{
		consumer: consumer,
		notifier: n,
	}
}

// Run запускает чтение событий из Kafka. Блокирует до отмены контекста.
func (c *EventConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("topic", kafka.TopicOrderEvents).
		Msg("Запуск consumer-а событий заказа")

	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

// handleMessage обрабатывает одно событие из Kafka.
func (c *EventConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	log := logger.FromContext(ctx)

	env, err := messaging.PeekEnvelope(msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("payload", string(msg.Value)).
			Msg("Ошибка разбора envelope события")
		return fmt.Errorf("ошибка разбора envelope: %w", err)
	}

	switch env.Type {
	case messaging.TypeOrderConfirmed:
		event, err := messaging.OrderConfirmedFromJSON(msg.Value)
		if err != nil {
			return fmt.Errorf("ошибка десериализации OrderConfirmed: %w", err)
		}
		return c.notifier.NotifyOrderConfirmed(ctx, event)

	case messaging.TypeOrderCancelled:
		event, err := messaging.OrderCancelledFromJSON(msg.Value)
		if err != nil {
			return fmt.Errorf("ошибка десериализации OrderCancelled: %w", err)
		}
		return c.notifier.NotifyOrderCancelled(ctx, event)

	default:
		// order.events — fan-out топик: новые типы событий не должны
		// валить существующих подписчиков, пропускаем без ошибки
		log.Warn().
			Str("type", string(env.Type)).
			Str("message_id", env.MessageID).
			Msg("Незнакомый тип события, пропускаем")
		return nil
	}
}

// Close закрывает consumer.
func (c *EventConsumer) Close() error {
	return c.consumer.Close()
}
