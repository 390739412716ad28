// Package consumer реализует обработку команд саги из Kafka.
// Catalog Service слушает saga.commands.inventory: резервирует товары по
// ReserveProducts и снимает резерв по компенсации ReleaseReservation.
package consumer

import (
	"context"
	"fmt"

	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/services/catalog/internal/service"
)

// KafkaConsumer — интерфейс для чтения сообщений из Kafka.
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// CommandConsumer слушает топик команд резервирования и передаёт их сервису.
type CommandConsumer struct {
	consumer KafkaConsumer
	service  service.InventoryService
	dedup    *inbox.Deduplicator // Redis fast-path; может быть nil
}

// NewCommandConsumer создаёт новый consumer команд резервирования.
func NewCommandConsumer(consumer KafkaConsumer, svc service.InventoryService, dedup *inbox.Deduplicator) *CommandConsumer {
	return &CommandConsumer{
		consumer: consumer,
		service:  svc,
		dedup:    dedup,
	}
}

// Run запускает чтение команд из Kafka. Блокирует до отмены контекста.
func (c *CommandConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("topic", kafka.TopicInventoryCommands).
		Msg("Запуск consumer-а команд резервирования")

	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

// handleMessage обрабатывает одно сообщение из Kafka.
func (c *CommandConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	log := logger.FromContext(ctx)

	env, err := messaging.PeekEnvelope(msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("payload", string(msg.Value)).
			Msg("Ошибка разбора envelope команды")
		return fmt.Errorf("ошибка разбора envelope: %w", err)
	}

	// Fast-path: уже обработанные команды отбрасываем без транзакции
	if c.dedup != nil && c.dedup.AlreadyProcessed(ctx, env.MessageID) {
		log.Info().
			Str("message_id", env.MessageID).
			Str("order_id", env.CorrelationID).
			Msg("Дубликат команды, пропускаем")
		metrics.ConsumerDuplicatesTotal.WithLabelValues("catalog-inventory").Inc()
		return nil
	}

	switch env.Type {
	case messaging.TypeReserveProducts:
		cmd, err := messaging.ReserveProductsFromJSON(msg.Value)
		if err != nil {
			return fmt.Errorf("ошибка десериализации ReserveProducts: %w", err)
		}
		return c.service.HandleReserveProducts(ctx, cmd)

	case messaging.TypeReleaseReservation:
		cmd, err := messaging.ReleaseReservationFromJSON(msg.Value)
		if err != nil {
			return fmt.Errorf("ошибка десериализации ReleaseReservation: %w", err)
		}
		return c.service.HandleReleaseReservation(ctx, cmd)

	default:
		// Незнакомый тип в топике команд резервирования — ошибка конфигурации.
		// После retry сообщение уйдёт в DLQ.
		log.Error().
			Str("type", string(env.Type)).
			Str("message_id", env.MessageID).
			Msg("Неизвестный тип сообщения в топике команд резервирования")
		return fmt.Errorf("неизвестный тип сообщения: %s", env.Type)
	}
}

// Close закрывает consumer.
func (c *CommandConsumer) Close() error {
	return c.consumer.Close()
}
