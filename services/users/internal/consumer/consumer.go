// Package consumer реализует обработку команд саги из Kafka.
// Users Service слушает saga.commands.customer и отвечает CustomerChecked
// через outbox: ответ уходит в saga.replies с гарантией at-least-once.
package consumer

import (
	"context"
	"fmt"

	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/services/users/internal/service"
)

// KafkaConsumer — интерфейс для чтения сообщений из Kafka.
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// CommandConsumer слушает топик команд покупателя и передаёт их сервису.
type CommandConsumer struct {
	consumer KafkaConsumer
	service  service.VerificationService
	dedup    *inbox.Deduplicator // Redis fast-path; может быть nil
}

// NewCommandConsumer создаёт новый consumer команд проверки покупателя.
func NewCommandConsumer(consumer KafkaConsumer, svc service.VerificationService, dedup *inbox.Deduplicator) *CommandConsumer {
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
		Str("topic", kafka.TopicCustomerCommands).
		Msg("Запуск consumer-а команд проверки покупателя")

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
		metrics.ConsumerDuplicatesTotal.WithLabelValues("users-verification").Inc()
		return nil
	}

	switch env.Type {
	case messaging.TypeCheckCustomer:
		cmd, err := messaging.CheckCustomerFromJSON(msg.Value)
		if err != nil {
			return fmt.Errorf("ошибка десериализации CheckCustomer: %w", err)
		}
		return c.service.HandleCheckCustomer(ctx, cmd)

	default:
		// Незнакомый тип в топике команд покупателя — ошибка конфигурации.
		// После retry сообщение уйдёт в DLQ.
		log.Error().
			Str("type", string(env.Type)).
			Str("message_id", env.MessageID).
			Msg("Неизвестный тип сообщения в топике команд покупателя")
		return fmt.Errorf("неизвестный тип сообщения: %s", env.Type)
	}
}

// Close закрывает consumer.
func (c *CommandConsumer) Close() error {
	return c.consumer.Close()
}
