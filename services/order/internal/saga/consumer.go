package saga

import (
	"context"
	"fmt"

	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/pkg/metrics"
)

// =============================================================================
// ReplyConsumer — обработчик ответов Users и Catalog Service
// =============================================================================

// KafkaConsumer — интерфейс для чтения сообщений из Kafka.
// Позволяет замокать kafka.Consumer в unit-тестах.
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// ReplyConsumer слушает топик saga.replies и диспетчеризует ответы
// по типу из envelope. Всю работу делает Coordinator; здесь только
// парсинг, fast-path дедупликация и маршрутизация.
type ReplyConsumer struct {
	consumer    KafkaConsumer
	coordinator Coordinator
	dedup       *inbox.Deduplicator // Redis fast-path; может быть nil
}

// NewReplyConsumer создаёт новый consumer ответов саги.
// dedup — опциональный Redis fast-path: финальную защиту от дублей даёт
// processed_messages в транзакции координатора.
func NewReplyConsumer(consumer KafkaConsumer, coordinator Coordinator, dedup *inbox.Deduplicator) *ReplyConsumer {
	return &ReplyConsumer{
		consumer:    consumer,
		coordinator: coordinator,
		dedup:       dedup,
	}
}

// Run запускает чтение ответов из Kafka. Блокирует до отмены контекста.
func (c *ReplyConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("topic", kafka.TopicSagaReplies).
		Msg("Запуск Reply Consumer")

	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

// handleMessage обрабатывает одно сообщение из Kafka.
func (c *ReplyConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	log := logger.FromContext(ctx)

	env, err := messaging.PeekEnvelope(msg.Value)
	if err != nil {
		log.Error().
			Err(err).
			Str("payload", string(msg.Value)).
			Msg("Ошибка разбора envelope ответа")
		return fmt.Errorf("ошибка разбора envelope: %w", err)
	}

	// Fast-path: уже обработанные сообщения отбрасываем без похода в БД саги
	if c.dedup != nil && c.dedup.AlreadyProcessed(ctx, env.MessageID) {
		log.Info().
			Str("message_id", env.MessageID).
			Str("order_id", env.CorrelationID).
			Msg("Дубликат ответа, пропускаем")
		metrics.ConsumerDuplicatesTotal.WithLabelValues(inboxConsumerName).Inc()
		return nil
	}

	switch env.Type {
	case messaging.TypeCustomerChecked:
		reply, err := messaging.CustomerCheckedFromJSON(msg.Value)
		if err != nil {
			return fmt.Errorf("ошибка десериализации CustomerChecked: %w", err)
		}
		if err := c.coordinator.HandleCustomerChecked(ctx, reply); err != nil {
			return fmt.Errorf("ошибка обработки CustomerChecked: %w", err)
		}

	case messaging.TypeProductsReserved:
		reply, err := messaging.ProductsReservedFromJSON(msg.Value)
		if err != nil {
			return fmt.Errorf("ошибка десериализации ProductsReserved: %w", err)
		}
		if err := c.coordinator.HandleProductsReserved(ctx, reply); err != nil {
			return fmt.Errorf("ошибка обработки ProductsReserved: %w", err)
		}

	default:
		// Незнакомый тип в топике ответов — ошибка конфигурации.
		// Возвращаем ошибку: после retry сообщение уйдёт в DLQ.
		log.Error().
			Str("type", string(env.Type)).
			Str("message_id", env.MessageID).
			Msg("Неизвестный тип сообщения в топике ответов")
		return fmt.Errorf("неизвестный тип сообщения: %s", env.Type)
	}

	log.Info().
		Str("type", string(env.Type)).
		Str("message_id", env.MessageID).
		Str("order_id", env.CorrelationID).
		Msg("Ответ саги обработан")

	return nil
}

// Close закрывает consumer.
func (c *ReplyConsumer) Close() error {
	return c.consumer.Close()
}
