package outbox

import (
	"context"
	"time"

	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
)

// KafkaProducer — интерфейс для отправки сообщений в Kafka.
// Позволяет замокать kafka.Producer в unit-тестах (Dependency Inversion).
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// RelayConfig — настройки Outbox Relay.
type RelayConfig struct {
	// PollInterval — интервал между опросами таблицы outbox.
	PollInterval time.Duration

	// BatchSize — количество записей за один запрос.
	BatchSize int

	// MaxRetries — максимальное количество попыток публикации.
	// После превышения запись помечается dead letter и выводится из очереди.
	MaxRetries int

	// RetryBackoff — базовая задержка экспоненциального backoff.
	// Задержка i-й попытки: RetryBackoff * 2^i.
	RetryBackoff time.Duration

	// Retention — срок хранения обработанных записей до очистки.
	Retention time.Duration
}

// DefaultRelayConfig возвращает конфигурацию по умолчанию.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		MaxRetries:   5,
		RetryBackoff: 2 * time.Second,
		Retention:    7 * 24 * time.Hour,
	}
}

// cleanupInterval — интервал очистки обработанных записей outbox.
const cleanupInterval = 1 * time.Hour

// maxBackoffShift ограничивает экспоненту backoff (2^10 * base максимум).
const maxBackoffShift = 10

// Relay читает записи из outbox и публикует их в Kafka.
// Это и есть путь восстановления после сбоя: упавший Relay после рестарта
// просто продолжает сканировать таблицу — записи живут в БД, не в памяти.
type Relay struct {
	repo     OutboxRepository
	producer KafkaProducer
	cfg      RelayConfig
	name     string // Имя сервиса для логов (order / users / catalog)
}

// NewRelay создаёт новый Outbox Relay.
// name — имя сервиса для логов (например, "order" или "catalog").
func NewRelay(repo OutboxRepository, producer KafkaProducer, cfg RelayConfig, name string) *Relay {
	return &Relay{
		repo:     repo,
		producer: producer,
		cfg:      cfg,
		name:     name,
	}
}

// Run запускает Relay. Блокирует выполнение до отмены контекста.
func (w *Relay) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Str("name", w.name).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Relay")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("name", w.name).Msg("Остановка Outbox Relay")
			return
		case <-ticker.C:
			w.processPending(ctx)
		case <-cleanupTicker.C:
			w.cleanupProcessed(ctx)
		}
	}
}

// processPending обрабатывает пачку записей, готовых к публикации.
func (w *Relay) processPending(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetPending(ctx, time.Now(), w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("Ошибка чтения outbox")
		return
	}

	if len(records) == 0 {
		return
	}

	log.Debug().Int("count", len(records)).Str("name", w.name).Msg("Обработка записей outbox")

	for _, record := range records {
		// Проверяем контекст перед обработкой
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.publish(ctx, record)
	}
}

// publish отправляет одну запись в Kafka и обновляет её статус.
func (w *Relay) publish(ctx context.Context, record *Outbox) {
	log := logger.FromContext(ctx)

	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Str("topic", record.Topic).
			Int("retry_count", record.RetryCount).
			Msg("Ошибка публикации в Kafka")

		w.handlePublishError(ctx, record, err)
		return
	}

	// Помечаем как доставленную только после ack брокера
	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		// Запись останется pending и будет переотправлена — at-least-once
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Msg("Ошибка пометки outbox как обработанной")
		return
	}

	metrics.OutboxPublishedTotal.WithLabelValues(w.name, record.EventType).Inc()

	log.Debug().
		Str("outbox_id", record.ID).
		Str("topic", record.Topic).
		Str("event_type", record.EventType).
		Msg("Сообщение опубликовано")
}

// handlePublishError регистрирует неудачную попытку: backoff или dead letter.
func (w *Relay) handlePublishError(ctx context.Context, record *Outbox, pubErr error) {
	log := logger.FromContext(ctx)

	// Следующая попытка станет последней разрешённой? Тогда dead letter.
	if record.RetryCount+1 >= w.cfg.MaxRetries {
		log.Warn().
			Str("outbox_id", record.ID).
			Str("event_type", record.EventType).
			Str("aggregate_id", record.AggregateID).
			Int("retry_count", record.RetryCount+1).
			Msg("Dead letter: превышен лимит попыток, запись выведена из очереди")

		if err := w.repo.MarkDeadLettered(ctx, record.ID, pubErr); err != nil {
			log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
		}
		metrics.OutboxDeadLetteredTotal.WithLabelValues(w.name).Inc()
		return
	}

	nextAttempt := time.Now().Add(w.backoff(record.RetryCount))
	if err := w.repo.MarkFailed(ctx, record.ID, pubErr, nextAttempt); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
	}
	metrics.OutboxFailedTotal.WithLabelValues(w.name).Inc()
}

// backoff возвращает задержку перед следующей попыткой: base * 2^retryCount.
func (w *Relay) backoff(retryCount int) time.Duration {
	shift := retryCount
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return w.cfg.RetryBackoff << shift
}

// cleanupProcessed удаляет обработанные записи outbox старше Retention.
func (w *Relay) cleanupProcessed(ctx context.Context) {
	log := logger.FromContext(ctx)

	before := time.Now().Add(-w.cfg.Retention)
	deleted, err := w.repo.DeleteProcessedBefore(ctx, before)
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("Ошибка очистки outbox")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Str("name", w.name).Msg("Очистка обработанных записей outbox")
	}
}

// ProcessSingle публикует одну запись outbox (для тестирования).
func (w *Relay) ProcessSingle(ctx context.Context, record *Outbox) error {
	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		w.handlePublishError(ctx, record, err)
		return err
	}

	return w.repo.MarkProcessed(ctx, record.ID)
}
