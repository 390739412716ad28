// Package outbox реализует Outbox Pattern для гарантированной доставки
// сообщений в Kafka. Запись outbox вставляется в одной транзакции с
// изменением агрегата; отдельный Relay читает необработанные записи и
// публикует их с гарантией at-least-once.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbox — запись в таблице outbox.
// Строка существует тогда и только тогда, когда закоммичена породившая её
// транзакция. ProcessedAt выставляется только после подтверждения брокера.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // Тип агрегата (order / customer / product)
	AggregateID   string            // ID агрегата — первичный ключ сортировки Relay
	EventType     string            // Тип сообщения (messaging.Type)
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ сообщения (партиционирование по order_id)
	Payload       []byte            // JSON payload
	Headers       map[string]string // Headers для Kafka (trace_id, correlation_id)
	CreatedAt     time.Time         // Время создания
	ProcessedAt   *time.Time        // Время подтверждения брокером (nil = не отправлена)
	RetryCount    int               // Количество неудачных попыток публикации
	NextAttemptAt time.Time         // Момент, с которого запись снова доступна Relay
	DeadLettered  bool              // Превышен лимит попыток, запись ждёт ручного разбора
	LastError     *string           // Последняя ошибка публикации
}

// New создаёт запись outbox для сообщения саги.
// NextAttemptAt = CreatedAt: запись доступна Relay сразу после коммита.
func New(aggregateType, aggregateID, eventType, topic string, payload []byte, headers map[string]string) *Outbox {
	now := time.Now()
	return &Outbox{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       payload,
		Headers:       headers,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
