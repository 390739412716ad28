// Package domainevent реализует накопление доменных событий агрегатом.
// Агрегат встраивает Buffer (композиция вместо иерархии базовых классов)
// и записывает события в своих мутирующих методах. Наружу события становятся
// видимыми только при дренировании буфера репозиторием в момент коммита.
package domainevent

import (
	"time"

	"github.com/google/uuid"
)

// Kind — тип доменного события внутри агрегата.
type Kind string

// Event — неизменяемое доменное событие.
// Привязано ровно к одному коммиту своего агрегата; отдельно не персистится.
type Event struct {
	ID          string    // UUID события
	AggregateID string    // ID агрегата-владельца
	Kind        Kind      // Тип события
	OccurredAt  time.Time // Время возникновения
	Payload     any       // Данные события (структура конкретного события)
}

// Buffer — in-memory список незакоммиченных событий одного экземпляра агрегата.
// Не потокобезопасен: агрегат — граница консистентности, с ним работает
// один unit of work.
type Buffer struct {
	events []Event
}

// Record добавляет событие в буфер.
func (b *Buffer) Record(aggregateID string, kind Kind, payload any) {
	b.events = append(b.events, Event{
		ID:          uuid.New().String(),
		AggregateID: aggregateID,
		Kind:        kind,
		OccurredAt:  time.Now(),
		Payload:     payload,
	})
}

// Uncommitted возвращает накопленные события в порядке записи.
// Возвращается копия — буфер нельзя изменить через результат.
func (b *Buffer) Uncommitted() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Clear очищает буфер. Вызывается репозиторием ТОЛЬКО после подтверждённого
// коммита транзакции: при откате буфер пропадает вместе с изменениями —
// вызывающий повторяет всю операцию целиком.
func (b *Buffer) Clear() {
	b.events = nil
}

// Len возвращает число незакоммиченных событий.
func (b *Buffer) Len() int {
	return len(b.events)
}
