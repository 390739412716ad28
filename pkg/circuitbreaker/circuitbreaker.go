// Package circuitbreaker предоставляет Circuit Breaker для защиты от каскадных сбоев.
// Оборачивает публикацию в Kafka: при недоступности брокера Relay быстро
// откладывает записи по backoff вместо ожидания таймаута на каждой.
//
// Состояния Circuit Breaker:
//   - Closed: нормальная работа, запросы проходят
//   - Open: брокер недоступен, публикация отклоняется мгновенно (без ожидания timeout)
//   - Half-Open: пробный период, пропускаем часть запросов для проверки восстановления
//
// Использование:
//
//	cb := circuitbreaker.New("kafka-producer")
//	producer := circuitbreaker.WrapProducer(kafkaProducer, cb)
//	relay := outbox.NewRelay(repo, producer, cfg, "order")
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
)

// ErrUnavailable возвращается, когда breaker открыт и запрос отклонён без выполнения.
var ErrUnavailable = errors.New("circuit breaker открыт, запрос отклонён")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Макс. запросов в Half-Open состоянии (по умолчанию 1)
	Interval     time.Duration // Интервал сброса счётчика в Closed (по умолчанию 60s)
	Timeout      time.Duration // Время в Open до перехода в Half-Open (по умолчанию 30s)
	FailureRatio float64       // Доля ошибок для перехода в Open (по умолчанию 0.5)
	MinRequests  uint32        // Мин. запросов для расчёта ratio (по умолчанию 5)
}

// DefaultSettings возвращает настройки по умолчанию.
// Оптимизированы для микросервисов с быстрым восстановлением.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,                // В Half-Open пропускаем 1 запрос
		Interval:     60 * time.Second, // Сбрасываем счётчик каждые 60 секунд
		Timeout:      30 * time.Second, // Через 30 секунд пробуем восстановить связь
		FailureRatio: 0.5,              // Открываем при 50% ошибок
		MinRequests:  5,                // Минимум 5 запросов для принятия решения
	}
}

// Breaker — обёртка над gobreaker с логированием.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт новый Circuit Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Circuit Breaker с пользовательскими настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		// ReadyToTrip определяет когда открыть breaker.
		// Открываем если доля ошибок >= FailureRatio и было >= MinRequests запросов.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},

		// OnStateChange логирует смену состояния.
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — брокер недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — брокер восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// Execute выполняет fn через Circuit Breaker.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrUnavailable, b.name)
	}
	return err
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

// =============================================================================
// Обёртка Kafka Producer
// =============================================================================

// Producer — интерфейс отправки сообщений, совместимый с kafka.Producer.
type Producer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// breakerProducer оборачивает Producer в Circuit Breaker.
type breakerProducer struct {
	inner   Producer
	breaker *Breaker
}

// WrapProducer оборачивает producer в Circuit Breaker.
// При открытом breaker SendMessage возвращает ErrUnavailable мгновенно,
// не дожидаясь таймаута брокера.
func WrapProducer(inner Producer, b *Breaker) Producer {
	return &breakerProducer{inner: inner, breaker: b}
}

func (p *breakerProducer) SendMessage(ctx context.Context, msg *kafka.Message) error {
	var sendErr error

	cbErr := p.breaker.Execute(func() error {
		sendErr = p.inner.SendMessage(ctx, msg)
		if sendErr != nil && isBreakerFailure(sendErr) {
			return sendErr
		}
		// Отмена контекста вызывающим — не сбой брокера, breaker её не считает
		return nil
	})

	if errors.Is(cbErr, ErrUnavailable) {
		return cbErr
	}
	return sendErr
}

// isBreakerFailure определяет, должна ли ошибка учитываться в Circuit Breaker.
// Отмена контекста вызывающим — не сбой брокера.
func isBreakerFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}
