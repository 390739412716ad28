// Package saga реализует координацию распределённой транзакции оформления
// заказа. Order Service ведёт state machine саги:
// 1. Проверка покупателя (Users Service)
// 2. Резервирование товаров (Catalog Service)
// 3. Подтверждение заказа или отмена с компенсацией
package saga

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Состояния Saga
// =============================================================================

// State — состояние саги в state machine.
type State string

const (
	// StateAwaitingCustomerCheck — команда CheckCustomer отправлена в Users Service.
	// Это начальное состояние саги (создаётся атомарно с заказом и outbox записью).
	StateAwaitingCustomerCheck State = "AWAITING_CUSTOMER_CHECK"

	// StateAwaitingInventoryReservation — покупатель проверен,
	// команда ReserveProducts отправлена в Catalog Service.
	StateAwaitingInventoryReservation State = "AWAITING_INVENTORY_RESERVATION"

	// StateConfirmed — товары зарезервированы, заказ подтверждён.
	StateConfirmed State = "CONFIRMED"

	// StateCancelled — сага отменена: покупатель не найден,
	// товара не хватило или истёк дедлайн шага.
	StateCancelled State = "CANCELLED"
)

// IsTerminal возвращает true, если сага в финальном состоянии.
// Терминальная сага поглощает любые дальнейшие ответы как no-op.
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// =============================================================================
// Saga — доменная сущность
// =============================================================================

// Saga — состояние распределённой транзакции оформления заказа.
// OrderID выступает correlation id: все сообщения саги несут его в envelope.
type Saga struct {
	ID        string    // UUID саги
	OrderID   string    // ID связанного заказа (correlation id)
	State     State     // Текущее состояние
	Reason    *string   // Причина отмены (при CANCELLED)
	Version   int       // Optimistic Locking: инкрементируется при каждом обновлении
	Deadline  time.Time // Дедлайн текущего шага; просроченные саги отменяет sweep worker
	CreatedAt time.Time // Время создания
	UpdatedAt time.Time // Время последнего обновления
}

// New создаёт сагу в начальном состоянии AWAITING_CUSTOMER_CHECK.
func New(orderID string, deadline time.Time) *Saga {
	now := time.Now()
	return &Saga{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		State:     StateAwaitingCustomerCheck,
		Version:   1,
		Deadline:  deadline,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Expired возвращает true, если дедлайн текущего шага прошёл.
// Для терминальных саг всегда false.
func (s *Saga) Expired(now time.Time) bool {
	if s.State.IsTerminal() {
		return false
	}
	return now.After(s.Deadline)
}

// =============================================================================
// Переходы состояний (State Machine)
// =============================================================================

// Ошибки переходов состояний.
var (
	ErrInvalidTransition = errors.New("недопустимый переход состояния саги")
	ErrSagaFinished      = errors.New("сага уже завершена")
)

// allowedTransitions определяет допустимые переходы состояний.
// Ключ — текущее состояние, значение — список допустимых следующих состояний.
var allowedTransitions = map[State][]State{
	StateAwaitingCustomerCheck:        {StateAwaitingInventoryReservation, StateCancelled},
	StateAwaitingInventoryReservation: {StateConfirmed, StateCancelled},
	// StateConfirmed и StateCancelled — терминальные, переходов нет
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (s *Saga) CanTransitionTo(newState State) bool {
	allowed, ok := allowedTransitions[s.State]
	if !ok {
		return false // Терминальное состояние
	}

	for _, state := range allowed {
		if state == newState {
			return true
		}
	}
	return false
}

// TransitionTo выполняет переход в новое состояние.
// Возвращает ошибку, если переход недопустим.
func (s *Saga) TransitionTo(newState State) error {
	if s.State.IsTerminal() {
		return ErrSagaFinished
	}

	if !s.CanTransitionTo(newState) {
		return ErrInvalidTransition
	}

	s.State = newState
	s.UpdatedAt = time.Now()
	return nil
}

// AdvanceToReservation переводит сагу к шагу резервирования товаров
// и продлевает дедлайн: каждый шаг получает свой полный таймаут.
func (s *Saga) AdvanceToReservation(deadline time.Time) error {
	if err := s.TransitionTo(StateAwaitingInventoryReservation); err != nil {
		return err
	}
	s.Deadline = deadline
	return nil
}

// Confirm завершает сагу успешно после резервирования товаров.
func (s *Saga) Confirm() error {
	return s.TransitionTo(StateConfirmed)
}

// Cancel отменяет сагу с указанием причины
// (customer_not_found, insufficient_stock, timeout).
func (s *Saga) Cancel(reason string) error {
	if err := s.TransitionTo(StateCancelled); err != nil {
		return err
	}
	s.Reason = &reason
	return nil
}
