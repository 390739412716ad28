package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/messaging"
	outboxpkg "example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/order/internal/domain"
)

const testStepTimeout = 5 * time.Minute

func newTestCoordinator(sagaRepo *mockRepository, orderRepo *mockOrderRepository) Coordinator {
	return NewCoordinator(sagaRepo, orderRepo, testStepTimeout)
}

func customerChecked(orderID string, ok bool, reason string) *messaging.CustomerChecked {
	return &messaging.CustomerChecked{
		Envelope: messaging.NewEnvelope(messaging.TypeCustomerChecked, orderID),
		OrderID:  orderID,
		OK:       ok,
		Reason:   reason,
	}
}

func productsReserved(orderID string, ok bool, reason string) *messaging.ProductsReserved {
	return &messaging.ProductsReserved{
		Envelope: messaging.NewEnvelope(messaging.TypeProductsReserved, orderID),
		OrderID:  orderID,
		OK:       ok,
		Reason:   reason,
	}
}

// =============================================================================
// Создание заказа с сагой
// =============================================================================

func TestCoordinator_CreateOrderWithSaga(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()

	sagaRepo.On("CreateOrderWithSaga", mock.Anything, order, mock.MatchedBy(func(s *Saga) bool {
		return s.OrderID == order.ID &&
			s.State == StateAwaitingCustomerCheck &&
			s.Version == 1 &&
			s.Deadline.After(time.Now())
	})).Return(nil)

	err := coord.CreateOrderWithSaga(context.Background(), order)

	require.NoError(t, err)
	sagaRepo.AssertExpectations(t)
}

// =============================================================================
// Шаг 1: ответ проверки покупателя
// =============================================================================

func TestCoordinator_CustomerChecked_OK_SendsReserveProducts(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()
	reply := customerChecked(order.ID, true, "")

	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(testSaga(order.ID, StateAwaitingCustomerCheck), nil)
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	sagaRepo.On("UpdateWithOrder", mock.Anything,
		mock.MatchedBy(func(s *Saga) bool {
			return s.State == StateAwaitingInventoryReservation
		}),
		order,
		mock.MatchedBy(func(extra []*outboxpkg.Outbox) bool {
			if len(extra) != 1 {
				return false
			}
			record := extra[0]
			if record.Topic != kafka.TopicInventoryCommands {
				return false
			}
			cmd, err := messaging.ReserveProductsFromJSON(record.Payload)
			return err == nil &&
				cmd.OrderID == order.ID &&
				len(cmd.Items) == 1 &&
				cmd.Items[0].ProductID == "product-1" &&
				cmd.Items[0].Quantity == 2
		}),
		reply.MessageID,
	).Return(nil)

	err := coord.HandleCustomerChecked(context.Background(), reply)

	require.NoError(t, err)
	sagaRepo.AssertExpectations(t)
}

func TestCoordinator_CustomerChecked_Failed_CancelsOrder(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()
	reply := customerChecked(order.ID, false, messaging.ReasonCustomerNotFound)

	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(testSaga(order.ID, StateAwaitingCustomerCheck), nil)
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	sagaRepo.On("UpdateWithOrder", mock.Anything,
		mock.MatchedBy(func(s *Saga) bool {
			return s.State == StateCancelled &&
				s.Reason != nil && *s.Reason == messaging.ReasonCustomerNotFound
		}),
		mock.MatchedBy(func(o *domain.Order) bool {
			// Заказ отменён, событие order.cancelled в буфере
			return o.Status == domain.OrderStatusCancelled && o.Len() == 1
		}),
		mock.MatchedBy(func(extra []*outboxpkg.Outbox) bool {
			return len(extra) == 0 // Компенсация не нужна: резерва не было
		}),
		reply.MessageID,
	).Return(nil)

	err := coord.HandleCustomerChecked(context.Background(), reply)

	require.NoError(t, err)
	sagaRepo.AssertExpectations(t)
}

func TestCoordinator_CustomerChecked_TerminalSagaIgnoresReply(t *testing.T) {
	for _, state := range []State{StateConfirmed, StateCancelled} {
		sagaRepo := new(mockRepository)
		orderRepo := new(mockOrderRepository)
		coord := newTestCoordinator(sagaRepo, orderRepo)

		sagaRepo.On("GetByOrderID", mock.Anything, "order-123").
			Return(testSaga("order-123", state), nil)

		err := coord.HandleCustomerChecked(context.Background(), customerChecked("order-123", true, ""))

		require.NoError(t, err)
		sagaRepo.AssertNotCalled(t, "UpdateWithOrder",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}

// =============================================================================
// Шаг 2: ответ резервирования товаров
// =============================================================================

func TestCoordinator_ProductsReserved_OK_ConfirmsOrder(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()
	reply := productsReserved(order.ID, true, "")

	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(testSaga(order.ID, StateAwaitingInventoryReservation), nil)
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	sagaRepo.On("UpdateWithOrder", mock.Anything,
		mock.MatchedBy(func(s *Saga) bool {
			return s.State == StateConfirmed
		}),
		mock.MatchedBy(func(o *domain.Order) bool {
			// Заказ подтверждён, событие order.confirmed даст OrderConfirmed в outbox
			return o.Status == domain.OrderStatusConfirmed && o.Len() == 1
		}),
		mock.MatchedBy(func(extra []*outboxpkg.Outbox) bool {
			return len(extra) == 0
		}),
		reply.MessageID,
	).Return(nil)

	err := coord.HandleProductsReserved(context.Background(), reply)

	require.NoError(t, err)
	sagaRepo.AssertExpectations(t)
}

func TestCoordinator_ProductsReserved_Failed_CancelsWithRelease(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()
	reply := productsReserved(order.ID, false, messaging.ReasonInsufficientStock)

	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(testSaga(order.ID, StateAwaitingInventoryReservation), nil)
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	sagaRepo.On("UpdateWithOrder", mock.Anything,
		mock.MatchedBy(func(s *Saga) bool {
			return s.State == StateCancelled &&
				s.Reason != nil && *s.Reason == messaging.ReasonInsufficientStock
		}),
		mock.MatchedBy(func(o *domain.Order) bool {
			return o.Status == domain.OrderStatusCancelled
		}),
		mock.MatchedBy(func(extra []*outboxpkg.Outbox) bool {
			// Компенсация отправляется даже при неудачном резервировании
			if len(extra) != 1 {
				return false
			}
			release, err := messaging.ReleaseReservationFromJSON(extra[0].Payload)
			return err == nil && release.OrderID == order.ID
		}),
		reply.MessageID,
	).Return(nil)

	err := coord.HandleProductsReserved(context.Background(), reply)

	require.NoError(t, err)
	sagaRepo.AssertExpectations(t)
}

func TestCoordinator_ProductsReserved_OutOfOrderIgnored(t *testing.T) {
	// Ответ ProductsReserved до прохождения проверки покупателя:
	// сага остаётся в AWAITING_CUSTOMER_CHECK, заказ не подтверждается
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	sagaRepo.On("GetByOrderID", mock.Anything, "order-123").
		Return(testSaga("order-123", StateAwaitingCustomerCheck), nil)

	err := coord.HandleProductsReserved(context.Background(), productsReserved("order-123", true, ""))

	require.NoError(t, err)
	sagaRepo.AssertNotCalled(t, "UpdateWithOrder",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// =============================================================================
// Идемпотентность и конкурентность
// =============================================================================

func TestCoordinator_DuplicateMessageAckedWithoutEffects(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()
	reply := customerChecked(order.ID, true, "")

	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(testSaga(order.ID, StateAwaitingCustomerCheck), nil)
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	// Повторная доставка: вставка в processed_messages падает на дубликате
	sagaRepo.On("UpdateWithOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, reply.MessageID).
		Return(inbox.ErrDuplicateMessage)

	err := coord.HandleCustomerChecked(context.Background(), reply)

	// Сообщение подтверждается без повторных эффектов
	require.NoError(t, err)
}

func TestCoordinator_ConcurrentUpdateResolvedByReread(t *testing.T) {
	// Гонка timeout worker-а и reply consumer-а: первая попытка падает
	// на конфликте версий, перечитанная сага уже терминальна → no-op
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()
	reply := productsReserved(order.ID, true, "")

	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(testSaga(order.ID, StateAwaitingInventoryReservation), nil).Once()
	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(testSaga(order.ID, StateCancelled), nil).Once()
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	sagaRepo.On("UpdateWithOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ErrSagaConcurrentUpdate).Once()

	err := coord.HandleProductsReserved(context.Background(), reply)

	require.NoError(t, err)
	sagaRepo.AssertExpectations(t)
}

func TestCoordinator_ConflictRetriesBounded(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()
	reply := productsReserved(order.ID, true, "")

	// Каждое перечитывание возвращает свежие объекты, как реальный
	// репозиторий: координатор мутирует сагу и заказ до записи.
	for i := 0; i < maxConflictRetries; i++ {
		sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
			Return(testSaga(order.ID, StateAwaitingInventoryReservation), nil).Once()
		orderRepo.On("GetByID", mock.Anything, order.ID).Return(testOrder(), nil).Once()
	}

	sagaRepo.On("UpdateWithOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ErrSagaConcurrentUpdate).Times(maxConflictRetries)

	err := coord.HandleProductsReserved(context.Background(), reply)

	assert.ErrorIs(t, err, ErrSagaConcurrentUpdate)
	sagaRepo.AssertExpectations(t)
}

// =============================================================================
// Таймаут
// =============================================================================

func TestCoordinator_CancelOnTimeout_FromCustomerCheck(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()

	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(expiredSaga(order.ID, StateAwaitingCustomerCheck), nil)
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	sagaRepo.On("UpdateWithOrder", mock.Anything,
		mock.MatchedBy(func(s *Saga) bool {
			return s.State == StateCancelled &&
				s.Reason != nil && *s.Reason == messaging.ReasonTimeout
		}),
		mock.Anything,
		mock.MatchedBy(func(extra []*outboxpkg.Outbox) bool {
			return len(extra) == 0 // До резервирования не дошли — компенсация не нужна
		}),
		"", // Таймаут не связан с входящим сообщением
	).Return(nil)

	err := coord.CancelOnTimeout(context.Background(), order.ID)

	require.NoError(t, err)
	sagaRepo.AssertExpectations(t)
}

func TestCoordinator_CancelOnTimeout_FromReservation_SendsRelease(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	order := testOrder()

	sagaRepo.On("GetByOrderID", mock.Anything, order.ID).
		Return(expiredSaga(order.ID, StateAwaitingInventoryReservation), nil)
	orderRepo.On("GetByID", mock.Anything, order.ID).Return(order, nil)

	sagaRepo.On("UpdateWithOrder", mock.Anything,
		mock.MatchedBy(func(s *Saga) bool {
			return s.State == StateCancelled
		}),
		mock.MatchedBy(func(o *domain.Order) bool {
			return o.Status == domain.OrderStatusCancelled &&
				o.CancelReason != nil && *o.CancelReason == messaging.ReasonTimeout
		}),
		mock.MatchedBy(func(extra []*outboxpkg.Outbox) bool {
			if len(extra) != 1 {
				return false
			}
			release, err := messaging.ReleaseReservationFromJSON(extra[0].Payload)
			return err == nil && release.OrderID == order.ID
		}),
		"",
	).Return(nil)

	err := coord.CancelOnTimeout(context.Background(), order.ID)

	require.NoError(t, err)
	sagaRepo.AssertExpectations(t)
}

func TestCoordinator_CancelOnTimeout_AdvancedSagaNotCancelled(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	// Гонка sweep-а с ответом: сага попала в выборку просроченной на шаге
	// проверки покупателя, но до CancelOnTimeout успел прийти CustomerChecked —
	// сага продвинулась и получила свежий дедлайн. Отмены быть не должно.
	advanced := testSaga("order-123", StateAwaitingInventoryReservation)
	advanced.Deadline = time.Now().Add(testStepTimeout)

	sagaRepo.On("GetByOrderID", mock.Anything, "order-123").Return(advanced, nil)

	err := coord.CancelOnTimeout(context.Background(), "order-123")

	require.NoError(t, err)
	assert.Equal(t, StateAwaitingInventoryReservation, advanced.State)
	sagaRepo.AssertNotCalled(t, "UpdateWithOrder",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	orderRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestCoordinator_CancelOnTimeout_TerminalIsNoOp(t *testing.T) {
	sagaRepo := new(mockRepository)
	orderRepo := new(mockOrderRepository)
	coord := newTestCoordinator(sagaRepo, orderRepo)

	sagaRepo.On("GetByOrderID", mock.Anything, "order-123").
		Return(testSaga("order-123", StateConfirmed), nil)

	err := coord.CancelOnTimeout(context.Background(), "order-123")

	require.NoError(t, err)
	sagaRepo.AssertNotCalled(t, "UpdateWithOrder",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
