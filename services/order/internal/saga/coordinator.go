package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/pkg/metrics"
	outboxpkg "example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/order/internal/domain"
	"example.com/fulfillment-system/services/order/internal/repository"
)

// =============================================================================
// Coordinator — координатор саги оформления заказа
// =============================================================================

// maxConflictRetries ограничивает количество повторов при конфликте версий.
// Конфликт означает гонку с другим процессом (timeout worker или второй
// экземпляр consumer-а); после перечитывания саги исход почти всегда no-op.
const maxConflictRetries = 3

// Coordinator управляет распределённой транзакцией оформления заказа:
// 1. Создаёт заказ и сагу, отправляет CheckCustomer (через outbox)
// 2. По ответу Users Service отправляет ReserveProducts или отменяет заказ
// 3. По ответу Catalog Service подтверждает заказ или отменяет с компенсацией
type Coordinator interface {
	// CreateOrderWithSaga атомарно создаёт заказ, сагу и команду CheckCustomer.
	// Если любая часть падает — откатывается всё, клиент может повторить.
	CreateOrderWithSaga(ctx context.Context, order *domain.Order) error

	// HandleCustomerChecked обрабатывает ответ Users Service.
	// messageID фиксируется в processed_messages той же транзакцией.
	HandleCustomerChecked(ctx context.Context, reply *messaging.CustomerChecked) error

	// HandleProductsReserved обрабатывает ответ Catalog Service.
	HandleProductsReserved(ctx context.Context, reply *messaging.ProductsReserved) error

	// CancelOnTimeout отменяет сагу с истёкшим дедлайном, с компенсацией
	// резерва, если сага успела дойти до шага резервирования.
	CancelOnTimeout(ctx context.Context, orderID string) error
}

// coordinator — реализация Coordinator.
type coordinator struct {
	sagaRepo    Repository
	orderRepo   repository.OrderRepository
	stepTimeout time.Duration
}

// NewCoordinator создаёт новый координатор саг.
// stepTimeout — время ожидания ответа на каждом шаге саги.
func NewCoordinator(sagaRepo Repository, orderRepo repository.OrderRepository, stepTimeout time.Duration) Coordinator {
	return &coordinator{
		sagaRepo:    sagaRepo,
		orderRepo:   orderRepo,
		stepTimeout: stepTimeout,
	}
}

// CreateOrderWithSaga атомарно создаёт заказ, сагу и команду CheckCustomer.
// Команда рождается из доменного события order.created при коммите.
func (c *coordinator) CreateOrderWithSaga(ctx context.Context, order *domain.Order) error {
	log := logger.FromContext(ctx)

	s := New(order.ID, time.Now().Add(c.stepTimeout))

	if err := c.sagaRepo.CreateOrderWithSaga(ctx, order, s); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка атомарного создания заказа с сагой")
		return fmt.Errorf("ошибка создания заказа: %w", err)
	}

	log.Info().
		Str("saga_id", s.ID).
		Str("order_id", order.ID).
		Int64("amount", order.TotalAmount.Amount).
		Str("currency", order.TotalAmount.Currency).
		Msg("Заказ и сага созданы, команда CheckCustomer в outbox")

	return nil
}

// HandleCustomerChecked обрабатывает ответ Users Service.
func (c *coordinator) HandleCustomerChecked(ctx context.Context, reply *messaging.CustomerChecked) error {
	return c.withConflictRetry(ctx, reply.OrderID, reply.MessageID, func(ctx context.Context, s *Saga) error {
		log := logger.FromContext(ctx)

		// Терминальная сага поглощает любой ответ; ответ не с того шага
		// (out-of-order или повтор) тоже игнорируется.
		if s.State != StateAwaitingCustomerCheck {
			log.Warn().
				Str("saga_id", s.ID).
				Str("order_id", s.OrderID).
				Str("state", string(s.State)).
				Msg("Ответ CustomerChecked не в ожидаемом состоянии, пропускаем")
			return nil
		}

		order, err := c.orderRepo.GetByID(ctx, s.OrderID)
		if err != nil {
			return fmt.Errorf("ошибка получения заказа: %w", err)
		}

		if reply.OK {
			return c.advanceToReservation(ctx, s, order, reply.MessageID)
		}

		reason := reply.Reason
		if reason == "" {
			reason = messaging.ReasonCustomerNotFound
		}
		return c.cancel(ctx, s, order, reason, reply.MessageID, false)
	})
}

// HandleProductsReserved обрабатывает ответ Catalog Service.
func (c *coordinator) HandleProductsReserved(ctx context.Context, reply *messaging.ProductsReserved) error {
	return c.withConflictRetry(ctx, reply.OrderID, reply.MessageID, func(ctx context.Context, s *Saga) error {
		log := logger.FromContext(ctx)

		if s.State != StateAwaitingInventoryReservation {
			log.Warn().
				Str("saga_id", s.ID).
				Str("order_id", s.OrderID).
				Str("state", string(s.State)).
				Msg("Ответ ProductsReserved не в ожидаемом состоянии, пропускаем")
			return nil
		}

		order, err := c.orderRepo.GetByID(ctx, s.OrderID)
		if err != nil {
			return fmt.Errorf("ошибка получения заказа: %w", err)
		}

		if reply.OK {
			return c.confirm(ctx, s, order, reply.MessageID)
		}

		reason := reply.Reason
		if reason == "" {
			reason = messaging.ReasonInsufficientStock
		}
		// Провал резервирования: Catalog ничего не держит, но компенсация
		// отправляется всё равно — ReleaseReservation обязан быть no-op.
		return c.cancel(ctx, s, order, reason, reply.MessageID, true)
	})
}

// CancelOnTimeout отменяет просроченную сагу.
func (c *coordinator) CancelOnTimeout(ctx context.Context, orderID string) error {
	return c.withConflictRetry(ctx, orderID, "", func(ctx context.Context, s *Saga) error {
		log := logger.FromContext(ctx)

		if s.State.IsTerminal() {
			log.Info().
				Str("saga_id", s.ID).
				Str("order_id", s.OrderID).
				Msg("Сага уже завершена, таймаут не применяется")
			return nil
		}

		// Между выборкой sweep-а и этим чтением мог успеть ответ:
		// сага продвинулась и получила новый дедлайн. Отменять её нельзя.
		if !s.Expired(time.Now()) {
			log.Info().
				Str("saga_id", s.ID).
				Str("order_id", s.OrderID).
				Str("state", string(s.State)).
				Time("deadline", s.Deadline).
				Msg("Сага продвинулась после выборки sweep-а, дедлайн не истёк")
			return nil
		}

		order, err := c.orderRepo.GetByID(ctx, s.OrderID)
		if err != nil {
			return fmt.Errorf("ошибка получения заказа: %w", err)
		}

		// Компенсация резерва нужна, только если сага дошла до шага резервирования
		withRelease := s.State == StateAwaitingInventoryReservation
		return c.cancel(ctx, s, order, messaging.ReasonTimeout, "", withRelease)
	})
}

// =============================================================================
// Шаги саги
// =============================================================================

// advanceToReservation переводит сагу к резервированию и кладёт
// команду ReserveProducts в outbox той же транзакцией.
func (c *coordinator) advanceToReservation(ctx context.Context, s *Saga, order *domain.Order, messageID string) error {
	log := logger.FromContext(ctx)

	if err := s.AdvanceToReservation(time.Now().Add(c.stepTimeout)); err != nil {
		return fmt.Errorf("ошибка перехода состояния: %w", err)
	}

	reserve, err := buildReserveProducts(ctx, order)
	if err != nil {
		return err
	}

	if err := c.sagaRepo.UpdateWithOrder(ctx, s, order, []*outboxpkg.Outbox{reserve}, messageID); err != nil {
		return err
	}

	log.Info().
		Str("saga_id", s.ID).
		Str("order_id", s.OrderID).
		Msg("Покупатель проверен, команда ReserveProducts в outbox")

	return nil
}

// confirm завершает сагу успешно: заказ CONFIRMED, событие OrderConfirmed
// уходит через буфер доменных событий.
func (c *coordinator) confirm(ctx context.Context, s *Saga, order *domain.Order, messageID string) error {
	log := logger.FromContext(ctx)

	if err := s.Confirm(); err != nil {
		return fmt.Errorf("ошибка перехода состояния: %w", err)
	}
	if err := order.Confirm(); err != nil {
		return fmt.Errorf("ошибка подтверждения заказа: %w", err)
	}

	if err := c.sagaRepo.UpdateWithOrder(ctx, s, order, nil, messageID); err != nil {
		return err
	}

	metrics.SagaCompletedTotal.WithLabelValues(string(StateConfirmed), "").Inc()

	log.Info().
		Str("saga_id", s.ID).
		Str("order_id", s.OrderID).
		Msg("Сага завершена успешно, заказ подтверждён")

	return nil
}

// cancel отменяет сагу и заказ; withRelease добавляет компенсирующую
// команду ReleaseReservation в ту же транзакцию.
func (c *coordinator) cancel(ctx context.Context, s *Saga, order *domain.Order, reason, messageID string, withRelease bool) error {
	log := logger.FromContext(ctx)

	if err := s.Cancel(reason); err != nil {
		return fmt.Errorf("ошибка перехода состояния: %w", err)
	}
	if err := order.Cancel(reason); err != nil {
		return fmt.Errorf("ошибка отмены заказа: %w", err)
	}

	var extra []*outboxpkg.Outbox
	if withRelease {
		release, err := buildReleaseReservation(ctx, order.ID)
		if err != nil {
			return err
		}
		extra = append(extra, release)
	}

	if err := c.sagaRepo.UpdateWithOrder(ctx, s, order, extra, messageID); err != nil {
		return err
	}

	metrics.SagaCompletedTotal.WithLabelValues(string(StateCancelled), reason).Inc()

	log.Warn().
		Str("saga_id", s.ID).
		Str("order_id", s.OrderID).
		Str("reason", reason).
		Bool("release_sent", withRelease).
		Msg("Сага отменена, заказ отменён")

	return nil
}

// =============================================================================
// Retry при конфликте версий
// =============================================================================

// withConflictRetry перечитывает сагу и выполняет fn, повторяя при
// ErrSagaConcurrentUpdate до maxConflictRetries раз.
// inbox.ErrDuplicateMessage означает повторную доставку уже обработанного
// сообщения — подтверждаем без эффектов.
func (c *coordinator) withConflictRetry(ctx context.Context, orderID, messageID string, fn func(ctx context.Context, s *Saga) error) error {
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		s, err := c.sagaRepo.GetByOrderID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("сага не найдена для заказа %s: %w", orderID, err)
		}

		err = fn(ctx, s)
		if err == nil {
			return nil
		}

		if errors.Is(err, inbox.ErrDuplicateMessage) {
			log.Info().
				Str("order_id", orderID).
				Str("message_id", messageID).
				Msg("Повторная доставка уже обработанного сообщения, пропускаем")
			metrics.ConsumerDuplicatesTotal.WithLabelValues(inboxConsumerName).Inc()
			return nil
		}

		if !errors.Is(err, ErrSagaConcurrentUpdate) {
			return err
		}

		lastErr = err
		log.Warn().
			Str("order_id", orderID).
			Int("attempt", attempt+1).
			Msg("Конфликт версий саги, перечитываем и повторяем")
	}

	return fmt.Errorf("конфликт версий саги не разрешён за %d попыток: %w", maxConflictRetries, lastErr)
}

// =============================================================================
// Команды координатора → outbox
// =============================================================================

// buildReserveProducts собирает outbox запись с командой ReserveProducts.
func buildReserveProducts(ctx context.Context, order *domain.Order) (*outboxpkg.Outbox, error) {
	items := make([]messaging.ReservationItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = messaging.ReservationItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
	}

	msg := &messaging.ReserveProducts{
		Envelope: messaging.NewEnvelope(messaging.TypeReserveProducts, order.ID),
		OrderID:  order.ID,
		Items:    items,
	}

	return buildCommandOutbox(ctx, order.ID, string(messaging.TypeReserveProducts), msg)
}

// buildReleaseReservation собирает outbox запись с компенсирующей командой.
func buildReleaseReservation(ctx context.Context, orderID string) (*outboxpkg.Outbox, error) {
	msg := &messaging.ReleaseReservation{
		Envelope: messaging.NewEnvelope(messaging.TypeReleaseReservation, orderID),
		OrderID:  orderID,
	}

	return buildCommandOutbox(ctx, orderID, string(messaging.TypeReleaseReservation), msg)
}

// buildCommandOutbox собирает outbox запись команды координатора
// с заголовками трассировки.
func buildCommandOutbox(ctx context.Context, orderID, eventType string, msg any) (*outboxpkg.Outbox, error) {
	payload, err := messaging.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("сериализация команды %s: %w", eventType, err)
	}

	headers := map[string]string{
		kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
	}

	return outboxpkg.New("order", orderID, eventType, kafka.TopicInventoryCommands, payload, headers), nil
}
