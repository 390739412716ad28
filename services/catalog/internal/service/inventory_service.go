// Package service содержит бизнес-логику Catalog Service.
package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/catalog/internal/repository"
)

// aggregateTypeReservation — значение aggregate_type для записей outbox резерва.
const aggregateTypeReservation = "reservation"

// consumerLabel — метка consumer-а в метриках дубликатов.
const consumerLabel = "catalog-inventory"

// InventoryService обрабатывает команды саги по резервированию товаров.
// Нехватка остатка — бизнес-исход (ok=false), а не ошибка: ответ уходит
// саге, она отменяет заказ и присылает компенсацию.
type InventoryService interface {
	// HandleReserveProducts обрабатывает команду ReserveProducts.
	HandleReserveProducts(ctx context.Context, cmd *messaging.ReserveProducts) error

	// HandleReleaseReservation обрабатывает компенсацию ReleaseReservation.
	HandleReleaseReservation(ctx context.Context, cmd *messaging.ReleaseReservation) error
}

// inventoryService — реализация InventoryService.
type inventoryService struct {
	store repository.InventoryStore
}

// NewInventoryService создаёт новый сервис резервирования.
func NewInventoryService(store repository.InventoryStore) InventoryService {
	return &inventoryService{store: store}
}

// HandleReserveProducts резервирует товары и атомарно записывает ответ в outbox.
func (s *inventoryService) HandleReserveProducts(ctx context.Context, cmd *messaging.ReserveProducts) error {
	log := logger.FromContext(ctx)

	buildReply := func(ok bool, reason string) (*outbox.Outbox, error) {
		reply := &messaging.ProductsReserved{
			Envelope: messaging.NewEnvelope(messaging.TypeProductsReserved, cmd.OrderID),
			OrderID:  cmd.OrderID,
			OK:       ok,
			Reason:   reason,
		}
		return buildReplyRecord(ctx, cmd.OrderID, reply)
	}

	ok, reason, err := s.store.Reserve(ctx, cmd.MessageID, cmd.OrderID, cmd.Items, buildReply)
	if err != nil {
		if errors.Is(err, inbox.ErrDuplicateMessage) {
			log.Info().
				Str("message_id", cmd.MessageID).
				Str("order_id", cmd.OrderID).
				Msg("Повторная команда ReserveProducts, ответ уже записан")
			metrics.ConsumerDuplicatesTotal.WithLabelValues(consumerLabel).Inc()
			return nil
		}
		return fmt.Errorf("резервирование товаров заказа %s: %w", cmd.OrderID, err)
	}

	log.Info().
		Str("order_id", cmd.OrderID).
		Int("items", len(cmd.Items)).
		Bool("ok", ok).
		Str("reason", reason).
		Msg("Команда ReserveProducts обработана, ответ записан в outbox")

	return nil
}

// HandleReleaseReservation снимает резерв заказа и возвращает остатки.
// Ответа саге у компенсации нет: заказ к этому моменту уже отменён.
func (s *inventoryService) HandleReleaseReservation(ctx context.Context, cmd *messaging.ReleaseReservation) error {
	log := logger.FromContext(ctx)

	if err := s.store.Release(ctx, cmd.MessageID, cmd.OrderID); err != nil {
		if errors.Is(err, inbox.ErrDuplicateMessage) {
			log.Info().
				Str("message_id", cmd.MessageID).
				Str("order_id", cmd.OrderID).
				Msg("Повторная компенсация ReleaseReservation")
			metrics.ConsumerDuplicatesTotal.WithLabelValues(consumerLabel).Inc()
			return nil
		}
		return fmt.Errorf("снятие резерва заказа %s: %w", cmd.OrderID, err)
	}

	log.Info().
		Str("order_id", cmd.OrderID).
		Msg("Резерв заказа снят, остатки возвращены")

	return nil
}

// buildReplyRecord собирает запись outbox с заголовками трассировки.
func buildReplyRecord(ctx context.Context, orderID string, reply *messaging.ProductsReserved) (*outbox.Outbox, error) {
	payload, err := messaging.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("сериализация ProductsReserved: %w", err)
	}

	headers := map[string]string{
		kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
	}

	return outbox.New(aggregateTypeReservation, orderID, string(messaging.TypeProductsReserved),
		kafka.TopicSagaReplies, payload, headers), nil
}
