// Package service содержит бизнес-логику Order Service.
package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/services/order/internal/domain"
	"example.com/fulfillment-system/services/order/internal/repository"
	"example.com/fulfillment-system/services/order/internal/saga"
)

// OrderService определяет интерфейс бизнес-логики заказов.
type OrderService interface {
	// Checkout создаёт заказ и запускает сагу оформления.
	// Повторный вызов с тем же idempotencyKey возвращает уже созданный заказ.
	Checkout(ctx context.Context, customerID, idempotencyKey string, items []domain.OrderItem) (*domain.Order, error)

	// GetOrder возвращает заказ по ID.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

// orderService — реализация OrderService.
type orderService struct {
	repo        repository.OrderRepository
	coordinator saga.Coordinator
}

// NewOrderService создаёт новый сервис заказов.
func NewOrderService(repo repository.OrderRepository, coordinator saga.Coordinator) OrderService {
	return &orderService{
		repo:        repo,
		coordinator: coordinator,
	}
}

// Checkout создаёт заказ вместе с сагой и outbox-командами в одной транзакции.
func (s *orderService) Checkout(ctx context.Context, customerID, idempotencyKey string, items []domain.OrderItem) (*domain.Order, error) {
	log := logger.FromContext(ctx)

	// Быстрая проверка идемпотентности до создания заказа
	if idempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			log.Info().
				Str("order_id", existing.ID).
				Str("idempotency_key", idempotencyKey).
				Msg("Возвращён существующий заказ по ключу идемпотентности")
			return existing, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			log.Error().Err(err).Str("idempotency_key", idempotencyKey).Msg("Ошибка проверки идемпотентности")
			return nil, fmt.Errorf("ошибка проверки идемпотентности: %w", err)
		}
	}

	order, err := domain.NewOrder(customerID, items, idempotencyKey)
	if err != nil {
		log.Warn().
			Err(err).
			Str("customer_id", customerID).
			Msg("Ошибка валидации заказа")
		return nil, err
	}

	if err := s.coordinator.CreateOrderWithSaga(ctx, order); err != nil {
		// Гонка двух одинаковых checkout-ов: уникальный ключ idempotency_key
		// пропустил только одного, второму возвращаем созданный заказ
		if errors.Is(err, domain.ErrDuplicateOrder) && idempotencyKey != "" {
			existing, getErr := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
			if getErr == nil {
				log.Info().
					Str("order_id", existing.ID).
					Str("idempotency_key", idempotencyKey).
					Msg("Конкурентный повтор checkout, возвращён существующий заказ")
				return existing, nil
			}
		}
		log.Error().
			Err(err).
			Str("customer_id", customerID).
			Str("idempotency_key", idempotencyKey).
			Msg("Ошибка создания заказа с сагой")
		return nil, fmt.Errorf("ошибка создания заказа: %w", err)
	}

	log.Info().
		Str("order_id", order.ID).
		Str("customer_id", customerID).
		Int64("total_amount", order.TotalAmount.Amount).
		Str("currency", order.TotalAmount.Currency).
		Int("items_count", len(order.Items)).
		Msg("Заказ создан, сага оформления запущена")

	return order, nil
}

// GetOrder возвращает заказ по ID.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	log := logger.FromContext(ctx)

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			log.Debug().
				Str("order_id", orderID).
				Msg("Заказ не найден")
			return nil, err
		}
		log.Error().
			Err(err).
			Str("order_id", orderID).
			Msg("Ошибка получения заказа")
		return nil, fmt.Errorf("ошибка получения заказа: %w", err)
	}

	return order, nil
}
