// Package service содержит бизнес-логику Users Service.
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
	"example.com/fulfillment-system/services/users/internal/domain"
	"example.com/fulfillment-system/services/users/internal/repository"
)

// aggregateTypeCustomer — значение aggregate_type для записей outbox покупателя.
const aggregateTypeCustomer = "customer"

// VerificationService проверяет покупателя по команде саги и формирует ответ.
// Несуществующий или неактивный покупатель — бизнес-исход (ok=false),
// а не ошибка: ответ уходит саге, она отменяет заказ.
type VerificationService interface {
	// HandleCheckCustomer обрабатывает команду CheckCustomer.
	HandleCheckCustomer(ctx context.Context, cmd *messaging.CheckCustomer) error
}

// verificationService — реализация VerificationService.
type verificationService struct {
	customers repository.CustomerRepository
	replies   repository.ReplyStore
}

// NewVerificationService создаёт новый сервис проверки покупателей.
func NewVerificationService(customers repository.CustomerRepository, replies repository.ReplyStore) VerificationService {
	return &verificationService{
		customers: customers,
		replies:   replies,
	}
}

// HandleCheckCustomer проверяет покупателя и атомарно записывает ответ в outbox.
func (s *verificationService) HandleCheckCustomer(ctx context.Context, cmd *messaging.CheckCustomer) error {
	log := logger.FromContext(ctx)

	ok, reason, err := s.verify(ctx, cmd.CustomerID)
	if err != nil {
		return fmt.Errorf("проверка покупателя %s: %w", cmd.CustomerID, err)
	}

	reply := &messaging.CustomerChecked{
		Envelope: messaging.NewEnvelope(messaging.TypeCustomerChecked, cmd.OrderID),
		OrderID:  cmd.OrderID,
		OK:       ok,
		Reason:   reason,
	}

	record, err := buildReplyRecord(ctx, cmd.OrderID, reply)
	if err != nil {
		return err
	}

	if err := s.replies.SaveReply(ctx, cmd.MessageID, record); err != nil {
		if errors.Is(err, inbox.ErrDuplicateMessage) {
			log.Info().
				Str("message_id", cmd.MessageID).
				Str("order_id", cmd.OrderID).
				Msg("Повторная команда CheckCustomer, ответ уже записан")
			metrics.ConsumerDuplicatesTotal.WithLabelValues("users-verification").Inc()
			return nil
		}
		return fmt.Errorf("сохранение ответа CustomerChecked: %w", err)
	}

	log.Info().
		Str("order_id", cmd.OrderID).
		Str("customer_id", cmd.CustomerID).
		Bool("ok", ok).
		Str("reason", reason).
		Msg("Покупатель проверен, ответ записан в outbox")

	return nil
}

// verify возвращает исход проверки покупателя.
// Инфраструктурные ошибки БД возвращаются как err и ретраятся consumer-ом.
func (s *verificationService) verify(ctx context.Context, customerID string) (ok bool, reason string, err error) {
	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return false, messaging.ReasonCustomerNotFound, nil
		}
		return false, "", err
	}

	if !customer.CanOrder() {
		// Заблокированный аккаунт для саги неотличим от отсутствующего
		return false, messaging.ReasonCustomerNotFound, nil
	}

	return true, "", nil
}

// buildReplyRecord собирает запись outbox с заголовками трассировки.
func buildReplyRecord(ctx context.Context, orderID string, reply *messaging.CustomerChecked) (*outbox.Outbox, error) {
	payload, err := messaging.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("сериализация CustomerChecked: %w", err)
	}

	headers := map[string]string{
		kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
	}

	return outbox.New(aggregateTypeCustomer, orderID, string(messaging.TypeCustomerChecked),
		kafka.TopicSagaReplies, payload, headers), nil
}
