package repository

import (
	"context"
	"fmt"

	"example.com/fulfillment-system/pkg/domainevent"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/order/internal/domain"
)

// ErrUnknownEventKind возвращается при попытке закоммитить доменное событие,
// не описанное в маппинге. Транзакция откатывается целиком: молчаливая
// потеря события хуже громкого отказа.
var ErrUnknownEventKind = fmt.Errorf("неизвестный вид доменного события")

// aggregateTypeOrder — значение aggregate_type для записей outbox заказа.
const aggregateTypeOrder = "order"

// OutboxFromEvents транслирует буфер доменных событий заказа в записи outbox.
// Маппинг закрытый: каждый вид события либо даёт запись outbox, либо явно
// помечен как внутренний (order.total_calculated). Всё остальное — ошибка.
func OutboxFromEvents(ctx context.Context, events []domainevent.Event) ([]*outbox.Outbox, error) {
	records := make([]*outbox.Outbox, 0, len(events))

	for _, ev := range events {
		record, err := outboxFromEvent(ctx, ev)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// Внутреннее событие, наружу не публикуется
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// outboxFromEvent транслирует одно доменное событие.
// Возвращает (nil, nil) для внутренних событий.
func outboxFromEvent(ctx context.Context, ev domainevent.Event) (*outbox.Outbox, error) {
	switch ev.Kind {
	case domain.EventOrderCreated:
		payload, ok := ev.Payload.(domain.OrderCreatedPayload)
		if !ok {
			return nil, fmt.Errorf("событие %s: неожиданный тип payload %T", ev.Kind, ev.Payload)
		}
		msg := &messaging.CheckCustomer{
			Envelope:   messaging.NewEnvelope(messaging.TypeCheckCustomer, payload.OrderID),
			OrderID:    payload.OrderID,
			CustomerID: payload.CustomerID,
		}
		return buildRecord(ctx, ev, string(messaging.TypeCheckCustomer), kafka.TopicCustomerCommands, msg)

	case domain.EventOrderConfirmed:
		payload, ok := ev.Payload.(domain.OrderConfirmedPayload)
		if !ok {
			return nil, fmt.Errorf("событие %s: неожиданный тип payload %T", ev.Kind, ev.Payload)
		}
		msg := &messaging.OrderConfirmed{
			Envelope: messaging.NewEnvelope(messaging.TypeOrderConfirmed, payload.OrderID),
			OrderID:  payload.OrderID,
		}
		return buildRecord(ctx, ev, string(messaging.TypeOrderConfirmed), kafka.TopicOrderEvents, msg)

	case domain.EventOrderCancelled:
		payload, ok := ev.Payload.(domain.OrderCancelledPayload)
		if !ok {
			return nil, fmt.Errorf("событие %s: неожиданный тип payload %T", ev.Kind, ev.Payload)
		}
		msg := &messaging.OrderCancelled{
			Envelope: messaging.NewEnvelope(messaging.TypeOrderCancelled, payload.OrderID),
			OrderID:  payload.OrderID,
			Reason:   payload.Reason,
		}
		return buildRecord(ctx, ev, string(messaging.TypeOrderCancelled), kafka.TopicOrderEvents, msg)

	case domain.EventOrderTotalCalculated:
		// Внутреннее событие заказа, в outbox не попадает
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventKind, ev.Kind)
	}
}

// buildRecord собирает запись outbox с заголовками трассировки.
func buildRecord(ctx context.Context, ev domainevent.Event, eventType, topic string, msg any) (*outbox.Outbox, error) {
	payload, err := messaging.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("сериализация события %s: %w", ev.Kind, err)
	}

	headers := map[string]string{
		kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
	}

	return outbox.New(aggregateTypeOrder, ev.AggregateID, eventType, topic, payload, headers), nil
}
