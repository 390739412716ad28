package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment-system/pkg/domainevent"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/services/order/internal/domain"
)

func event(kind domainevent.Kind, payload any) domainevent.Event {
	return domainevent.Event{
		ID:          "event-1",
		AggregateID: "order-123",
		Kind:        kind,
		OccurredAt:  time.Now(),
		Payload:     payload,
	}
}

func TestOutboxFromEvents_OrderCreated(t *testing.T) {
	events := []domainevent.Event{
		event(domain.EventOrderCreated, domain.OrderCreatedPayload{
			OrderID:    "order-123",
			CustomerID: "customer-1",
		}),
	}

	records, err := OutboxFromEvents(context.Background(), events)

	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, kafka.TopicCustomerCommands, record.Topic)
	assert.Equal(t, string(messaging.TypeCheckCustomer), record.EventType)
	assert.Equal(t, "order-123", record.AggregateID)
	assert.Equal(t, "order-123", record.MessageKey)

	cmd, err := messaging.CheckCustomerFromJSON(record.Payload)
	require.NoError(t, err)
	assert.Equal(t, "order-123", cmd.OrderID)
	assert.Equal(t, "customer-1", cmd.CustomerID)
	assert.Equal(t, "order-123", cmd.CorrelationID)
	assert.NotEmpty(t, cmd.MessageID)
}

func TestOutboxFromEvents_TerminalEvents(t *testing.T) {
	tests := []struct {
		name      string
		ev        domainevent.Event
		eventType string
	}{
		{
			name:      "order.confirmed",
			ev:        event(domain.EventOrderConfirmed, domain.OrderConfirmedPayload{OrderID: "order-123"}),
			eventType: string(messaging.TypeOrderConfirmed),
		},
		{
			name:      "order.cancelled",
			ev:        event(domain.EventOrderCancelled, domain.OrderCancelledPayload{OrderID: "order-123", Reason: "timeout"}),
			eventType: string(messaging.TypeOrderCancelled),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := OutboxFromEvents(context.Background(), []domainevent.Event{tt.ev})

			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, kafka.TopicOrderEvents, records[0].Topic)
			assert.Equal(t, tt.eventType, records[0].EventType)
		})
	}
}

func TestOutboxFromEvents_CancelledCarriesReason(t *testing.T) {
	events := []domainevent.Event{
		event(domain.EventOrderCancelled, domain.OrderCancelledPayload{
			OrderID: "order-123",
			Reason:  messaging.ReasonInsufficientStock,
		}),
	}

	records, err := OutboxFromEvents(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, records, 1)

	msg, err := messaging.OrderCancelledFromJSON(records[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, messaging.ReasonInsufficientStock, msg.Reason)
}

func TestOutboxFromEvents_LocalOnlyFiltered(t *testing.T) {
	events := []domainevent.Event{
		event(domain.EventOrderTotalCalculated, domain.OrderTotalCalculatedPayload{
			OrderID: "order-123",
			Amount:  1000,
		}),
	}

	records, err := OutboxFromEvents(context.Background(), events)

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOutboxFromEvents_UnknownKindFailsLoudly(t *testing.T) {
	events := []domainevent.Event{
		event(domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: "order-123", CustomerID: "c1"}),
		event("order.shipped", nil),
	}

	records, err := OutboxFromEvents(context.Background(), events)

	assert.ErrorIs(t, err, ErrUnknownEventKind)
	assert.Nil(t, records)
}

func TestOutboxFromEvents_WrongPayloadType(t *testing.T) {
	events := []domainevent.Event{
		event(domain.EventOrderCreated, "не тот payload"),
	}

	_, err := OutboxFromEvents(context.Background(), events)

	assert.Error(t, err)
}

func TestOutboxFromEvents_PreservesOrder(t *testing.T) {
	events := []domainevent.Event{
		event(domain.EventOrderCreated, domain.OrderCreatedPayload{OrderID: "order-123", CustomerID: "c1"}),
		event(domain.EventOrderTotalCalculated, domain.OrderTotalCalculatedPayload{OrderID: "order-123"}),
		event(domain.EventOrderCancelled, domain.OrderCancelledPayload{OrderID: "order-123", Reason: "timeout"}),
	}

	records, err := OutboxFromEvents(context.Background(), events)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, string(messaging.TypeCheckCustomer), records[0].EventType)
	assert.Equal(t, string(messaging.TypeOrderCancelled), records[1].EventType)
}
