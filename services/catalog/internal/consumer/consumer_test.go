package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/messaging"
)

// =============================================================================
// Моки
// =============================================================================

type mockInventoryService struct {
	mock.Mock
}

func (m *mockInventoryService) HandleReserveProducts(ctx context.Context, cmd *messaging.ReserveProducts) error {
	args := m.Called(ctx, cmd)
	return args.Error(0)
}

func (m *mockInventoryService) HandleReleaseReservation(ctx context.Context, cmd *messaging.ReleaseReservation) error {
	args := m.Called(ctx, cmd)
	return args.Error(0)
}

type mockKafkaConsumer struct {
	mock.Mock
}

func (m *mockKafkaConsumer) ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error {
	args := m.Called(ctx, handler, maxRetries)
	return args.Error(0)
}

func (m *mockKafkaConsumer) Close() error {
	args := m.Called()
	return args.Error(0)
}

func reserveMessage(t *testing.T, orderID string) (*kafka.Message, *messaging.ReserveProducts) {
	t.Helper()
	cmd := &messaging.ReserveProducts{
		Envelope: messaging.NewEnvelope(messaging.TypeReserveProducts, orderID),
		OrderID:  orderID,
		Items: []messaging.ReservationItem{
			{ProductID: "product-1", Quantity: 2},
		},
	}
	payload, err := messaging.Marshal(cmd)
	require.NoError(t, err)
	return &kafka.Message{
		Topic: kafka.TopicInventoryCommands,
		Key:   []byte(orderID),
		Value: payload,
	}, cmd
}

func releaseMessage(t *testing.T, orderID string) (*kafka.Message, *messaging.ReleaseReservation) {
	t.Helper()
	cmd := &messaging.ReleaseReservation{
		Envelope: messaging.NewEnvelope(messaging.TypeReleaseReservation, orderID),
		OrderID:  orderID,
	}
	payload, err := messaging.Marshal(cmd)
	require.NoError(t, err)
	return &kafka.Message{
		Topic: kafka.TopicInventoryCommands,
		Key:   []byte(orderID),
		Value: payload,
	}, cmd
}

// =============================================================================
// Тесты
// =============================================================================

func TestCommandConsumer_DispatchesReserveProducts(t *testing.T) {
	svc := new(mockInventoryService)
	c := NewCommandConsumer(new(mockKafkaConsumer), svc, nil)

	msg, cmd := reserveMessage(t, "order-123")
	svc.On("HandleReserveProducts", mock.Anything, mock.MatchedBy(func(got *messaging.ReserveProducts) bool {
		return got.OrderID == "order-123" &&
			len(got.Items) == 1 &&
			got.Items[0].ProductID == "product-1" &&
			got.MessageID == cmd.MessageID
	})).Return(nil)

	err := c.handleMessage(context.Background(), msg)

	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestCommandConsumer_DispatchesReleaseReservation(t *testing.T) {
	svc := new(mockInventoryService)
	c := NewCommandConsumer(new(mockKafkaConsumer), svc, nil)

	msg, cmd := releaseMessage(t, "order-123")
	svc.On("HandleReleaseReservation", mock.Anything, mock.MatchedBy(func(got *messaging.ReleaseReservation) bool {
		return got.OrderID == "order-123" && got.MessageID == cmd.MessageID
	})).Return(nil)

	err := c.handleMessage(context.Background(), msg)

	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestCommandConsumer_UnknownTypeFails(t *testing.T) {
	svc := new(mockInventoryService)
	c := NewCommandConsumer(new(mockKafkaConsumer), svc, nil)

	env := messaging.NewEnvelope(messaging.Type("saga.command.unknown"), "order-123")
	payload, err := messaging.Marshal(env)
	require.NoError(t, err)

	err = c.handleMessage(context.Background(), &kafka.Message{Value: payload})

	assert.Error(t, err)
	svc.AssertNotCalled(t, "HandleReserveProducts", mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "HandleReleaseReservation", mock.Anything, mock.Anything)
}

func TestCommandConsumer_MalformedEnvelopeFails(t *testing.T) {
	c := NewCommandConsumer(new(mockKafkaConsumer), new(mockInventoryService), nil)

	err := c.handleMessage(context.Background(), &kafka.Message{Value: []byte("не json")})

	assert.Error(t, err)
}

func TestCommandConsumer_ServiceErrorPropagates(t *testing.T) {
	svc := new(mockInventoryService)
	c := NewCommandConsumer(new(mockKafkaConsumer), svc, nil)

	msg, _ := reserveMessage(t, "order-123")
	svc.On("HandleReserveProducts", mock.Anything, mock.Anything).Return(assert.AnError)

	err := c.handleMessage(context.Background(), msg)

	assert.ErrorIs(t, err, assert.AnError)
}

func TestCommandConsumer_RunDelegatesToKafka(t *testing.T) {
	kc := new(mockKafkaConsumer)
	c := NewCommandConsumer(kc, new(mockInventoryService), nil)

	kc.On("ConsumeWithRetry", mock.Anything, mock.Anything, 3).Return(nil)
	kc.On("Close").Return(nil)

	require.NoError(t, c.Run(context.Background()))
	require.NoError(t, c.Close())
	kc.AssertExpectations(t)
}
