package saga

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/messaging"
	outboxpkg "example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/order/internal/domain"
)

// =============================================================================
// Моки для unit-тестов пакета saga
// =============================================================================

// mockRepository — мок Repository.
type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) GetByOrderID(ctx context.Context, orderID string) (*Saga, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Saga), args.Error(1)
}

func (m *mockRepository) CreateOrderWithSaga(ctx context.Context, order *domain.Order, s *Saga) error {
	args := m.Called(ctx, order, s)
	return args.Error(0)
}

func (m *mockRepository) UpdateWithOrder(ctx context.Context, s *Saga, order *domain.Order, extra []*outboxpkg.Outbox, messageID string) error {
	args := m.Called(ctx, s, order, extra, messageID)
	return args.Error(0)
}

func (m *mockRepository) GetExpired(ctx context.Context, now time.Time, limit int) ([]*Saga, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Saga), args.Error(1)
}

// mockOrderRepository — мок repository.OrderRepository.
type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

// mockCoordinator — мок Coordinator (для consumer и timeout worker).
type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) CreateOrderWithSaga(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockCoordinator) HandleCustomerChecked(ctx context.Context, reply *messaging.CustomerChecked) error {
	args := m.Called(ctx, reply)
	return args.Error(0)
}

func (m *mockCoordinator) HandleProductsReserved(ctx context.Context, reply *messaging.ProductsReserved) error {
	args := m.Called(ctx, reply)
	return args.Error(0)
}

func (m *mockCoordinator) CancelOnTimeout(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

// mockKafkaConsumer — мок KafkaConsumer.
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

// =============================================================================
// Фабрики тестовых данных
// =============================================================================

func testOrder() *domain.Order {
	order, err := domain.NewOrder("customer-1", []domain.OrderItem{
		{
			ProductID:   "product-1",
			ProductName: "Ноутбук",
			Quantity:    2,
			UnitPrice:   domain.Money{Currency: "RUB", Amount: 150000_00},
		},
	}, "")
	if err != nil {
		panic(err)
	}
	order.Clear() // Тесты координатора стартуют с чистым буфером
	return order
}

func testSaga(orderID string, state State) *Saga {
	s := New(orderID, time.Now().Add(5*time.Minute))
	s.State = state
	return s
}
