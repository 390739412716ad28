package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/services/order/internal/domain"
)

// =============================================================================
// Моки
// =============================================================================

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

// =============================================================================
// Тестовые данные
// =============================================================================

func validItems() []domain.OrderItem {
	return []domain.OrderItem{
		{
			ProductID:   "product-1",
			ProductName: "Ноутбук",
			Quantity:    1,
			UnitPrice:   domain.Money{Currency: "RUB", Amount: 150000_00},
		},
	}
}

func existingOrder(idempotencyKey string) *domain.Order {
	order, err := domain.NewOrder("customer-1", validItems(), idempotencyKey)
	if err != nil {
		panic(err)
	}
	order.Clear()
	return order
}

// =============================================================================
// Checkout
// =============================================================================

func TestOrderService_Checkout_Success(t *testing.T) {
	repo := new(mockOrderRepository)
	coord := new(mockCoordinator)
	svc := NewOrderService(repo, coord)

	repo.On("GetByIdempotencyKey", mock.Anything, "key-1").
		Return(nil, domain.ErrOrderNotFound)
	coord.On("CreateOrderWithSaga", mock.Anything, mock.MatchedBy(func(o *domain.Order) bool {
		return o.CustomerID == "customer-1" &&
			o.Status == domain.OrderStatusPending &&
			o.TotalAmount.Amount == 150000_00 &&
			o.IdempotencyKey == "key-1"
	})).Return(nil)

	order, err := svc.Checkout(context.Background(), "customer-1", "key-1", validItems())

	require.NoError(t, err)
	require.NotNil(t, order)
	assert.NotEmpty(t, order.ID)
	coord.AssertExpectations(t)
}

func TestOrderService_Checkout_IdempotentReplay(t *testing.T) {
	repo := new(mockOrderRepository)
	coord := new(mockCoordinator)
	svc := NewOrderService(repo, coord)

	existing := existingOrder("key-1")
	repo.On("GetByIdempotencyKey", mock.Anything, "key-1").Return(existing, nil)

	order, err := svc.Checkout(context.Background(), "customer-1", "key-1", validItems())

	// Повтор возвращает существующий заказ без новой саги
	require.NoError(t, err)
	assert.Equal(t, existing.ID, order.ID)
	coord.AssertNotCalled(t, "CreateOrderWithSaga", mock.Anything, mock.Anything)
}

func TestOrderService_Checkout_ConcurrentDuplicateResolved(t *testing.T) {
	// Два одновременных checkout-а с одним ключом: проверка до транзакции
	// никого не нашла, вставка второго упала на уникальном ключе
	repo := new(mockOrderRepository)
	coord := new(mockCoordinator)
	svc := NewOrderService(repo, coord)

	existing := existingOrder("key-1")
	repo.On("GetByIdempotencyKey", mock.Anything, "key-1").
		Return(nil, domain.ErrOrderNotFound).Once()
	coord.On("CreateOrderWithSaga", mock.Anything, mock.Anything).
		Return(domain.ErrDuplicateOrder)
	repo.On("GetByIdempotencyKey", mock.Anything, "key-1").
		Return(existing, nil).Once()

	order, err := svc.Checkout(context.Background(), "customer-1", "key-1", validItems())

	require.NoError(t, err)
	assert.Equal(t, existing.ID, order.ID)
}

func TestOrderService_Checkout_WithoutKeyAlwaysCreates(t *testing.T) {
	repo := new(mockOrderRepository)
	coord := new(mockCoordinator)
	svc := NewOrderService(repo, coord)

	coord.On("CreateOrderWithSaga", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Checkout(context.Background(), "customer-1", "", validItems())

	require.NoError(t, err)
	repo.AssertNotCalled(t, "GetByIdempotencyKey", mock.Anything, mock.Anything)
}

func TestOrderService_Checkout_ValidationError(t *testing.T) {
	repo := new(mockOrderRepository)
	coord := new(mockCoordinator)
	svc := NewOrderService(repo, coord)

	_, err := svc.Checkout(context.Background(), "customer-1", "", nil)

	assert.ErrorIs(t, err, domain.ErrEmptyOrderItems)
	coord.AssertNotCalled(t, "CreateOrderWithSaga", mock.Anything, mock.Anything)
}

func TestOrderService_Checkout_CoordinatorError(t *testing.T) {
	repo := new(mockOrderRepository)
	coord := new(mockCoordinator)
	svc := NewOrderService(repo, coord)

	coord.On("CreateOrderWithSaga", mock.Anything, mock.Anything).Return(assert.AnError)

	_, err := svc.Checkout(context.Background(), "customer-1", "", validItems())

	assert.ErrorIs(t, err, assert.AnError)
}

// =============================================================================
// GetOrder
// =============================================================================

func TestOrderService_GetOrder_Success(t *testing.T) {
	repo := new(mockOrderRepository)
	svc := NewOrderService(repo, new(mockCoordinator))

	existing := existingOrder("")
	repo.On("GetByID", mock.Anything, existing.ID).Return(existing, nil)

	order, err := svc.GetOrder(context.Background(), existing.ID)

	require.NoError(t, err)
	assert.Equal(t, existing.ID, order.ID)
}

func TestOrderService_GetOrder_NotFound(t *testing.T) {
	repo := new(mockOrderRepository)
	svc := NewOrderService(repo, new(mockCoordinator))

	repo.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrOrderNotFound)

	_, err := svc.GetOrder(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
