package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/fulfillment-system/services/order/internal/domain"
)

// newMockDB создаёт GORM поверх sqlmock.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

func testOrder(t *testing.T) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder("customer-1", []domain.OrderItem{
		{
			ProductID:   "product-1",
			ProductName: "Ноутбук Pro 14",
			Quantity:    1,
			UnitPrice:   domain.Money{Amount: 150000_00, Currency: "RUB"},
		},
	}, "idem-key-1")
	require.NoError(t, err)
	return order
}

func TestInsertOrderTx_InsertsOrderWithItems(t *testing.T) {
	db, mock := newMockDB(t)
	order := testOrder(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `orders`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `order_items`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := db.Transaction(func(tx *gorm.DB) error {
		return InsertOrderTx(tx, order)
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrderTx_DuplicateIdempotencyKey(t *testing.T) {
	db, mock := newMockDB(t)
	order := testOrder(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `orders`")).
		WillReturnError(errors.New("Error 1062: Duplicate entry 'idem-key-1'"))
	mock.ExpectRollback()

	err := db.Transaction(func(tx *gorm.DB) error {
		return InsertOrderTx(tx, order)
	})

	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderTx_UpdatesStatus(t *testing.T) {
	db, mock := newMockDB(t)
	order := testOrder(t)
	require.NoError(t, order.Confirm())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.Transaction(func(tx *gorm.DB) error {
		return UpdateOrderTx(tx, order)
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderTx_MissingOrder(t *testing.T) {
	db, mock := newMockDB(t)
	order := testOrder(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `orders` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := db.Transaction(func(tx *gorm.DB) error {
		return UpdateOrderTx(tx, order)
	})

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID_LoadsItems(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `orders`")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "customer_id", "status", "total_amount", "currency", "idempotency_key",
		}).AddRow("order-123", "customer-1", "PENDING", int64(150000_00), "RUB", "idem-key-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `order_items`")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "order_id", "product_id", "product_name", "quantity", "unit_price", "currency",
		}).AddRow("item-1", "order-123", "product-1", "Ноутбук Pro 14", int32(1), int64(150000_00), "RUB"))

	order, err := repo.GetByID(context.Background(), "order-123")

	require.NoError(t, err)
	assert.Equal(t, "order-123", order.ID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "idem-key-1", order.IdempotencyKey)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "product-1", order.Items[0].ProductID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `orders`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "ghost-order")

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByIdempotencyKey_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `orders`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByIdempotencyKey(context.Background(), "ghost-key")

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
