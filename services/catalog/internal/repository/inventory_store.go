// Package repository содержит реализацию доступа к данным для Catalog Service.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/messaging"
	"example.com/fulfillment-system/pkg/outbox"
)

// consumerName — значение колонки consumer в processed_messages.
const consumerName = "catalog-inventory"

// ProductModel — GORM модель для таблицы products.
type ProductModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Stock     int32     `gorm:"column:stock;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ProductModel) TableName() string {
	return "products"
}

// ReservationModel — GORM модель для таблицы reservations.
// Уникальный ключ (order_id, product_id) защищает от двойного резерва
// одной позиции при гонке дубликатов.
type ReservationModel struct {
	ID         string     `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID    string     `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex:uniq_reservation_order_product;index:idx_reservations_order"`
	ProductID  string     `gorm:"column:product_id;type:varchar(36);not null;uniqueIndex:uniq_reservation_order_product"`
	Quantity   int32      `gorm:"column:quantity;not null"`
	ReleasedAt *time.Time `gorm:"column:released_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ReservationModel) TableName() string {
	return "reservations"
}

// ReplyBuilder собирает запись outbox для ответа с известным исходом.
// Вызывается внутри транзакции, когда исход резервирования уже определён.
type ReplyBuilder func(ok bool, reason string) (*outbox.Outbox, error)

// InventoryStore — атомарные операции резервирования.
// Каждая операция — одна транзакция: processed_messages, изменение остатков
// и ответ в outbox коммитятся вместе или не коммитятся вовсе.
type InventoryStore interface {
	// Reserve резервирует товары заказа и записывает ответ ProductsReserved.
	// Нехватка остатка — бизнес-исход (ok=false), а не ошибка: транзакция
	// коммитится с ответом, но без изменения остатков.
	Reserve(ctx context.Context, messageID, orderID string, items []messaging.ReservationItem, buildReply ReplyBuilder) (ok bool, reason string, err error)

	// Release снимает резерв заказа и возвращает остатки.
	// Снятие несуществующего или уже снятого резерва — безопасный no-op.
	Release(ctx context.Context, messageID, orderID string) error
}

// inventoryStore — GORM реализация InventoryStore.
type inventoryStore struct {
	db         *gorm.DB
	inboxRepo  inbox.Repository
	outboxRepo outbox.OutboxRepository
}

// NewInventoryStore создаёт новое хранилище резервов.
func NewInventoryStore(db *gorm.DB, inboxRepo inbox.Repository, outboxRepo outbox.OutboxRepository) InventoryStore {
	return &inventoryStore{
		db:         db,
		inboxRepo:  inboxRepo,
		outboxRepo: outboxRepo,
	}
}

// Reserve выполняет транзакцию {inbox, блокировка остатков, резерв, reply}.
func (s *inventoryStore) Reserve(ctx context.Context, messageID, orderID string, items []messaging.ReservationItem, buildReply ReplyBuilder) (bool, string, error) {
	var ok bool
	var reason string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.inboxRepo.MarkProcessedTx(tx, messageID, consumerName); err != nil {
			return err
		}

		var txErr error
		ok, reason, txErr = s.reserveItems(tx, orderID, items)
		if txErr != nil {
			return txErr
		}

		record, txErr := buildReply(ok, reason)
		if txErr != nil {
			return txErr
		}

		if txErr := s.outboxRepo.CreateTx(tx, record); txErr != nil {
			return fmt.Errorf("запись ответа в outbox: %w", txErr)
		}

		return nil
	})
	if err != nil {
		return false, "", err
	}

	return ok, reason, nil
}

// reserveItems блокирует строки товаров и резервирует их под заказ.
// Возвращает бизнес-исход; инфраструктурные ошибки откатывают транзакцию.
func (s *inventoryStore) reserveItems(tx *gorm.DB, orderID string, items []messaging.ReservationItem) (bool, string, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	// SELECT ... FOR UPDATE: конкурентные резервы одного товара сериализуются
	var products []ProductModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Find(&products).Error
	if err != nil {
		return false, "", fmt.Errorf("блокировка товаров: %w", err)
	}

	stock := make(map[string]int32, len(products))
	for _, p := range products {
		stock[p.ID] = p.Stock
	}

	// Проверяем ВСЕ позиции до первого изменения: частичный резерв недопустим
	for _, item := range items {
		available, found := stock[item.ProductID]
		if !found || available < item.Quantity {
			return false, messaging.ReasonInsufficientStock, nil
		}
	}

	now := time.Now()
	for _, item := range items {
		result := tx.Model(&ProductModel{}).
			Where("id = ?", item.ProductID).
			Updates(map[string]any{
				"stock":      gorm.Expr("stock - ?", item.Quantity),
				"updated_at": now,
			})
		if result.Error != nil {
			return false, "", fmt.Errorf("списание остатка %s: %w", item.ProductID, result.Error)
		}

		reservation := &ReservationModel{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			CreatedAt: now,
		}
		if err := tx.Create(reservation).Error; err != nil {
			return false, "", fmt.Errorf("создание резерва %s: %w", item.ProductID, err)
		}
	}

	return true, "", nil
}

// Release выполняет транзакцию {inbox, возврат остатков, снятие резерва}.
func (s *inventoryStore) Release(ctx context.Context, messageID, orderID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.inboxRepo.MarkProcessedTx(tx, messageID, consumerName); err != nil {
			return err
		}

		// Блокируем активные резервы заказа
		var reservations []ReservationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ? AND released_at IS NULL", orderID).
			Find(&reservations).Error
		if err != nil {
			return fmt.Errorf("поиск резервов заказа %s: %w", orderID, err)
		}

		// Резервов нет — компенсация без эффектов, отметка об обработке коммитится
		if len(reservations) == 0 {
			return nil
		}

		now := time.Now()
		for _, r := range reservations {
			result := tx.Model(&ProductModel{}).
				Where("id = ?", r.ProductID).
				Updates(map[string]any{
					"stock":      gorm.Expr("stock + ?", r.Quantity),
					"updated_at": now,
				})
			if result.Error != nil {
				return fmt.Errorf("возврат остатка %s: %w", r.ProductID, result.Error)
			}
		}

		result := tx.Model(&ReservationModel{}).
			Where("order_id = ? AND released_at IS NULL", orderID).
			Update("released_at", now)
		if result.Error != nil {
			return fmt.Errorf("снятие резервов заказа %s: %w", orderID, result.Error)
		}

		return nil
	})
}
