package saga

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/inbox"
	outboxpkg "example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/services/order/internal/domain"
	"example.com/fulfillment-system/services/order/internal/repository"
)

// =============================================================================
// Ошибки репозитория
// =============================================================================

var (
	// ErrSagaNotFound — сага с указанным идентификатором не существует.
	ErrSagaNotFound = errors.New("сага не найдена")

	// ErrSagaConcurrentUpdate — версия саги изменилась между чтением и записью.
	// Нормальная ситуация при гонке reply consumer и timeout worker:
	// вызывающий перечитывает сагу и повторяет попытку.
	ErrSagaConcurrentUpdate = errors.New("сага обновлена другим процессом")
)

// =============================================================================
// GORM модель
// =============================================================================

// SagaModel — GORM модель для таблицы sagas.
type SagaModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID   string    `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	State     string    `gorm:"column:state;type:varchar(40);not null;index"`
	Reason    *string   `gorm:"column:reason;type:varchar(50)"`
	Version   int       `gorm:"column:version;not null;default:1"`
	Deadline  time.Time `gorm:"column:deadline;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SagaModel) TableName() string {
	return "sagas"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *SagaModel) toDomain() *Saga {
	return &Saga{
		ID:        m.ID,
		OrderID:   m.OrderID,
		State:     State(m.State),
		Reason:    m.Reason,
		Version:   m.Version,
		Deadline:  m.Deadline,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// modelFromDomain конвертирует доменную сущность в GORM модель.
func modelFromDomain(s *Saga) *SagaModel {
	return &SagaModel{
		ID:        s.ID,
		OrderID:   s.OrderID,
		State:     string(s.State),
		Reason:    s.Reason,
		Version:   s.Version,
		Deadline:  s.Deadline,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// =============================================================================
// Repository — транзакционное ядро координатора
// =============================================================================

// Repository определяет методы работы с сагами.
// Все изменяющие операции атомарны: строки саги, заказа и записи outbox
// коммитятся одной транзакцией, буфер доменных событий заказа очищается
// только после успешного коммита.
type Repository interface {
	// GetByOrderID возвращает сагу по ID заказа (correlation id).
	GetByOrderID(ctx context.Context, orderID string) (*Saga, error)

	// CreateOrderWithSaga атомарно создаёт заказ с позициями, сагу и outbox
	// записи из буфера доменных событий заказа (через closed eventmap).
	// Решает проблему dual write: если любая часть падает — откатывается всё.
	CreateOrderWithSaga(ctx context.Context, order *domain.Order, s *Saga) error

	// UpdateWithOrder атомарно обновляет сагу (optimistic locking по version),
	// строку заказа, переводит буфер событий заказа в outbox и добавляет
	// дополнительные outbox записи (команды координатора: ReserveProducts,
	// ReleaseReservation). messageID != "" фиксирует обработанное входящее
	// сообщение в processed_messages той же транзакцией;
	// дубликат — inbox.ErrDuplicateMessage, транзакция откатывается.
	// Несовпадение версии — ErrSagaConcurrentUpdate.
	UpdateWithOrder(ctx context.Context, s *Saga, order *domain.Order, extra []*outboxpkg.Outbox, messageID string) error

	// GetExpired возвращает саги в нетерминальных состояниях с истёкшим
	// дедлайном. Используется timeout worker-ом.
	GetExpired(ctx context.Context, now time.Time, limit int) ([]*Saga, error)
}

// inboxConsumerName — имя consumer-а координатора в processed_messages.
const inboxConsumerName = "order-saga"

// sagaRepository — GORM реализация Repository.
type sagaRepository struct {
	db         *gorm.DB
	outboxRepo outboxpkg.OutboxRepository
	inboxRepo  inbox.Repository
}

// NewRepository создаёт новый репозиторий саг.
func NewRepository(db *gorm.DB, outboxRepo outboxpkg.OutboxRepository, inboxRepo inbox.Repository) Repository {
	return &sagaRepository{
		db:         db,
		outboxRepo: outboxRepo,
		inboxRepo:  inboxRepo,
	}
}

func (r *sagaRepository) GetByOrderID(ctx context.Context, orderID string) (*Saga, error) {
	var model SagaModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// CreateOrderWithSaga — атомарное создание заказа, саги и outbox записей.
func (r *sagaRepository) CreateOrderWithSaga(ctx context.Context, order *domain.Order, s *Saga) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Заказ с позициями
		if err := repository.InsertOrderTx(tx, order); err != nil {
			return err
		}

		// 2. Сага
		sagaModel := modelFromDomain(s)
		if err := tx.Create(sagaModel).Error; err != nil {
			return err
		}
		s.CreatedAt = sagaModel.CreatedAt
		s.UpdatedAt = sagaModel.UpdatedAt

		// 3. Буфер доменных событий → outbox (closed mapping)
		records, err := repository.OutboxFromEvents(ctx, order.Uncommitted())
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := r.outboxRepo.CreateTx(tx, record); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	// Буфер очищается только после успешного коммита
	order.Clear()
	return nil
}

// UpdateWithOrder — атомарное обновление саги, заказа и пополнение outbox.
func (r *sagaRepository) UpdateWithOrder(ctx context.Context, s *Saga, order *domain.Order, extra []*outboxpkg.Outbox, messageID string) error {
	currentVersion := s.Version

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Фиксируем входящее сообщение (идемпотентность consumer-а).
		// Дубликат откатывает транзакцию целиком — эффекты не повторяются.
		if messageID != "" {
			if err := r.inboxRepo.MarkProcessedTx(tx, messageID, inboxConsumerName); err != nil {
				return err
			}
		}

		// 2. Сага: optimistic locking по version
		result := tx.Model(&SagaModel{}).
			Where("id = ? AND version = ?", s.ID, currentVersion).
			Updates(map[string]interface{}{
				"state":      string(s.State),
				"reason":     s.Reason,
				"deadline":   s.Deadline,
				"version":    currentVersion + 1,
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSagaConcurrentUpdate
		}

		// 3. Заказ
		if err := repository.UpdateOrderTx(tx, order); err != nil {
			return err
		}

		// 4. Буфер доменных событий заказа → outbox
		records, err := repository.OutboxFromEvents(ctx, order.Uncommitted())
		if err != nil {
			return err
		}
		records = append(records, extra...)
		for _, record := range records {
			if err := r.outboxRepo.CreateTx(tx, record); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.Version = currentVersion + 1
	order.Clear()
	return nil
}

// GetExpired возвращает просроченные нетерминальные саги.
func (r *sagaRepository) GetExpired(ctx context.Context, now time.Time, limit int) ([]*Saga, error) {
	var models []SagaModel

	if err := r.db.WithContext(ctx).
		Where("state IN ? AND deadline < ?",
			[]string{string(StateAwaitingCustomerCheck), string(StateAwaitingInventoryReservation)}, now).
		Order("deadline ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Saga, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}
