package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrOutboxNotFound — запись outbox не найдена.
var ErrOutboxNotFound = errors.New("запись outbox не найдена")

// OutboxRepository определяет методы работы с outbox.
// Интерфейс для тестируемости (Dependency Inversion).
type OutboxRepository interface {
	// Create создаёт новую запись outbox в отдельной транзакции.
	Create(ctx context.Context, record *Outbox) error

	// CreateTx создаёт запись outbox внутри транзакции вызывающего.
	// Ключевой метод Outbox Pattern: бизнес-данные и сообщение коммитятся вместе.
	CreateTx(tx *gorm.DB, record *Outbox) error

	// GetPending возвращает записи, готовые к публикации:
	// не обработанные, не dead letter, с наступившим next_attempt_at.
	// Сортировка aggregate_id, created_at сохраняет порядок событий
	// внутри одного агрегата.
	GetPending(ctx context.Context, now time.Time, limit int) ([]*Outbox, error)

	// MarkProcessed помечает запись как доставленную (после ack брокера).
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed увеличивает счётчик ошибок, сохраняет текст ошибки и
	// откладывает следующую попытку до nextAttempt (экспоненциальный backoff).
	MarkFailed(ctx context.Context, id string, pubErr error, nextAttempt time.Time) error

	// MarkDeadLettered выводит запись из очереди после исчерпания попыток.
	// Запись сохраняется для ручного разбора, не удаляется.
	MarkDeadLettered(ctx context.Context, id string, pubErr error) error

	// DeleteProcessedBefore удаляет обработанные записи старше указанного времени.
	// Возвращает количество удалённых записей. Используется для очистки outbox.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// outboxRepository — GORM реализация OutboxRepository.
type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository создаёт новый репозиторий outbox.
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

// Create создаёт новую запись outbox.
func (r *outboxRepository) Create(ctx context.Context, record *Outbox) error {
	return r.CreateTx(r.db.WithContext(ctx), record)
}

// CreateTx создаёт запись outbox внутри переданной транзакции.
func (r *outboxRepository) CreateTx(tx *gorm.DB, record *Outbox) error {
	model := ModelFromDomain(record)
	if err := tx.Create(model).Error; err != nil {
		return err
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

// GetPending возвращает записи, готовые к публикации.
// Сортировка по aggregate_id, created_at: события одного агрегата уходят
// в порядке создания; порядок между разными агрегатами не гарантируется.
func (r *outboxRepository) GetPending(ctx context.Context, now time.Time, limit int) ([]*Outbox, error) {
	var models []OutboxModel

	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND dead_lettered = ? AND next_attempt_at <= ?", false, now).
		Order("aggregate_id ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Outbox, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result, nil
}

// MarkProcessed помечает запись как доставленную.
// Счётчик retry_count обнуляется: после ack брокера прошлые неудачи
// записи ничего не значат.
func (r *outboxRepository) MarkProcessed(ctx context.Context, id string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": now,
			"retry_count":  0,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// MarkFailed увеличивает счётчик ошибок и откладывает следующую попытку.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string, pubErr error, nextAttempt time.Time) error {
	errStr := pubErr.Error()
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":     gorm.Expr("retry_count + 1"),
			"next_attempt_at": nextAttempt,
			"last_error":      errStr,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// MarkDeadLettered выводит запись из очереди публикации.
// Для ручного разбора: SELECT * FROM outbox WHERE dead_lettered = 1.
func (r *outboxRepository) MarkDeadLettered(ctx context.Context, id string, pubErr error) error {
	errStr := pubErr.Error()
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"dead_lettered": true,
			"last_error":    errStr,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет обработанные записи outbox старше указанного времени.
// Удаляет пачками по 1000 для предотвращения длинных блокировок.
func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", before).
		Limit(1000).
		Delete(&OutboxModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
