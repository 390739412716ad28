// Package inbox реализует хранилище идемпотентности для inbound consumer-ов.
// Запись (message_id, consumer) фиксируется в той же локальной транзакции,
// что и бизнес-эффект обработки: сбой между ними невозможен. Повторная
// доставка того же сообщения обнаруживается по уникальному ключу и
// подтверждается без повторной обработки.
package inbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrDuplicateMessage — сообщение уже обработано этим consumer-ом.
// Не ошибка обработки: вызывающий подтверждает сообщение без побочных эффектов.
var ErrDuplicateMessage = errors.New("сообщение уже обработано")

// ProcessedMessage — факт обработки сообщения конкретным consumer-ом.
type ProcessedMessage struct {
	MessageID   string    // ID сообщения из envelope
	Consumer    string    // Имя consumer-а (users-verification / catalog-reservation)
	ProcessedAt time.Time // Время обработки
}

// ProcessedMessageModel — GORM модель для таблицы processed_messages.
type ProcessedMessageModel struct {
	MessageID   string    `gorm:"column:message_id;type:varchar(36);primaryKey"`
	Consumer    string    `gorm:"column:consumer;type:varchar(100);primaryKey"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ProcessedMessageModel) TableName() string {
	return "processed_messages"
}

// Repository определяет методы работы с processed_messages.
type Repository interface {
	// MarkProcessedTx вставляет запись внутри транзакции вызывающего.
	// Возвращает ErrDuplicateMessage, если пара (message_id, consumer)
	// уже существует — транзакцию надо откатить, сообщение подтвердить.
	MarkProcessedTx(tx *gorm.DB, messageID, consumer string) error

	// Seen проверяет, обработано ли сообщение (быстрый read-путь вне транзакции).
	Seen(ctx context.Context, messageID, consumer string) (bool, error)

	// DeleteBefore удаляет записи старше указанного времени (retention).
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// repository — GORM реализация Repository.
type repository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий processed_messages.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// MarkProcessedTx вставляет запись об обработке внутри транзакции вызывающего.
func (r *repository) MarkProcessedTx(tx *gorm.DB, messageID, consumer string) error {
	model := &ProcessedMessageModel{
		MessageID: messageID,
		Consumer:  consumer,
	}
	if err := tx.Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateMessage
		}
		return err
	}
	return nil
}

// Seen проверяет существование записи без транзакции.
func (r *repository) Seen(ctx context.Context, messageID, consumer string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&ProcessedMessageModel{}).
		Where("message_id = ? AND consumer = ?", messageID, consumer).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteBefore удаляет старые записи пачками по 1000.
func (r *repository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at < ?", before).
		Limit(1000).
		Delete(&ProcessedMessageModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// GORM v2 имеет ErrDuplicatedKey, также проверяем текст ошибки MySQL
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
