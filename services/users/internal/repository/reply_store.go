package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/outbox"
)

// ReplyStore атомарно фиксирует обработку команды саги: запись в
// processed_messages и ответ в outbox коммитятся одной транзакцией.
// Дубликат команды обрывает транзакцию ошибкой inbox.ErrDuplicateMessage —
// ответ не дублируется, сообщение подтверждается без эффектов.
type ReplyStore interface {
	// SaveReply записывает ответ саги в outbox вместе с отметкой об обработке.
	SaveReply(ctx context.Context, messageID string, record *outbox.Outbox) error
}

// consumerName — значение колонки consumer в processed_messages.
const consumerName = "users-verification"

// replyStore — GORM реализация ReplyStore.
type replyStore struct {
	db         *gorm.DB
	inboxRepo  inbox.Repository
	outboxRepo outbox.OutboxRepository
}

// NewReplyStore создаёт новое хранилище ответов саги.
func NewReplyStore(db *gorm.DB, inboxRepo inbox.Repository, outboxRepo outbox.OutboxRepository) ReplyStore {
	return &replyStore{
		db:         db,
		inboxRepo:  inboxRepo,
		outboxRepo: outboxRepo,
	}
}

// SaveReply выполняет транзакцию {processed_messages insert, outbox insert}.
func (s *replyStore) SaveReply(ctx context.Context, messageID string, record *outbox.Outbox) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.inboxRepo.MarkProcessedTx(tx, messageID, consumerName); err != nil {
			// inbox.ErrDuplicateMessage прокидывается как есть
			return err
		}

		if err := s.outboxRepo.CreateTx(tx, record); err != nil {
			return fmt.Errorf("запись ответа в outbox: %w", err)
		}

		return nil
	})
}
