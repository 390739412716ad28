package inbox

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/fulfillment-system/pkg/logger"
)

const (
	// dedupKeyPrefix — префикс ключей идемпотентности в Redis.
	dedupKeyPrefix = "inbox:dedup:"

	// dedupTTL — время жизни ключа идемпотентности (24 часа).
	dedupTTL = 24 * time.Hour
)

// Deduplicator — быстрый фильтр дубликатов перед processed_messages.
// Redis отвечает первым (SETNX с TTL), но источник правды — БД:
// при недоступности Redis проверка деградирует до уникального ключа
// таблицы processed_messages, консистентность не страдает.
type Deduplicator struct {
	redis    *redis.Client
	repo     Repository
	consumer string
}

// NewDeduplicator создаёт фильтр дубликатов для указанного consumer-а.
// redisClient может быть nil — тогда работает только проверка по БД.
func NewDeduplicator(redisClient *redis.Client, repo Repository, consumer string) *Deduplicator {
	return &Deduplicator{
		redis:    redisClient,
		repo:     repo,
		consumer: consumer,
	}
}

// AlreadyProcessed возвращает true, если сообщение уже обработано.
// Ошибки Redis не прерывают обработку — финальную защиту даёт
// уникальный ключ processed_messages в транзакции consumer-а.
func (d *Deduplicator) AlreadyProcessed(ctx context.Context, messageID string) bool {
	log := logger.FromContext(ctx)

	if d.redis != nil {
		key := dedupKeyPrefix + d.consumer + ":" + messageID
		wasSet, err := d.redis.SetNX(ctx, key, "processing", dedupTTL).Result()
		if err != nil {
			log.Warn().Err(err).Str("message_id", messageID).
				Msg("Redis недоступен при проверке идемпотентности, используем БД")
		} else if !wasSet {
			// Ключ уже есть — проверяем БД: сообщение могло упасть до коммита
			seen, dbErr := d.repo.Seen(ctx, messageID, d.consumer)
			if dbErr == nil && seen {
				return true
			}
			// В БД записи нет — предыдущая попытка не закоммитилась, обрабатываем
		}
	}

	seen, err := d.repo.Seen(ctx, messageID, d.consumer)
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).
			Msg("Ошибка проверки processed_messages, полагаемся на уникальный ключ")
		return false
	}
	return seen
}
