package saga

import (
	"context"
	"time"

	"example.com/fulfillment-system/pkg/logger"
)

// =============================================================================
// TimeoutWorker — воркер отмены просроченных саг
// =============================================================================

// TimeoutWorkerConfig — настройки Timeout Worker.
type TimeoutWorkerConfig struct {
	// SweepInterval — интервал между сканированиями таблицы sagas.
	SweepInterval time.Duration

	// BatchSize — максимальное количество просроченных саг за один цикл.
	BatchSize int
}

// DefaultTimeoutWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultTimeoutWorkerConfig() TimeoutWorkerConfig {
	return TimeoutWorkerConfig{
		SweepInterval: 30 * time.Second,
		BatchSize:     50,
	}
}

// TimeoutWorker периодически сканирует таблицу sagas и находит саги
// в нетерминальных состояниях, чей дедлайн прошёл. Каждую отменяет через
// Coordinator.CancelOnTimeout: заказ помечается CANCELLED с причиной
// timeout, при необходимости отправляется ReleaseReservation.
type TimeoutWorker struct {
	sagaRepo    Repository
	coordinator Coordinator
	cfg         TimeoutWorkerConfig
}

// NewTimeoutWorker создаёт новый Timeout Worker.
func NewTimeoutWorker(sagaRepo Repository, coordinator Coordinator, cfg TimeoutWorkerConfig) *TimeoutWorker {
	return &TimeoutWorker{
		sagaRepo:    sagaRepo,
		coordinator: coordinator,
		cfg:         cfg,
	}
}

// Run запускает Worker. Блокирует выполнение до отмены контекста.
func (w *TimeoutWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("sweep_interval", w.cfg.SweepInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Saga Timeout Worker")

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Saga Timeout Worker")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep находит и отменяет просроченные саги.
func (w *TimeoutWorker) sweep(ctx context.Context) {
	log := logger.FromContext(ctx)

	sagas, err := w.sagaRepo.GetExpired(ctx, time.Now(), w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска просроченных саг")
		return
	}

	if len(sagas) == 0 {
		return
	}

	log.Warn().Int("count", len(sagas)).Msg("Обнаружены просроченные саги, отменяем")

	for _, s := range sagas {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Warn().
			Str("saga_id", s.ID).
			Str("order_id", s.OrderID).
			Str("state", string(s.State)).
			Time("deadline", s.Deadline).
			Msg("Отмена саги по таймауту")

		// CancelOnTimeout перечитает сагу и проверит состояние;
		// конфликт с reply consumer-ом разрешает optimistic locking.
		if err := w.coordinator.CancelOnTimeout(ctx, s.OrderID); err != nil {
			log.Error().Err(err).
				Str("saga_id", s.ID).
				Str("order_id", s.OrderID).
				Msg("Ошибка отмены просроченной саги")
		}
	}
}
