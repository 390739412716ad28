// Order Service — точка входа пайплайна оформления заказа.
// Принимает checkout по HTTP, координирует сагу оформления и публикует
// события заказа через Outbox Relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment-system/pkg/circuitbreaker"
	"example.com/fulfillment-system/pkg/config"
	dbpkg "example.com/fulfillment-system/pkg/db"
	"example.com/fulfillment-system/pkg/healthcheck"
	"example.com/fulfillment-system/pkg/inbox"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/pkg/tracing"
	"example.com/fulfillment-system/services/order/internal/handler"
	"example.com/fulfillment-system/services/order/internal/repository"
	"example.com/fulfillment-system/services/order/internal/saga"
	"example.com/fulfillment-system/services/order/internal/service"
)

const serviceName = "order-service"

// inboxRetention — срок хранения записей processed_messages.
const inboxRetention = 7 * 24 * time.Hour

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.ForService(serviceName)

	log.Info().
		Str("env", cfg.App.Env).
		Int("http_port", cfg.HTTP.Port).
		Msg("Запуск Order Service")

	// Инициализируем tracing (Jaeger)
	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации tracing")
	}

	// Подключаемся к MySQL
	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	if err := migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Ошибка миграции схемы БД")
	}

	// Подключаемся к Redis (fast-path дедупликации; сервис работает и без него)
	redisClient := dbpkg.ConnectRedis(cfg.Redis)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis недоступен, дедупликация работает только через БД")
	}

	// Kafka Producer за Circuit Breaker: при недоступности брокера Relay
	// получает ошибку мгновенно и откладывает записи по backoff
	kafkaCfg := kafka.Config{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}
	producer, err := kafka.NewProducer(kafkaCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}
	breaker := circuitbreaker.New("kafka-producer")
	guardedProducer := circuitbreaker.WrapProducer(producer, breaker)

	// Слои приложения
	outboxRepo := outbox.NewOutboxRepository(db)
	inboxRepo := inbox.NewRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	sagaRepo := saga.NewRepository(db, outboxRepo, inboxRepo)
	coordinator := saga.NewCoordinator(sagaRepo, orderRepo, cfg.Saga.StepTimeout)
	orderService := service.NewOrderService(orderRepo, coordinator)

	// Readiness: MySQL + Kafka. Redis не входит: без него сервис деградирует
	// до дедупликации по БД, но остаётся работоспособным
	readiness := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckKafka(ctx, cfg.Kafka.Brokers) },
	)

	// Фоновые компоненты
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = log.WithContext(ctx)

	var wg sync.WaitGroup

	// Outbox Relay — публикация записей outbox в Kafka
	relay := outbox.NewRelay(outboxRepo, guardedProducer, outbox.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxRetries:   cfg.Outbox.MaxRetries,
		RetryBackoff: cfg.Outbox.RetryBackoff,
		Retention:    cfg.Outbox.Retention,
	}, "order")
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()

	// Reply Consumer — ответы Users и Catalog Service
	replyConsumer, err := kafka.NewConsumer(kafkaCfg, kafka.TopicSagaReplies, cfg.Kafka.ConsumerGroup+".order-saga")
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для ответов саги")
	}
	replyConsumer.SetDLQProducer(producer)

	dedup := inbox.NewDeduplicator(redisClient, inboxRepo, "order-saga")
	sagaConsumer := saga.NewReplyConsumer(replyConsumer, coordinator, dedup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sagaConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Reply Consumer завершился с ошибкой")
		}
	}()

	// Timeout Worker — отмена просроченных саг
	timeoutWorker := saga.NewTimeoutWorker(sagaRepo, coordinator, saga.TimeoutWorkerConfig{
		SweepInterval: cfg.Saga.SweepInterval,
		BatchSize:     cfg.Saga.SweepBatchSize,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		timeoutWorker.Run(ctx)
	}()

	// Очистка processed_messages по retention
	wg.Add(1)
	go func() {
		defer wg.Done()
		runInboxCleanup(ctx, inboxRepo)
	}()

	// Metrics сервер (Prometheus)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName,
			metrics.WithReadinessCheck(readiness))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// HTTP API
	router := handler.NewRouter(handler.RouterConfig{
		OrderService:   orderService,
		ReadinessCheck: handler.ReadinessChecker(readiness),
		Debug:          cfg.IsDevelopment(),
	})
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: router,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr()).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	// Останавливаем приём HTTP запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	// Останавливаем фоновые компоненты и ждём их завершения
	cancel()
	wg.Wait()

	if err := sagaConsumer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Reply Consumer")
	}
	if err := producer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки metrics сервера")
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки tracing")
	}
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Redis")
	}
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	log.Info().Msg("Order Service остановлен")
}

// migrate приводит схему БД к актуальной.
func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&repository.OrderModel{},
		&repository.OrderItemModel{},
		&saga.SagaModel{},
		&outbox.OutboxModel{},
		&inbox.ProcessedMessageModel{},
	)
}

// runInboxCleanup периодически удаляет старые записи processed_messages.
func runInboxCleanup(ctx context.Context, repo inbox.Repository) {
	log := logger.FromContext(ctx)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.DeleteBefore(ctx, time.Now().Add(-inboxRetention))
			if err != nil {
				log.Error().Err(err).Msg("Ошибка очистки processed_messages")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Очищены старые записи processed_messages")
			}
		}
	}
}
