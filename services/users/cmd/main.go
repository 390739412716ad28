// Users Service — проверка покупателя в саге оформления заказа.
// Слушает saga.commands.customer, проверяет покупателя в своей БД и
// отвечает CustomerChecked через собственный outbox.
package main

import (
	"context"
	"errors"
	"fmt"
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
	"example.com/fulfillment-system/services/users/internal/consumer"
	"example.com/fulfillment-system/services/users/internal/domain"
	"example.com/fulfillment-system/services/users/internal/repository"
	"example.com/fulfillment-system/services/users/internal/service"
)

const serviceName = "users-service"

// inboxRetention — срок хранения записей processed_messages.
const inboxRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.ForService(serviceName)

	log.Info().
		Str("env", cfg.App.Env).
		Msg("Запуск Users Service")

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации tracing")
	}

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	if err := migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Ошибка миграции схемы БД")
	}

	redisClient := dbpkg.ConnectRedis(cfg.Redis)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis недоступен, дедупликация работает только через БД")
	}

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
	customerRepo := repository.NewCustomerRepository(db)
	replyStore := repository.NewReplyStore(db, inboxRepo, outboxRepo)
	verification := service.NewVerificationService(customerRepo, replyStore)

	if cfg.IsDevelopment() {
		if err := seedCustomers(context.Background(), customerRepo); err != nil {
			log.Warn().Err(err).Msg("Ошибка наполнения демо-покупателей")
		}
	}

	readiness := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckKafka(ctx, cfg.Kafka.Brokers) },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = log.WithContext(ctx)

	var wg sync.WaitGroup

	// Outbox Relay — публикация ответов CustomerChecked
	relay := outbox.NewRelay(outboxRepo, guardedProducer, outbox.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxRetries:   cfg.Outbox.MaxRetries,
		RetryBackoff: cfg.Outbox.RetryBackoff,
		Retention:    cfg.Outbox.Retention,
	}, "users")
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()

	// Consumer команд проверки покупателя
	commandConsumer, err := kafka.NewConsumer(kafkaCfg, kafka.TopicCustomerCommands, cfg.Kafka.ConsumerGroup+".users-verification")
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для команд")
	}
	commandConsumer.SetDLQProducer(producer)

	dedup := inbox.NewDeduplicator(redisClient, inboxRepo, "users-verification")
	cmdConsumer := consumer.NewCommandConsumer(commandConsumer, verification, dedup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cmdConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Consumer команд завершился с ошибкой")
		}
	}()

	// Очистка processed_messages по retention
	wg.Add(1)
	go func() {
		defer wg.Done()
		runInboxCleanup(ctx, inboxRepo)
	}()

	// Metrics сервер (Prometheus + health probes)
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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := cmdConsumer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия consumer-а команд")
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

	log.Info().Msg("Users Service остановлен")
}

// migrate приводит схему БД к актуальной.
func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&repository.CustomerModel{},
		&outbox.OutboxModel{},
		&inbox.ProcessedMessageModel{},
	)
}

// seedCustomers наполняет БД демо-покупателями в development окружении.
func seedCustomers(ctx context.Context, repo repository.CustomerRepository) error {
	demo := []*domain.Customer{
		{ID: "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", Name: "Иван Петров", Email: "ivan.petrov@example.com", Active: true},
		{ID: "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", Name: "Мария Сидорова", Email: "maria.sidorova@example.com", Active: true},
		{ID: "cccccccc-cccc-cccc-cccc-cccccccccccc", Name: "Заблокированный Аккаунт", Email: "blocked@example.com", Active: false},
	}

	for _, c := range demo {
		if _, err := repo.GetByEmail(ctx, c.Email); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrCustomerNotFound) {
			return err
		}
		if err := repo.Create(ctx, c); err != nil && !errors.Is(err, domain.ErrEmailExists) {
			return err
		}
	}

	return nil
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
