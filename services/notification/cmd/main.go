// Notification Service — fan-out подписчик терминальных событий заказа.
// Слушает order.events и доставляет уведомления о подтверждении и отмене.
// Собственного состояния у сервиса нет: БД не требуется.
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

	"example.com/fulfillment-system/pkg/config"
	"example.com/fulfillment-system/pkg/healthcheck"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/tracing"
	"example.com/fulfillment-system/services/notification/internal/consumer"
	"example.com/fulfillment-system/services/notification/internal/notifier"
)

const serviceName = "notification-service"

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
		Msg("Запуск Notification Service")

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации tracing")
	}

	kafkaCfg := kafka.Config{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}

	eventConsumer, err := kafka.NewConsumer(kafkaCfg, kafka.TopicOrderEvents, cfg.Kafka.ConsumerGroup+".notification")
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для событий")
	}

	events := consumer.NewEventConsumer(eventConsumer, notifier.NewLogNotifier())

	readiness := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckKafka(ctx, cfg.Kafka.Brokers) },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = log.WithContext(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := events.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Consumer событий завершился с ошибкой")
		}
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

	if err := events.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия consumer-а событий")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки metrics сервера")
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки tracing")
	}

	log.Info().Msg("Notification Service остановлен")
}
