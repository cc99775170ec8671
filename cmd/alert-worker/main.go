// Package main provides the alert worker entry point.
// Consumes evaluation requests and publishes evaluation results.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxguard/internal/api/handlers"
	"github.com/drfirst/go-rxguard/internal/bootstrap"
	"github.com/drfirst/go-rxguard/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxguard/internal/worker"
	"github.com/drfirst/go-rxguard/pkg/workerpool"
)

const serviceName = "alert-worker"

func main() {
	ctx := context.Background()

	rt, err := bootstrap.Setup(ctx, serviceName, prometheus.DefaultRegisterer)
	if err != nil {
		os.Stderr.WriteString("startup failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := rt.Logger
	defer rt.Close(context.Background())

	brokers := rt.Config.Brokers()

	admin, err := redpanda.NewAdmin(brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	created, err := admin.EnsureTopics(ctx)
	admin.Close()
	if err != nil {
		logger.Fatal("topic setup failed", zap.Error(err))
	}
	if len(created) > 0 {
		logger.Info("topics created", zap.Strings("topics", created))
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = brokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = rt.Config.Workers
	processor, err := worker.NewProcessor(worker.DefaultConfig(), rt.Service, producer, poolCfg, rt.Metrics, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	processor.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers
	consumerCfg.GroupID = rt.Config.KafkaGroupID
	consumer, err := redpanda.NewConsumer(consumerCfg, processor.Handle, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	rt.Checks["kafka"] = func(ctx context.Context) error {
		return redpanda.HealthCheck(ctx, brokers)
	}
	r := chi.NewRouter()
	r.Get("/health", handlers.Health(serviceName, bootstrap.Version))
	r.Get("/ready", handlers.Ready(rt.Checks))
	r.Handle("/metrics", rt.Metrics.Handler())
	server := &http.Server{
		Addr:              ":" + rt.Config.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("probe server error", zap.Error(err))
		}
	}()

	consumer.Start()
	logger.Info("alert worker started",
		zap.Strings("brokers", brokers),
		zap.String("group", consumerCfg.GroupID),
		zap.Int("workers", poolCfg.Workers))

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop", zap.Error(err))
	}
	if err := processor.Stop(); err != nil {
		logger.Warn("worker pool stop", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	pool, consumed, produced := processor.Stats(), consumer.Stats(), producer.Stats()
	logger.Info("alert worker stopped",
		zap.Int64("completed", pool.TasksCompleted),
		zap.Int64("failed", pool.TasksFailed),
		zap.Int64("handled", consumed.Handled),
		zap.Int64("rewinds", consumed.Rewinds),
		zap.Int64("published", produced.Sent))
}
