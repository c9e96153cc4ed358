// Command worker annotates events read from Kafka. Each message names the
// organisations and contacts an event concerns; the worker writes the event
// with their merged decision to the output topic.
package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/annotations/engine"
	"github.com/liamcoop/annotations/internal/config"
	"github.com/liamcoop/annotations/internal/logger"
	"github.com/liamcoop/annotations/ownerengine"
	"github.com/liamcoop/annotations/pipeline"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.ErrorSampleRate); err != nil {
		logger.Warn("invalid log level, keeping default", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("worker failed", "error", err)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return errors.New("database url is required (set DATABASE_URL)")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required (set KAFKA_BROKERS)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	opts := []engine.Option{engine.WithMetrics(engine.NewMetricsRecorder())}
	if cfg.Cache.RedisAddr != "" {
		cache, err := engine.NewRedisCache(ctx, cfg.Cache.RedisAddr, engine.CacheConfig{TTL: cfg.Cache.TTL})
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithCache(cache))
	}

	manager := ownerengine.NewManager(engine.NewPostgresStore(db), opts...)
	if err := manager.LoadAllOwners(ctx); err != nil {
		return err
	}
	go reloadOwners(ctx, manager, cfg.Cache.TTL)

	source := pipeline.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.InputTopic, cfg.Kafka.GroupID)
	defer source.Close()
	sink := pipeline.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.OutputTopic)
	defer sink.Close()

	logger.Info("worker starting",
		"brokers", cfg.Kafka.Brokers,
		"input", cfg.Kafka.InputTopic,
		"output", cfg.Kafka.OutputTopic,
		"workers", cfg.Kafka.Workers)

	return pipeline.NewProcessor(source, sink, manager, cfg.Kafka.Workers).Run(ctx)
}

// reloadOwners picks up owners and annotations added by other processes.
func reloadOwners(ctx context.Context, manager *ownerengine.Manager, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := manager.LoadAllOwners(ctx); err != nil {
				logger.Error("failed to reload owners", "error", err)
			}
		}
	}
}
