package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/feed-system/snapgram/internal/config"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/internal/workers"
	"github.com/feed-system/snapgram/pkg/cache"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	logger := logger.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Snapgram worker...")

	// 初始化数据库
	db, err := repository.NewDatabase(&cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// 初始化Redis缓存
	redisClient := cache.NewRedisClient(
		cfg.Redis.Addr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		cfg.Redis.MinIdleConns,
	)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := redisClient.Ping(ctx); err != nil {
		logger.WithError(err).Warn("Redis unavailable, cache versions will not be bumped")
	}

	// 未启用 Kafka 时只做定期全量校正
	var subscribers []workers.Subscriber
	if cfg.Kafka.Enabled {
		subscribers = append(subscribers,
			queue.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ContentEvents, cfg.Kafka.GroupID, logger),
			queue.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.UserEvents, cfg.Kafka.GroupID, logger),
		)
	}

	store := repository.NewStore(db.DB)
	feedCache := services.NewFeedCache(redisClient, cfg.Feed.CacheTTL, logger)
	reconciler := services.NewReconcileService(store, feedCache, cfg.Reconcile.BatchSize, logger)

	// 启动时先校正一轮
	if _, err := reconciler.ReconcileAll(ctx); err != nil {
		logger.WithError(err).Error("Initial reconciliation failed")
	}

	feedWorker := workers.NewFeedWorker(reconciler, cfg.Reconcile.Interval, logger, subscribers...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := feedWorker.Start(ctx); err != nil {
			logger.WithError(err).Error("Feed worker stopped with error")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}

	logger.Info("Shutting down worker...")
	if err := feedWorker.Stop(); err != nil {
		logger.WithError(err).Error("Failed to stop feed worker")
	}
	<-done

	logger.Info("Worker exited")
}
