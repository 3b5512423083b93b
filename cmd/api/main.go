package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feed-system/snapgram/internal/config"
	"github.com/feed-system/snapgram/internal/handlers"
	"github.com/feed-system/snapgram/internal/middleware"
	"github.com/feed-system/snapgram/internal/observability"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/pkg/cache"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	logger := logger.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Snapgram API server...")
	if cfg.JWT.DevSecret {
		logger.WithField("mode", cfg.Server.Mode).
			Warn("jwt.secret is not set, tokens are signed with a built-in development secret; set SNAPGRAM_JWT_SECRET before exposing this server")
	}

	// 链路追踪
	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Server.Mode,
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplerRatio: cfg.Tracing.SamplerRatio,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	// 初始化数据库
	db, err := repository.NewDatabase(&cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// 自动迁移数据库表
	if err := db.AutoMigrate(); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}

	// 初始化Redis缓存，连不上时缓存和限流自动降级
	redisClient := cache.NewRedisClient(
		cfg.Redis.Addr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		cfg.Redis.MinIdleConns,
	)
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx); err != nil {
		logger.WithError(err).Warn("Redis unavailable, running without cache")
	}

	// 初始化Kafka生产者
	var producer queue.Publisher = queue.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer = queue.NewTopicRouter(
			queue.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ContentEvents),
			queue.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.UserEvents),
		)
	}
	defer producer.Close()

	// 初始化服务
	store := repository.NewStore(db.DB)
	feedCache := services.NewFeedCache(redisClient, cfg.Feed.CacheTTL, logger)
	userService := services.NewUserService(store, producer, feedCache, logger)
	feedService := services.NewFeedService(store, feedCache, producer, logger)
	likeService := services.NewLikeService(store, feedCache, producer, logger)
	commentService := services.NewCommentService(store, feedCache, producer, logger)

	// 初始化处理器
	jwtConfig := &middleware.JWTConfig{
		Secret:     cfg.JWT.Secret,
		CookieName: cfg.JWT.CookieName,
		TTL:        cfg.JWT.ExpireTime,
		Secure:     cfg.Server.IsRelease(),
	}
	limits := handlers.PageLimits{FeedDefault: cfg.Feed.DefaultLimit, Max: cfg.Feed.MaxLimit}
	userHandler := handlers.NewUserHandler(userService, jwtConfig, limits, logger)
	feedHandler := handlers.NewFeedHandler(feedService, likeService, commentService, limits, logger)

	// 设置Gin模式
	if cfg.Server.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}

	routerConfig := handlers.RouterConfig{
		Users:  userHandler,
		Feed:   feedHandler,
		JWT:    jwtConfig,
		Logger: logger,
		AuthLimit: middleware.RateLimitConfig{
			Name:   "auth",
			Limit:  cfg.RateLimit.AuthLimit,
			Window: cfg.RateLimit.Window,
		},
		CORSOrigins: cfg.Server.CORSOrigins,
		HealthCheck: db.Ping,
	}
	if cfg.RateLimit.Enabled {
		routerConfig.Redis = redisClient
	}
	if cfg.Tracing.Enabled {
		routerConfig.TracingService = cfg.Tracing.ServiceName
	}
	router := handlers.NewRouter(routerConfig)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.WithError(err).Error("Failed to flush traces")
	}

	logger.Info("Server exited")
}
