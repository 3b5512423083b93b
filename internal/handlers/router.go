package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/feed-system/snapgram/internal/middleware"
	"github.com/feed-system/snapgram/internal/observability"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/pkg/cache"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterConfig struct {
	Users  *UserHandler
	Feed   *FeedHandler
	JWT    *middleware.JWTConfig
	Logger *logger.Logger

	// Redis 为 nil 时不限流
	Redis     *cache.RedisClient
	AuthLimit middleware.RateLimitConfig

	CORSOrigins []string
	// Tracing 非空时挂载 otelgin
	TracingService string
	// HealthCheck 返回错误时 /health 报 503
	HealthCheck func(ctx context.Context) error
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		services.RegisterValidations(v)
	}
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.TracingService != "" {
		router.Use(otelgin.Middleware(cfg.TracingService))
	}
	router.Use(
		middleware.RequestID(),
		observability.Middleware(),
		middleware.RequestLogger(cfg.Logger),
		middleware.CORS(cfg.CORSOrigins),
	)

	router.GET("/health", healthHandler(cfg.HealthCheck))
	router.GET("/metrics", observability.Handler())

	registerRoutes(router.Group(""), cfg)
	registerRoutes(router.Group("/api"), cfg)
	return router
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  err.Error(),
					"time":   time.Now().Unix(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	}
}

func registerRoutes(r *gin.RouterGroup, cfg RouterConfig) {
	requireAuth := middleware.NewJWTAuth(cfg.JWT)
	optionalAuth := middleware.OptionalJWTAuth(cfg.JWT)
	authLimit := middleware.RateLimit(cfg.Redis, cfg.AuthLimit, cfg.Logger)

	auth := r.Group("/auth")
	{
		auth.POST("/register", authLimit, cfg.Users.Register)
		auth.POST("/login", authLimit, cfg.Users.Login)
		auth.POST("/logout", cfg.Users.Logout)
		auth.GET("/me", requireAuth, cfg.Users.Me)
	}

	posts := r.Group("/posts")
	{
		posts.GET("", optionalAuth, cfg.Feed.ListPosts)
		posts.POST("", requireAuth, cfg.Feed.CreatePost)
		posts.GET("/:id", optionalAuth, cfg.Feed.GetPost)
		posts.DELETE("/:id", requireAuth, cfg.Feed.DeletePost)
		posts.POST("/:id/like", requireAuth, cfg.Feed.LikePost)
		posts.DELETE("/:id/like", requireAuth, cfg.Feed.UnlikePost)
		posts.GET("/:id/comments", cfg.Feed.GetComments)
		posts.POST("/:id/comments", requireAuth, cfg.Feed.CreateComment)
		posts.DELETE("/:id/comments/:commentId", requireAuth, cfg.Feed.DeleteComment)
	}

	r.GET("/feed", requireAuth, cfg.Feed.GetFeed)
	r.GET("/explore", optionalAuth, cfg.Feed.Explore)
	r.GET("/search", optionalAuth, cfg.Feed.Search)

	users := r.Group("/users")
	{
		users.PUT("/me", requireAuth, cfg.Users.UpdateProfile)
		users.GET("/:username", optionalAuth, cfg.Users.GetProfile)
		users.POST("/:username/follow", requireAuth, cfg.Users.Follow)
		users.DELETE("/:username/follow", requireAuth, cfg.Users.Unfollow)
		users.GET("/:username/followers", cfg.Users.GetFollowers)
		users.GET("/:username/following", cfg.Users.GetFollowing)
		users.GET("/:username/posts", optionalAuth, cfg.Feed.GetUserPosts)
	}
}
