package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/pkg/cache"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/gin-gonic/gin"
)

type RateLimitConfig struct {
	Name   string
	Limit  int
	Window time.Duration
}

// RateLimit 按客户端 IP 的固定窗口限流，Redis 出错时放行
func RateLimit(redisClient *cache.RedisClient, cfg RateLimitConfig, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || cfg.Limit <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("rl:%s:%s", cfg.Name, c.ClientIP())
		count, err := redisClient.IncrWindow(c.Request.Context(), key, cfg.Window)
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
			c.Next()
			return
		}

		if count > int64(cfg.Limit) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(cfg.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{Error: models.ErrRateLimited.Message})
			return
		}
		c.Next()
	}
}
