package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapgram_http_requests_total",
		Help: "Total number of HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snapgram_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// CacheRequests result 取值 hit、miss、error
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapgram_cache_requests_total",
		Help: "Feed page cache lookups by cache and result",
	}, []string{"cache", "result"})

	DomainEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapgram_domain_events_total",
		Help: "Domain events published by type and outcome",
	}, []string{"type", "outcome"})

	CounterCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapgram_counter_corrections_total",
		Help: "Denormalized counters rewritten by reconciliation",
	}, []string{"entity"})
)

// Middleware 记录请求数和耗时，route 用 gin 的路由模板避免高基数
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
