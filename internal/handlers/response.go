package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var statusByKind = map[models.ErrorKind]int{
	models.KindValidation:      http.StatusBadRequest,
	models.KindConflict:        http.StatusBadRequest,
	models.KindSelfFollow:      http.StatusBadRequest,
	models.KindNotFollowing:    http.StatusBadRequest,
	models.KindNotLiked:        http.StatusBadRequest,
	models.KindUnauthenticated: http.StatusUnauthorized,
	models.KindAuth:            http.StatusUnauthorized,
	models.KindForbidden:       http.StatusForbidden,
	models.KindNotFound:        http.StatusNotFound,
	models.KindRateLimited:     http.StatusTooManyRequests,
	models.KindInternal:        http.StatusInternalServerError,
}

// StatusFor 未知类型按 500 处理
func StatusFor(kind models.ErrorKind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError 内部错误只记录原因，不返回给客户端
func respondError(c *gin.Context, log *logger.Logger, err error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		appErr = models.NewInternalError(err)
	}

	status := StatusFor(appErr.Kind)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Request failed with internal error")
		c.JSON(status, models.ErrorResponse{Error: "Internal server error"})
		return
	}
	c.JSON(status, models.ErrorResponse{Error: appErr.Message})
}

// bindJSON 解析并校验请求体，失败时已写入 400
func bindJSON(c *gin.Context, log *logger.Logger, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, log, services.ValidationError(req, err))
		return false
	}
	return true
}

// pathID 非法 ID 与不存在同样返回 404
func pathID(c *gin.Context, log *logger.Logger, param, notFound string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		respondError(c, log, models.NewNotFoundError(notFound))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

// PageLimits 来自 feed 配置，零值使用 models 中的默认值
type PageLimits struct {
	// FeedDefault 只作用于 /feed，其他接口保留各自的默认条数
	FeedDefault int
	Max         int
}

func (l PageLimits) feedDefault() int {
	if l.FeedDefault > 0 {
		return l.FeedDefault
	}
	return models.DefaultFeedLimit
}

func (l PageLimits) query(c *gin.Context, defaultLimit int) models.PageRequest {
	maxLimit := l.Max
	if maxLimit <= 0 {
		maxLimit = models.MaxPageLimit
	}
	return models.NewPageRequestWithMax(queryInt(c, "page"), queryInt(c, "limit"), defaultLimit, maxLimit)
}
