package services

import (
	"context"
	"fmt"
	"time"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/observability"
	"github.com/feed-system/snapgram/pkg/cache"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/google/uuid"
)

const (
	DefaultFeedCacheTTL = 30 * time.Second

	contentVersionKey = "ver:content"
	graphVersionKey   = "ver:graph:%s"
)

// FeedCache 缓存 feed 和 explore 的分页结果。
// key 中带内容版本号和关注关系版本号，写操作只需要递增版本号，旧 key 等待过期。
// 为 nil 或 Redis 不可用时所有读都会 miss。
type FeedCache struct {
	cache  *cache.RedisClient
	ttl    time.Duration
	logger *logger.Logger
}

func NewFeedCache(redisClient *cache.RedisClient, ttl time.Duration, log *logger.Logger) *FeedCache {
	if ttl <= 0 {
		ttl = DefaultFeedCacheTTL
	}
	return &FeedCache{
		cache:  redisClient,
		ttl:    ttl,
		logger: log,
	}
}

func (c *FeedCache) enabled() bool {
	return c != nil && c.cache != nil
}

func (c *FeedCache) version(ctx context.Context, key string) (int64, error) {
	return c.cache.GetInt(ctx, key)
}

func (c *FeedCache) feedKey(ctx context.Context, viewer uuid.UUID, p models.PageRequest) (string, error) {
	cv, err := c.version(ctx, contentVersionKey)
	if err != nil {
		return "", err
	}
	gv, err := c.version(ctx, fmt.Sprintf(graphVersionKey, viewer))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("feed:%s:%d:%d:%d:%d", viewer, cv, gv, p.Page, p.Limit), nil
}

func (c *FeedCache) exploreKey(ctx context.Context, viewer *uuid.UUID, p models.PageRequest) (string, error) {
	cv, err := c.version(ctx, contentVersionKey)
	if err != nil {
		return "", err
	}
	if viewer == nil {
		return fmt.Sprintf("explore:anon:%d:%d:%d", cv, p.Page, p.Limit), nil
	}
	gv, err := c.version(ctx, fmt.Sprintf(graphVersionKey, *viewer))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("explore:%s:%d:%d:%d:%d", *viewer, cv, gv, p.Page, p.Limit), nil
}

// lookup 返回 key，命中时 page 已填充；key 为空表示缓存不可用
func (c *FeedCache) lookup(ctx context.Context, name string, key string, keyErr error, page *PostPage) (string, bool) {
	if keyErr != nil {
		observability.CacheRequests.WithLabelValues(name, "error").Inc()
		c.logger.WithError(keyErr).WithField("cache", name).Warn("Failed to read cache version")
		return "", false
	}

	err := c.cache.GetJSON(ctx, key, page)
	switch {
	case err == nil:
		observability.CacheRequests.WithLabelValues(name, "hit").Inc()
		return key, true
	case cache.IsMiss(err):
		observability.CacheRequests.WithLabelValues(name, "miss").Inc()
	default:
		observability.CacheRequests.WithLabelValues(name, "error").Inc()
		c.logger.WithError(err).WithField("key", key).Warn("Failed to read cached page")
	}
	return key, false
}

func (c *FeedCache) store(ctx context.Context, key string, page *PostPage) {
	if key == "" {
		return
	}
	if err := c.cache.SetJSON(ctx, key, page, c.ttl); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to cache page")
	}
}

// GetFeed 命中时返回缓存页，miss 时返回的 key 交给 Put
func (c *FeedCache) GetFeed(ctx context.Context, viewer uuid.UUID, p models.PageRequest) (*PostPage, string) {
	if !c.enabled() {
		return nil, ""
	}
	key, err := c.feedKey(ctx, viewer, p)
	var page PostPage
	key, hit := c.lookup(ctx, "feed", key, err, &page)
	if hit {
		return &page, key
	}
	return nil, key
}

func (c *FeedCache) GetExplore(ctx context.Context, viewer *uuid.UUID, p models.PageRequest) (*PostPage, string) {
	if !c.enabled() {
		return nil, ""
	}
	key, err := c.exploreKey(ctx, viewer, p)
	var page PostPage
	key, hit := c.lookup(ctx, "explore", key, err, &page)
	if hit {
		return &page, key
	}
	return nil, key
}

// Put 写入 Get 返回的 key，版本号在读取后变化时该 key 不会再被命中
func (c *FeedCache) Put(ctx context.Context, key string, page *PostPage) {
	if !c.enabled() {
		return
	}
	c.store(ctx, key, page)
}

// BumpContent 帖子、点赞、评论、资料变更后调用
func (c *FeedCache) BumpContent(ctx context.Context) {
	if !c.enabled() {
		return
	}
	if _, err := c.cache.Incr(ctx, contentVersionKey); err != nil {
		c.logger.WithError(err).Error("Failed to bump content version")
	}
}

// BumpGraph 关注关系变更后调用
func (c *FeedCache) BumpGraph(ctx context.Context, userIDs ...uuid.UUID) {
	if !c.enabled() {
		return
	}
	for _, id := range userIDs {
		if _, err := c.cache.Incr(ctx, fmt.Sprintf(graphVersionKey, id)); err != nil {
			c.logger.WithError(err).WithField("user_id", id).Error("Failed to bump graph version")
		}
	}
}
