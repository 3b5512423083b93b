// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/pkg/cache"
	"github.com/feed-system/snapgram/pkg/queue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB 内存 SQLite，单连接保证所有查询看到同一个库
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return db
}

func NewTestRedis(t *testing.T) (*cache.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := cache.NewRedisClient(mr.Addr(), "", 0, 5, 0)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// CreateUser 直接写库，跳过 bcrypt
func CreateUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "not-a-real-hash",
		Name:     "User " + username,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func CreatePost(t *testing.T, db *gorm.DB, author *models.User, caption string, createdAt time.Time) *models.Post {
	t.Helper()
	post := &models.Post{
		UserID:    author.ID,
		ImageURL:  fmt.Sprintf("https://picsum.photos/seed/%s/600/600", uuid.NewString()),
		Caption:   caption,
		CreatedAt: createdAt,
	}
	require.NoError(t, db.Omit("Author", "Likes", "Comments").Create(post).Error)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", author.ID).
		UpdateColumn("posts_count", gorm.Expr("posts_count + 1")).Error)
	return post
}

// CountByPost 统计某个帖子下的行数，model 传 &models.Like{} 或 &models.Comment{}
func CountByPost(t *testing.T, db *gorm.DB, model interface{}, postID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Where("post_id = ?", postID).Count(&count).Error)
	return count
}

// RecordingPublisher 记录发布过的事件
type RecordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
	Err    error
}

func (p *RecordingPublisher) Publish(_ context.Context, _ string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event, ok := value.(queue.Event); ok {
		p.events = append(p.events, event)
	}
	return p.Err
}

func (p *RecordingPublisher) Close() error {
	return nil
}

func (p *RecordingPublisher) Types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]queue.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}
