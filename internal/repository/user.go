package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// ExistsByUsernameOrEmail 注册前的重复检查
func (r *UserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check existing user: %w", err)
	}
	return count > 0, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (r *UserRepository) adjust(ctx context.Context, userID uuid.UUID, column string, delta int64) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error; err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	return nil
}

func (r *UserRepository) UpdateFollowersCount(ctx context.Context, userID uuid.UUID, delta int64) error {
	return r.adjust(ctx, userID, "followers_count", delta)
}

func (r *UserRepository) UpdateFollowingCount(ctx context.Context, userID uuid.UUID, delta int64) error {
	return r.adjust(ctx, userID, "following_count", delta)
}

func (r *UserRepository) UpdatePostsCount(ctx context.Context, userID uuid.UUID, delta int64) error {
	return r.adjust(ctx, userID, "posts_count", delta)
}

func (r *UserRepository) SetCounters(ctx context.Context, userID uuid.UUID, followers, following, posts int64) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumns(map[string]interface{}{
			"followers_count": followers,
			"following_count": following,
			"posts_count":     posts,
		}).Error; err != nil {
		return fmt.Errorf("failed to set user counters: %w", err)
	}
	return nil
}

// Search 用户名或昵称不区分大小写的子串匹配
func (r *UserRepository) Search(ctx context.Context, query string, offset, limit int) ([]models.User, int64, error) {
	pattern := containsPattern(query)
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where(`LOWER(username) LIKE ? ESCAPE '\' OR LOWER(name) LIKE ? ESCAPE '\'`, pattern, pattern)
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Scopes(scope).
		Order("username ASC").
		Offset(offset).
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to search users: %w", err)
	}
	return users, total, nil
}

// UserCounterRow 缓存计数与实际计数的对比
type UserCounterRow struct {
	ID              uuid.UUID
	Username        string
	FollowersCount  int64
	FollowingCount  int64
	PostsCount      int64
	ActualFollowers int64
	ActualFollowing int64
	ActualPosts     int64
}

func (row UserCounterRow) Drifted() bool {
	return row.FollowersCount != row.ActualFollowers ||
		row.FollowingCount != row.ActualFollowing ||
		row.PostsCount != row.ActualPosts
}

const userCounterSelect = `users.id, users.username, users.followers_count, users.following_count, users.posts_count,
(SELECT COUNT(*) FROM follows WHERE follows.following_id = users.id) AS actual_followers,
(SELECT COUNT(*) FROM follows WHERE follows.follower_id = users.id) AS actual_following,
(SELECT COUNT(*) FROM posts WHERE posts.user_id = users.id) AS actual_posts`

func (r *UserRepository) CounterRows(ctx context.Context, offset, limit int) ([]UserCounterRow, error) {
	var rows []UserCounterRow
	if err := r.db.WithContext(ctx).Table("users").
		Select(userCounterSelect).
		Order("users.id").
		Offset(offset).
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load user counters: %w", err)
	}
	return rows, nil
}

func (r *UserRepository) CounterRowsFor(ctx context.Context, ids []uuid.UUID) ([]UserCounterRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []UserCounterRow
	if err := r.db.WithContext(ctx).Table("users").
		Select(userCounterSelect).
		Where("users.id IN ?", ids).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load user counters: %w", err)
	}
	return rows, nil
}
