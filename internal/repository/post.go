package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// id 作为第二排序键，保证同一时间戳下分页稳定
	orderNewestFirst = "posts.created_at DESC, posts.id DESC"
	orderLeastLiked  = "posts.likes_count ASC, posts.created_at DESC, posts.id DESC"
)

type PostRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

func withPostRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Author").
		Preload("Likes", func(db *gorm.DB) *gorm.DB {
			return db.Order("likes.created_at ASC")
		}).
		Preload("Likes.User").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("comments.created_at ASC")
		}).
		Preload("Comments.User")
}

func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (r *PostRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Scopes(withPostRelations).First(&post, "posts.id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

// GetForUpdate 行锁读取帖子及其点赞和评论，只能在事务内调用
func (r *PostRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(withPostRelations).
		First(&post, "posts.id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock post: %w", err)
	}
	return &post, nil
}

// UpdateCounters 持久化 models.RecomputeCounters 的结果
func (r *PostRepository) UpdateCounters(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", post.ID).
		UpdateColumns(map[string]interface{}{
			"likes_count":    post.LikesCount,
			"comments_count": post.CommentsCount,
		}).Error; err != nil {
		return fmt.Errorf("failed to update post counters: %w", err)
	}
	return nil
}

// Delete 删除帖子及其点赞和评论，调用方负责事务
func (r *PostRepository) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	db := r.db.WithContext(ctx)
	if err := db.Where("post_id = ?", id).Delete(&models.Like{}).Error; err != nil {
		return 0, fmt.Errorf("failed to delete post likes: %w", err)
	}
	if err := db.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
		return 0, fmt.Errorf("failed to delete post comments: %w", err)
	}
	result := db.Where("id = ?", id).Delete(&models.Post{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete post: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *PostRepository) page(ctx context.Context, scope func(*gorm.DB) *gorm.DB, order string, offset, limit int) ([]models.Post, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Post{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count posts: %w", err)
	}

	posts := make([]models.Post, 0, limit)
	if total == 0 {
		return posts, 0, nil
	}
	if err := r.db.WithContext(ctx).
		Scopes(scope, withPostRelations).
		Order(order).
		Offset(offset).
		Limit(limit).
		Find(&posts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, total, nil
}

func allPosts(db *gorm.DB) *gorm.DB {
	return db
}

func (r *PostRepository) ListRecent(ctx context.Context, offset, limit int) ([]models.Post, int64, error) {
	return r.page(ctx, allPosts, orderNewestFirst, offset, limit)
}

func (r *PostRepository) ListByAuthor(ctx context.Context, authorID uuid.UUID, offset, limit int) ([]models.Post, int64, error) {
	return r.page(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("posts.user_id = ?", authorID)
	}, orderNewestFirst, offset, limit)
}

func (r *PostRepository) ListByAuthors(ctx context.Context, authorIDs []uuid.UUID, offset, limit int) ([]models.Post, int64, error) {
	if len(authorIDs) == 0 {
		return []models.Post{}, 0, nil
	}
	return r.page(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("posts.user_id IN ?", authorIDs)
	}, orderNewestFirst, offset, limit)
}

// ListExcludingAuthors 按点赞数升序，排除集合为空时返回全部帖子
func (r *PostRepository) ListExcludingAuthors(ctx context.Context, excluded []uuid.UUID, offset, limit int) ([]models.Post, int64, error) {
	scope := allPosts
	if len(excluded) > 0 {
		scope = func(db *gorm.DB) *gorm.DB {
			return db.Where("posts.user_id NOT IN ?", excluded)
		}
	}
	return r.page(ctx, scope, orderLeastLiked, offset, limit)
}

func (r *PostRepository) SearchByCaption(ctx context.Context, query string, offset, limit int) ([]models.Post, int64, error) {
	pattern := containsPattern(query)
	return r.page(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where(`LOWER(posts.caption) LIKE ? ESCAPE '\'`, pattern)
	}, orderNewestFirst, offset, limit)
}

type PostCounterRow struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	LikesCount     int64
	CommentsCount  int64
	ActualLikes    int64
	ActualComments int64
}

func (row PostCounterRow) Drifted() bool {
	return row.LikesCount != row.ActualLikes || row.CommentsCount != row.ActualComments
}

const postCounterSelect = `posts.id, posts.user_id, posts.likes_count, posts.comments_count,
(SELECT COUNT(*) FROM likes WHERE likes.post_id = posts.id) AS actual_likes,
(SELECT COUNT(*) FROM comments WHERE comments.post_id = posts.id) AS actual_comments`

func (r *PostRepository) CounterRows(ctx context.Context, offset, limit int) ([]PostCounterRow, error) {
	var rows []PostCounterRow
	if err := r.db.WithContext(ctx).Table("posts").
		Select(postCounterSelect).
		Order("posts.id").
		Offset(offset).
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load post counters: %w", err)
	}
	return rows, nil
}

func (r *PostRepository) CounterRowFor(ctx context.Context, id uuid.UUID) (*PostCounterRow, error) {
	var rows []PostCounterRow
	if err := r.db.WithContext(ctx).Table("posts").
		Select(postCounterSelect).
		Where("posts.id = ?", id).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load post counters: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *PostRepository) SetCounters(ctx context.Context, id uuid.UUID, likes, comments int64) error {
	if err := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"likes_count":    likes,
			"comments_count": comments,
		}).Error; err != nil {
		return fmt.Errorf("failed to set post counters: %w", err)
	}
	return nil
}
