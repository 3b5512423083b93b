package services

import (
	"context"
	"errors"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LikeService struct {
	store  *repository.Store
	cache  *FeedCache
	events eventPublisher
	logger *logger.Logger
}

func NewLikeService(store *repository.Store, feedCache *FeedCache, producer queue.Publisher, logger *logger.Logger) *LikeService {
	return &LikeService{
		store:  store,
		cache:  feedCache,
		events: newEventPublisher(producer, logger),
		logger: logger,
	}
}

// LikePost 返回点赞后的 likesCount
func (s *LikeService) LikePost(ctx context.Context, userID, postID uuid.UUID) (int64, error) {
	var likesCount int64
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		post, err := tx.Posts.GetForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if post == nil {
			return models.NewNotFoundError("Post not found")
		}
		if post.IsLikedBy(userID) {
			return models.NewConflictError("Post already liked")
		}

		like := &models.Like{PostID: postID, UserID: userID}
		if err := tx.Likes.Create(ctx, like); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return models.NewConflictError("Post already liked")
			}
			return err
		}

		post.Likes = append(post.Likes, *like)
		models.RecomputeCounters(post)
		likesCount = post.LikesCount
		return tx.Posts.UpdateCounters(ctx, post)
	})
	if err != nil {
		return 0, asAppError(err)
	}

	s.cache.BumpContent(ctx)
	s.events.publish(ctx, userID.String(), queue.EventLikeCreated, queue.LikeEventData{
		UserID: userID.String(),
		PostID: postID.String(),
	})

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"post_id": postID,
	}).Info("Post liked successfully")
	return likesCount, nil
}

func (s *LikeService) UnlikePost(ctx context.Context, userID, postID uuid.UUID) (int64, error) {
	var likesCount int64
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		post, err := tx.Posts.GetForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if post == nil {
			return models.NewNotFoundError("Post not found")
		}
		if !post.RemoveLike(userID) {
			return models.ErrNotLiked
		}

		deleted, err := tx.Likes.Delete(ctx, postID, userID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return models.ErrNotLiked
		}

		models.RecomputeCounters(post)
		likesCount = post.LikesCount
		return tx.Posts.UpdateCounters(ctx, post)
	})
	if err != nil {
		return 0, asAppError(err)
	}

	s.cache.BumpContent(ctx)
	s.events.publish(ctx, userID.String(), queue.EventLikeDeleted, queue.LikeEventData{
		UserID: userID.String(),
		PostID: postID.String(),
	})

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"post_id": postID,
	}).Info("Post unliked successfully")
	return likesCount, nil
}
