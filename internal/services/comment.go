package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
	"github.com/google/uuid"
)

type CommentService struct {
	store  *repository.Store
	cache  *FeedCache
	events eventPublisher
	logger *logger.Logger
}

func NewCommentService(store *repository.Store, feedCache *FeedCache, producer queue.Publisher, logger *logger.Logger) *CommentService {
	return &CommentService{
		store:  store,
		cache:  feedCache,
		events: newEventPublisher(producer, logger),
		logger: logger,
	}
}

type AddCommentRequest struct {
	Text string `json:"text" binding:"notblank"`
}

func (r *AddCommentRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"Text": "Comment text is required",
	}
}

type CommentPage struct {
	Comments   []models.CommentView
	Pagination models.Pagination
}

// ListComments 最新的评论在前
func (s *CommentService) ListComments(ctx context.Context, postID uuid.UUID, p models.PageRequest) (*CommentPage, error) {
	post, err := s.store.Posts.GetByID(ctx, postID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if post == nil {
		return nil, models.NewNotFoundError("Post not found")
	}

	comments, total, err := s.store.Comments.ListByPost(ctx, postID, p.Offset(), p.Limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	views := make([]models.CommentView, 0, len(comments))
	for i := range comments {
		views = append(views, comments[i].View())
	}
	return &CommentPage{
		Comments:   views,
		Pagination: models.NewPagination(p, total),
	}, nil
}

// AddComment 返回新评论和评论总数
func (s *CommentService) AddComment(ctx context.Context, userID, postID uuid.UUID, req *AddCommentRequest) (*models.CommentView, int64, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, 0, models.NewValidationError("Comment text is required")
	}
	if utf8.RuneCountInString(text) > models.MaxCommentLength {
		return nil, 0, models.NewValidationError("Comment too long (max 500 characters)")
	}

	var comment *models.Comment
	var commentsCount int64
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		post, err := tx.Posts.GetForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if post == nil {
			return models.NewNotFoundError("Post not found")
		}
		author, err := tx.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if author == nil {
			return models.NewNotFoundError("User not found")
		}

		comment = &models.Comment{PostID: postID, UserID: userID, Text: text}
		if err := tx.Comments.Create(ctx, comment); err != nil {
			return err
		}
		comment.User = *author

		post.Comments = append(post.Comments, *comment)
		models.RecomputeCounters(post)
		commentsCount = post.CommentsCount
		return tx.Posts.UpdateCounters(ctx, post)
	})
	if err != nil {
		return nil, 0, asAppError(err)
	}

	s.cache.BumpContent(ctx)
	s.events.publish(ctx, userID.String(), queue.EventCommentCreated, queue.CommentEventData{
		CommentID: comment.ID.String(),
		UserID:    userID.String(),
		PostID:    postID.String(),
	})

	s.logger.WithFields(map[string]interface{}{
		"user_id":    userID,
		"post_id":    postID,
		"comment_id": comment.ID,
	}).Info("Comment added successfully")

	view := comment.View()
	return &view, commentsCount, nil
}

// DeleteComment 评论作者或帖子作者可以删除，返回剩余评论数
func (s *CommentService) DeleteComment(ctx context.Context, userID, postID, commentID uuid.UUID) (int64, error) {
	var commentsCount int64
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		post, err := tx.Posts.GetForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if post == nil {
			return models.NewNotFoundError("Post not found")
		}
		comment := post.FindComment(commentID)
		if comment == nil {
			return models.NewNotFoundError("Comment not found")
		}
		if !post.CanDeleteComment(comment, userID) {
			return models.NewForbiddenError("Not authorized to delete this comment")
		}

		deleted, err := tx.Comments.Delete(ctx, postID, commentID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return models.NewNotFoundError("Comment not found")
		}

		post.RemoveComment(commentID)
		models.RecomputeCounters(post)
		commentsCount = post.CommentsCount
		return tx.Posts.UpdateCounters(ctx, post)
	})
	if err != nil {
		return 0, asAppError(err)
	}

	s.cache.BumpContent(ctx)
	s.events.publish(ctx, userID.String(), queue.EventCommentDeleted, queue.CommentEventData{
		CommentID: commentID.String(),
		UserID:    userID.String(),
		PostID:    postID.String(),
	})

	s.logger.WithFields(map[string]interface{}{
		"user_id":    userID,
		"post_id":    postID,
		"comment_id": commentID,
	}).Info("Comment deleted successfully")
	return commentsCount, nil
}
