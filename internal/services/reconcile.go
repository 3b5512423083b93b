package services

import (
	"context"
	"fmt"

	"github.com/feed-system/snapgram/internal/observability"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/google/uuid"
)

const DefaultReconcileBatchSize = 500

// ReconcileService 以关系表和子表为准校正冗余计数
type ReconcileService struct {
	store     *repository.Store
	cache     *FeedCache
	batchSize int
	logger    *logger.Logger
}

func NewReconcileService(store *repository.Store, feedCache *FeedCache, batchSize int, logger *logger.Logger) *ReconcileService {
	if batchSize <= 0 {
		batchSize = DefaultReconcileBatchSize
	}
	return &ReconcileService{
		store:     store,
		cache:     feedCache,
		batchSize: batchSize,
		logger:    logger,
	}
}

// ReconcileReport 一次校正的结果
type ReconcileReport struct {
	UsersChecked   int
	UsersCorrected int
	PostsChecked   int
	PostsCorrected int
}

func (s *ReconcileService) fixUser(ctx context.Context, row repository.UserCounterRow) (bool, error) {
	if !row.Drifted() {
		return false, nil
	}
	if err := s.store.Users.SetCounters(ctx, row.ID, row.ActualFollowers, row.ActualFollowing, row.ActualPosts); err != nil {
		return false, err
	}
	observability.CounterCorrections.WithLabelValues("user").Inc()
	s.logger.WithFields(map[string]interface{}{
		"user_id":          row.ID,
		"username":         row.Username,
		"followers_cached": row.FollowersCount,
		"followers_actual": row.ActualFollowers,
		"following_cached": row.FollowingCount,
		"following_actual": row.ActualFollowing,
		"posts_cached":     row.PostsCount,
		"posts_actual":     row.ActualPosts,
	}).Warn("User counters corrected")
	return true, nil
}

func (s *ReconcileService) fixPost(ctx context.Context, row repository.PostCounterRow) (bool, error) {
	if !row.Drifted() {
		return false, nil
	}
	if err := s.store.Posts.SetCounters(ctx, row.ID, row.ActualLikes, row.ActualComments); err != nil {
		return false, err
	}
	observability.CounterCorrections.WithLabelValues("post").Inc()
	s.logger.WithFields(map[string]interface{}{
		"post_id":         row.ID,
		"author_id":       row.UserID,
		"likes_cached":    row.LikesCount,
		"likes_actual":    row.ActualLikes,
		"comments_cached": row.CommentsCount,
		"comments_actual": row.ActualComments,
	}).Warn("Post counters corrected")
	return true, nil
}

// ReconcileUsers 校正指定用户的关注数、粉丝数和帖子数
func (s *ReconcileService) ReconcileUsers(ctx context.Context, ids ...uuid.UUID) (int, error) {
	rows, err := s.store.Users.CounterRowsFor(ctx, ids)
	if err != nil {
		return 0, err
	}
	corrected := 0
	for _, row := range rows {
		fixed, err := s.fixUser(ctx, row)
		if err != nil {
			return corrected, err
		}
		if fixed {
			corrected++
		}
	}
	if corrected > 0 {
		s.cache.BumpGraph(ctx, ids...)
		s.cache.BumpContent(ctx)
	}
	return corrected, nil
}

// ReconcilePost 帖子已删除时不做任何事
func (s *ReconcileService) ReconcilePost(ctx context.Context, postID uuid.UUID) (bool, error) {
	row, err := s.store.Posts.CounterRowFor(ctx, postID)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	fixed, err := s.fixPost(ctx, *row)
	if err != nil {
		return false, err
	}
	if fixed {
		s.cache.BumpContent(ctx)
	}
	return fixed, nil
}

// ReconcileAll 分批扫描全部用户和帖子
func (s *ReconcileService) ReconcileAll(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	for offset := 0; ; offset += s.batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rows, err := s.store.Users.CounterRows(ctx, offset, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("failed to reconcile users: %w", err)
		}
		for _, row := range rows {
			report.UsersChecked++
			fixed, err := s.fixUser(ctx, row)
			if err != nil {
				return report, fmt.Errorf("failed to reconcile user %s: %w", row.ID, err)
			}
			if fixed {
				report.UsersCorrected++
			}
		}
		if len(rows) < s.batchSize {
			break
		}
	}

	for offset := 0; ; offset += s.batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rows, err := s.store.Posts.CounterRows(ctx, offset, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("failed to reconcile posts: %w", err)
		}
		for _, row := range rows {
			report.PostsChecked++
			fixed, err := s.fixPost(ctx, row)
			if err != nil {
				return report, fmt.Errorf("failed to reconcile post %s: %w", row.ID, err)
			}
			if fixed {
				report.PostsCorrected++
			}
		}
		if len(rows) < s.batchSize {
			break
		}
	}

	if report.UsersCorrected > 0 || report.PostsCorrected > 0 {
		s.cache.BumpContent(ctx)
	}

	s.logger.WithFields(map[string]interface{}{
		"users_checked":   report.UsersChecked,
		"users_corrected": report.UsersCorrected,
		"posts_checked":   report.PostsChecked,
		"posts_corrected": report.PostsCorrected,
	}).Info("Counter reconciliation completed")
	return report, nil
}
