package services

import (
	"context"
	"strings"
	"time"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/observability"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	SearchTypeAll   = "all"
	SearchTypeUsers = "users"
	SearchTypePosts = "posts"
)

type FeedService struct {
	store  *repository.Store
	cache  *FeedCache
	events eventPublisher
	logger *logger.Logger
}

func NewFeedService(store *repository.Store, feedCache *FeedCache, producer queue.Publisher, logger *logger.Logger) *FeedService {
	return &FeedService{
		store:  store,
		cache:  feedCache,
		events: newEventPublisher(producer, logger),
		logger: logger,
	}
}

type CreatePostRequest struct {
	ImageURL string `json:"imageUrl" binding:"notblank"`
	Caption  string `json:"caption" binding:"max=2200"`
}

func (r *CreatePostRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"ImageURL":    "Image URL is required",
		"Caption.max": "Caption cannot exceed 2200 characters",
	}
}

type PostPage struct {
	Posts      []models.PostView `json:"posts"`
	Pagination models.Pagination `json:"pagination"`
}

type ProfilePostPage struct {
	Posts      []models.PostView
	User       models.Profile
	Pagination models.Pagination
}

type UserSearchResult struct {
	Data       []models.UserSummary `json:"data"`
	Pagination models.Pagination    `json:"pagination"`
}

type PostSearchResult struct {
	Data       []models.PostView `json:"data"`
	Pagination models.Pagination `json:"pagination"`
}

type SearchResult struct {
	Users *UserSearchResult `json:"users,omitempty"`
	Posts *PostSearchResult `json:"posts,omitempty"`
}

func newPostPage(posts []models.Post, viewer *uuid.UUID, p models.PageRequest, total int64) *PostPage {
	views := make([]models.PostView, 0, len(posts))
	for i := range posts {
		views = append(views, posts[i].View(viewer))
	}
	return &PostPage{
		Posts:      views,
		Pagination: models.NewPagination(p, total),
	}
}

func (s *FeedService) CreatePost(ctx context.Context, authorID uuid.UUID, req *CreatePostRequest) (*models.PostView, error) {
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	post := &models.Post{
		UserID:   authorID,
		ImageURL: req.ImageURL,
		Caption:  req.Caption,
	}
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		author, err := tx.Users.GetByID(ctx, authorID)
		if err != nil {
			return err
		}
		if author == nil {
			return models.NewNotFoundError("User not found")
		}
		if err := tx.Posts.Create(ctx, post); err != nil {
			return err
		}
		post.Author = *author
		return tx.Users.UpdatePostsCount(ctx, authorID, 1)
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.cache.BumpContent(ctx)
	s.events.publish(ctx, authorID.String(), queue.EventPostCreated, queue.PostEventData{
		PostID:    post.ID.String(),
		UserID:    authorID.String(),
		CreatedAt: post.CreatedAt.Format(time.RFC3339),
	})

	s.logger.WithFields(map[string]interface{}{
		"user_id": authorID,
		"post_id": post.ID,
	}).Info("Post created successfully")

	view := post.View(&authorID)
	return &view, nil
}

func (s *FeedService) GetPost(ctx context.Context, postID uuid.UUID, viewer *uuid.UUID) (*models.PostView, error) {
	post, err := s.store.Posts.GetByID(ctx, postID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if post == nil {
		return nil, models.NewNotFoundError("Post not found")
	}
	view := post.View(viewer)
	return &view, nil
}

// ListPosts 全站帖子，按时间倒序
func (s *FeedService) ListPosts(ctx context.Context, viewer *uuid.UUID, p models.PageRequest) (*PostPage, error) {
	posts, total, err := s.store.Posts.ListRecent(ctx, p.Offset(), p.Limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return newPostPage(posts, viewer, p, total), nil
}

// DeletePost 只有作者可以删除，点赞和评论一起删除
func (s *FeedService) DeletePost(ctx context.Context, viewerID, postID uuid.UUID) error {
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		post, err := tx.Posts.GetForUpdate(ctx, postID)
		if err != nil {
			return err
		}
		if post == nil {
			return models.NewNotFoundError("Post not found")
		}
		if post.UserID != viewerID {
			return models.NewForbiddenError("Not authorized to delete this post")
		}
		deleted, err := tx.Posts.Delete(ctx, postID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return models.NewNotFoundError("Post not found")
		}
		return tx.Users.UpdatePostsCount(ctx, post.UserID, -1)
	})
	if err != nil {
		return asAppError(err)
	}

	s.cache.BumpContent(ctx)
	s.events.publish(ctx, viewerID.String(), queue.EventPostDeleted, queue.PostEventData{
		PostID: postID.String(),
		UserID: viewerID.String(),
	})

	s.logger.WithFields(map[string]interface{}{
		"user_id": viewerID,
		"post_id": postID,
	}).Info("Post deleted successfully")
	return nil
}

// Feed 关注的人和自己的帖子，按时间倒序
func (s *FeedService) Feed(ctx context.Context, viewerID uuid.UUID, p models.PageRequest) (page *PostPage, err error) {
	ctx, span := observability.StartSpan(ctx, "FeedService.Feed",
		attribute.String("user.id", viewerID.String()),
		attribute.Int("page", p.Page),
	)
	defer func() { observability.EndSpan(span, err) }()

	cached, key := s.cache.GetFeed(ctx, viewerID, p)
	if cached != nil {
		return cached, nil
	}

	following, err := s.store.Follows.FollowingIDs(ctx, viewerID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	authors := append(following, viewerID)

	posts, total, err := s.store.Posts.ListByAuthors(ctx, authors, p.Offset(), p.Limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	page = newPostPage(posts, &viewerID, p, total)
	s.cache.Put(ctx, key, page)
	return page, nil
}

// Explore 未关注作者的帖子，按点赞数升序；匿名用户看到全部帖子
func (s *FeedService) Explore(ctx context.Context, viewer *uuid.UUID, p models.PageRequest) (page *PostPage, err error) {
	ctx, span := observability.StartSpan(ctx, "FeedService.Explore", attribute.Int("page", p.Page))
	defer func() { observability.EndSpan(span, err) }()

	cached, key := s.cache.GetExplore(ctx, viewer, p)
	if cached != nil {
		return cached, nil
	}

	var excluded []uuid.UUID
	if viewer != nil {
		following, err := s.store.Follows.FollowingIDs(ctx, *viewer)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		excluded = append(following, *viewer)
	}

	posts, total, err := s.store.Posts.ListExcludingAuthors(ctx, excluded, p.Offset(), p.Limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	page = newPostPage(posts, viewer, p, total)
	s.cache.Put(ctx, key, page)
	return page, nil
}

func (s *FeedService) ProfileTimeline(ctx context.Context, username string, viewer *uuid.UUID, p models.PageRequest) (*ProfilePostPage, error) {
	user, err := s.store.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if user == nil {
		return nil, models.NewNotFoundError("User not found")
	}

	posts, total, err := s.store.Posts.ListByAuthor(ctx, user.ID, p.Offset(), p.Limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	isFollowing := false
	if viewer != nil && *viewer != user.ID {
		isFollowing, err = s.store.Follows.IsFollowing(ctx, *viewer, user.ID)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
	}

	page := newPostPage(posts, viewer, p, total)
	return &ProfilePostPage{
		Posts:      page.Posts,
		User:       user.Profile(isFollowing, viewer != nil && *viewer == user.ID),
		Pagination: page.Pagination,
	}, nil
}

type SearchRequest struct {
	Query string
	Type  string
	Page  models.PageRequest
}

// Search 用户名/昵称和帖子描述的大小写不敏感子串匹配
func (s *FeedService) Search(ctx context.Context, req SearchRequest, viewer *uuid.UUID) (*SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, models.NewValidationError("Search query is required")
	}

	searchType := strings.ToLower(strings.TrimSpace(req.Type))
	if searchType == "" {
		searchType = SearchTypeAll
	}
	if searchType != SearchTypeAll && searchType != SearchTypeUsers && searchType != SearchTypePosts {
		return nil, models.NewValidationError("Search type must be one of users, posts, all")
	}

	p := req.Page
	result := &SearchResult{}

	if searchType == SearchTypeUsers || searchType == SearchTypeAll {
		users, total, err := s.store.Users.Search(ctx, query, p.Offset(), p.Limit)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		summaries := make([]models.UserSummary, 0, len(users))
		for i := range users {
			summaries = append(summaries, users[i].Summary())
		}
		result.Users = &UserSearchResult{
			Data:       summaries,
			Pagination: models.NewPagination(p, total),
		}
	}

	if searchType == SearchTypePosts || searchType == SearchTypeAll {
		posts, total, err := s.store.Posts.SearchByCaption(ctx, query, p.Offset(), p.Limit)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		page := newPostPage(posts, viewer, p, total)
		result.Posts = &PostSearchResult{
			Data:       page.Posts,
			Pagination: page.Pagination,
		}
	}

	return result, nil
}
