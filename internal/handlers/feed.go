package handlers

import (
	"net/http"

	"github.com/feed-system/snapgram/internal/middleware"
	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/gin-gonic/gin"
)

type FeedHandler struct {
	feedService    *services.FeedService
	likeService    *services.LikeService
	commentService *services.CommentService
	limits         PageLimits
	logger         *logger.Logger
}

func NewFeedHandler(feedService *services.FeedService, likeService *services.LikeService, commentService *services.CommentService, limits PageLimits, logger *logger.Logger) *FeedHandler {
	return &FeedHandler{
		feedService:    feedService,
		likeService:    likeService,
		commentService: commentService,
		limits:         limits,
		logger:         logger,
	}
}

func (h *FeedHandler) ListPosts(c *gin.Context) {
	page, err := h.feedService.ListPosts(c.Request.Context(), middleware.Viewer(c), h.limits.query(c, models.DefaultPostsLimit))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *FeedHandler) CreatePost(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req services.CreatePostRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	post, err := h.feedService.CreatePost(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Post created successfully",
		"post":    post,
	})
}

func (h *FeedHandler) GetPost(c *gin.Context) {
	postID, ok := pathID(c, h.logger, "id", "Post not found")
	if !ok {
		return
	}

	post, err := h.feedService.GetPost(c.Request.Context(), postID, middleware.Viewer(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (h *FeedHandler) DeletePost(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	postID, ok := pathID(c, h.logger, "id", "Post not found")
	if !ok {
		return
	}

	if err := h.feedService.DeletePost(c.Request.Context(), userID, postID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

func (h *FeedHandler) LikePost(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	postID, ok := pathID(c, h.logger, "id", "Post not found")
	if !ok {
		return
	}

	likesCount, err := h.likeService.LikePost(c.Request.Context(), userID, postID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Post liked successfully",
		"isLiked":    true,
		"likesCount": likesCount,
	})
}

func (h *FeedHandler) UnlikePost(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	postID, ok := pathID(c, h.logger, "id", "Post not found")
	if !ok {
		return
	}

	likesCount, err := h.likeService.UnlikePost(c.Request.Context(), userID, postID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Post unliked successfully",
		"isLiked":    false,
		"likesCount": likesCount,
	})
}

func (h *FeedHandler) GetComments(c *gin.Context) {
	postID, ok := pathID(c, h.logger, "id", "Post not found")
	if !ok {
		return
	}

	page, err := h.commentService.ListComments(c.Request.Context(), postID, h.limits.query(c, models.DefaultCommentsLimit))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"comments":   page.Comments,
		"pagination": page.Pagination,
	})
}

func (h *FeedHandler) CreateComment(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	postID, ok := pathID(c, h.logger, "id", "Post not found")
	if !ok {
		return
	}

	var req services.AddCommentRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	comment, commentsCount, err := h.commentService.AddComment(c.Request.Context(), userID, postID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":       "Comment added successfully",
		"comment":       comment,
		"commentsCount": commentsCount,
	})
}

func (h *FeedHandler) DeleteComment(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	postID, ok := pathID(c, h.logger, "id", "Post not found")
	if !ok {
		return
	}
	commentID, ok := pathID(c, h.logger, "commentId", "Comment not found")
	if !ok {
		return
	}

	commentsCount, err := h.commentService.DeleteComment(c.Request.Context(), userID, postID, commentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Comment deleted successfully",
		"commentsCount": commentsCount,
	})
}

func (h *FeedHandler) GetFeed(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	page, err := h.feedService.Feed(c.Request.Context(), userID, h.limits.query(c, h.limits.feedDefault()))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *FeedHandler) Explore(c *gin.Context) {
	page, err := h.feedService.Explore(c.Request.Context(), middleware.Viewer(c), h.limits.query(c, models.DefaultExploreLimit))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *FeedHandler) GetUserPosts(c *gin.Context) {
	page, err := h.feedService.ProfileTimeline(c.Request.Context(), c.Param("username"), middleware.Viewer(c), h.limits.query(c, models.DefaultProfileLimit))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts":      page.Posts,
		"user":       page.User,
		"pagination": page.Pagination,
	})
}

func (h *FeedHandler) Search(c *gin.Context) {
	result, err := h.feedService.Search(c.Request.Context(), services.SearchRequest{
		Query: c.Query("q"),
		Type:  c.Query("type"),
		Page:  h.limits.query(c, models.DefaultSearchLimit),
	}, middleware.Viewer(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
