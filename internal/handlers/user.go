package handlers

import (
	"net/http"

	"github.com/feed-system/snapgram/internal/middleware"
	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService *services.UserService
	jwt         *middleware.JWTConfig
	limits      PageLimits
	logger      *logger.Logger
}

func NewUserHandler(userService *services.UserService, jwt *middleware.JWTConfig, limits PageLimits, logger *logger.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		jwt:         jwt,
		limits:      limits,
		logger:      logger,
	}
}

// startSession 签发 token 并写入 cookie，token 同时放在响应体里给 API 客户端使用
func (h *UserHandler) startSession(c *gin.Context, status int, message string, user *models.User) {
	token, err := middleware.GenerateToken(user.ID, h.jwt)
	if err != nil {
		respondError(c, h.logger, models.NewInternalError(err))
		return
	}
	middleware.SetAuthCookie(c, token, h.jwt)
	c.JSON(status, gin.H{
		"message": message,
		"user":    user.Account(),
		"token":   token,
	})
}

func (h *UserHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	user, err := h.userService.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.startSession(c, http.StatusCreated, "User created successfully", user)
}

func (h *UserHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	user, err := h.userService.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.startSession(c, http.StatusOK, "Login successful", user)
}

// Logout 无状态会话，只清除 cookie
func (h *UserHandler) Logout(c *gin.Context) {
	middleware.ClearAuthCookie(c, h.jwt)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *UserHandler) Me(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	user, err := h.userService.Me(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Account()})
}

func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req services.UpdateProfileRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}

	user, err := h.userService.UpdateProfile(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Profile updated successfully",
		"user":    user.Account(),
	})
}

func (h *UserHandler) GetProfile(c *gin.Context) {
	profile, err := h.userService.GetProfile(c.Request.Context(), c.Param("username"), middleware.Viewer(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

func (h *UserHandler) Follow(c *gin.Context) {
	followerID, _ := middleware.GetUserID(c)
	if err := h.userService.Follow(c.Request.Context(), followerID, c.Param("username")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Successfully followed user",
		"isFollowing": true,
	})
}

func (h *UserHandler) Unfollow(c *gin.Context) {
	followerID, _ := middleware.GetUserID(c)
	if err := h.userService.Unfollow(c.Request.Context(), followerID, c.Param("username")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Successfully unfollowed user",
		"isFollowing": false,
	})
}

func (h *UserHandler) GetFollowers(c *gin.Context) {
	page, err := h.userService.Followers(c.Request.Context(), c.Param("username"), h.limits.query(c, models.DefaultFollowLimit))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"followers":  page.Users,
		"pagination": page.Pagination,
	})
}

func (h *UserHandler) GetFollowing(c *gin.Context) {
	page, err := h.userService.Following(c.Request.Context(), c.Param("username"), h.limits.query(c, models.DefaultFollowLimit))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"following":  page.Users,
		"pagination": page.Pagination,
	})
}
