package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/repository"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// PasswordCost bcrypt 代价，测试中调低
var PasswordCost = 12

type UserService struct {
	store  *repository.Store
	events eventPublisher
	cache  *FeedCache
	logger *logger.Logger
}

func NewUserService(store *repository.Store, producer queue.Publisher, feedCache *FeedCache, logger *logger.Logger) *UserService {
	return &UserService{
		store:  store,
		events: newEventPublisher(producer, logger),
		cache:  feedCache,
		logger: logger,
	}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
	Email    string `json:"email" binding:"required,trimmed_email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required,max=50"`
}

func (r *RegisterRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"Username.required":   "All fields are required",
		"Email.required":      "All fields are required",
		"Password.required":   "All fields are required",
		"Name.required":       "All fields are required",
		"Password.min":        "Password must be at least 6 characters",
		"Username":            "Username must be between 3 and 30 characters",
		"Email.trimmed_email": "Please enter a valid email",
		"Name.max":            "Name cannot exceed 50 characters",
	}
}

func (r *RegisterRequest) normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (r *LoginRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"Email":    "Email and password are required",
		"Password": "Email and password are required",
	}
}

type UpdateProfileRequest struct {
	Name           *string `json:"name" binding:"omitempty,max=50"`
	Bio            *string `json:"bio" binding:"omitempty,max=150"`
	ProfilePicture *string `json:"profilePicture" binding:"omitempty,max=2048"`
}

func (r *UpdateProfileRequest) ValidationMessages() map[string]string {
	return map[string]string{
		"Name.max":           "Name cannot exceed 50 characters",
		"Bio.max":            "Bio cannot exceed 150 characters",
		"ProfilePicture.max": "Profile picture URL is too long",
	}
}

func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	req.normalize()
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	exists, err := s.store.Users.ExistsByUsernameOrEmail(ctx, req.Username, req.Email)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if exists {
		return nil, models.NewConflictError("User with this email or username already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), PasswordCost)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to hash password: %w", err))
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashedPassword),
		Name:     req.Name,
	}
	if err := s.store.Users.Create(ctx, user); err != nil {
		// 预检查与插入之间的并发注册由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, models.NewConflictError("User with this email or username already exists")
		}
		return nil, models.NewInternalError(err)
	}

	s.events.publish(ctx, user.ID.String(), queue.EventUserRegistered, queue.UserEventData{
		UserID:   user.ID.String(),
		Username: user.Username,
	})

	s.logger.WithField("user_id", user.ID).Info("User registered successfully")
	return user, nil
}

func (s *UserService) Login(ctx context.Context, req *LoginRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	user, err := s.store.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if user == nil {
		return nil, models.NewAuthError("Invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, models.NewAuthError("Invalid credentials")
	}

	s.logger.WithField("user_id", user.ID).Info("User logged in successfully")
	return user, nil
}

// Me 会话有效但用户已被删除时返回 404
func (s *UserService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if user == nil {
		return nil, models.NewNotFoundError("User not found")
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, req *UpdateProfileRequest) (*models.User, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, models.NewValidationError("Name is required")
		}
		fields["name"] = name
	}
	if req.Bio != nil {
		fields["bio"] = strings.TrimSpace(*req.Bio)
	}
	if req.ProfilePicture != nil {
		picture := strings.TrimSpace(*req.ProfilePicture)
		if picture == "" {
			picture = models.DefaultProfilePicture
		}
		fields["profile_picture"] = picture
	}

	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return user, nil
	}

	if err := s.store.Users.UpdateProfile(ctx, userID, fields); err != nil {
		return nil, models.NewInternalError(err)
	}
	user, err = s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 帖子里嵌入了作者资料
	s.cache.BumpContent(ctx)
	s.events.publish(ctx, userID.String(), queue.EventProfileUpdated, queue.UserEventData{
		UserID:   userID.String(),
		Username: user.Username,
	})

	s.logger.WithField("user_id", userID).Info("User profile updated successfully")
	return user, nil
}

func (s *UserService) getByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.store.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if user == nil {
		return nil, models.NewNotFoundError("User not found")
	}
	return user, nil
}

func (s *UserService) GetProfile(ctx context.Context, username string, viewer *uuid.UUID) (*models.Profile, error) {
	user, err := s.getByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	profile, err := s.profileOf(ctx, user, viewer)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *UserService) profileOf(ctx context.Context, user *models.User, viewer *uuid.UUID) (models.Profile, error) {
	if viewer == nil {
		return user.Profile(false, false), nil
	}
	if *viewer == user.ID {
		return user.Profile(false, true), nil
	}
	following, err := s.store.Follows.IsFollowing(ctx, *viewer, user.ID)
	if err != nil {
		return models.Profile{}, models.NewInternalError(err)
	}
	return user.Profile(following, false), nil
}

// Follow 关注关系和双方计数在同一个事务内写入
func (s *UserService) Follow(ctx context.Context, followerID uuid.UUID, username string) error {
	target, err := s.getByUsername(ctx, username)
	if err != nil {
		return err
	}
	if target.ID == followerID {
		return models.ErrSelfFollow
	}

	follow := &models.Follow{FollowerID: followerID, FollowingID: target.ID}
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		existing, err := tx.Follows.Get(ctx, followerID, target.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return models.NewConflictError("Already following this user")
		}
		if err := tx.Follows.Create(ctx, follow); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return models.NewConflictError("Already following this user")
			}
			return err
		}
		if err := tx.Users.UpdateFollowingCount(ctx, followerID, 1); err != nil {
			return err
		}
		return tx.Users.UpdateFollowersCount(ctx, target.ID, 1)
	})
	if err != nil {
		return asAppError(err)
	}

	s.cache.BumpGraph(ctx, followerID)
	s.events.publish(ctx, followerID.String(), queue.EventFollowCreated, queue.FollowEventData{
		FollowerID:  followerID.String(),
		FollowingID: target.ID.String(),
		CreatedAt:   follow.CreatedAt.Format(time.RFC3339),
	})

	s.logger.WithFields(map[string]interface{}{
		"follower_id":  followerID,
		"following_id": target.ID,
	}).Info("User followed successfully")
	return nil
}

func (s *UserService) Unfollow(ctx context.Context, followerID uuid.UUID, username string) error {
	target, err := s.getByUsername(ctx, username)
	if err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		deleted, err := tx.Follows.Delete(ctx, followerID, target.ID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return models.ErrNotFollowing
		}
		if err := tx.Users.UpdateFollowingCount(ctx, followerID, -1); err != nil {
			return err
		}
		return tx.Users.UpdateFollowersCount(ctx, target.ID, -1)
	})
	if err != nil {
		return asAppError(err)
	}

	s.cache.BumpGraph(ctx, followerID)
	s.events.publish(ctx, followerID.String(), queue.EventFollowDeleted, queue.FollowEventData{
		FollowerID:  followerID.String(),
		FollowingID: target.ID.String(),
	})

	s.logger.WithFields(map[string]interface{}{
		"follower_id":  followerID,
		"following_id": target.ID,
	}).Info("User unfollowed successfully")
	return nil
}

type UserPage struct {
	Users      []models.UserSummary
	Pagination models.Pagination
}

func (s *UserService) Followers(ctx context.Context, username string, p models.PageRequest) (*UserPage, error) {
	user, err := s.getByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Follows.CountFollowers(ctx, user.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	users, err := s.store.Follows.GetFollowers(ctx, user.ID, p.Offset(), p.Limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return newUserPage(users, p, total), nil
}

func (s *UserService) Following(ctx context.Context, username string, p models.PageRequest) (*UserPage, error) {
	user, err := s.getByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Follows.CountFollowing(ctx, user.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	users, err := s.store.Follows.GetFollowing(ctx, user.ID, p.Offset(), p.Limit)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return newUserPage(users, p, total), nil
}

func newUserPage(users []models.User, p models.PageRequest, total int64) *UserPage {
	summaries := make([]models.UserSummary, 0, len(users))
	for i := range users {
		summaries = append(summaries, users[i].Summary())
	}
	return &UserPage{
		Users:      summaries,
		Pagination: models.NewPagination(p, total),
	}
}
