// Package seed fills the database with demo users, posts and interactions.
// Everything goes through the services so counters stay consistent.
package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/feed-system/snapgram/internal/models"
	"github.com/feed-system/snapgram/internal/services"
	"github.com/feed-system/snapgram/pkg/logger"
	"gorm.io/gorm"
)

const DemoPassword = "password123"

type demoUser struct {
	Username string
	Email    string
	Name     string
	Bio      string
	Caption  string
}

var demoUsers = []demoUser{
	{"john_doe", "john@example.com", "John Doe", "Photography enthusiast 📸", "Beautiful sunset at the beach! 🌅 #photography #nature"},
	{"jane_smith", "jane@example.com", "Jane Smith", "Travel blogger ✈️", "Amazing view from the mountain top! #travel #adventure"},
	{"mike_wilson", "mike@example.com", "Mike Wilson", "Food lover 🍕", "Homemade pizza night! 🍕 #food #cooking"},
	{"sarah_jones", "sarah@example.com", "Sarah Jones", "Food blogger 🍕 | Recipe creator", "Fresh pasta from scratch 🍝 #homemade"},
}

type Options struct {
	Users        int
	PostsPerUser int
	Reset        bool
	// Seed 固定随机种子，0 表示随机
	Seed int64
}

type Summary struct {
	Users    int
	Posts    int
	Follows  int
	Likes    int
	Comments int
}

type Seeder struct {
	db       *gorm.DB
	users    *services.UserService
	feed     *services.FeedService
	likes    *services.LikeService
	comments *services.CommentService
	logger   *logger.Logger
}

func NewSeeder(db *gorm.DB, users *services.UserService, feed *services.FeedService, likes *services.LikeService, comments *services.CommentService, logger *logger.Logger) *Seeder {
	return &Seeder{
		db:       db,
		users:    users,
		feed:     feed,
		likes:    likes,
		comments: comments,
		logger:   logger,
	}
}

// Reset 按外键顺序清空所有表
func (s *Seeder) Reset(ctx context.Context) error {
	tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []interface{}{&models.Comment{}, &models.Like{}, &models.Post{}, &models.Follow{}, &models.User{}} {
		if err := tx.Delete(model).Error; err != nil {
			return fmt.Errorf("failed to reset %T: %w", model, err)
		}
	}
	s.logger.Info("Database reset")
	return nil
}

func (s *Seeder) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.Reset {
		if err := s.Reset(ctx); err != nil {
			return nil, err
		}
	}

	faker := gofakeit.New(opts.Seed)
	summary := &Summary{}

	var users []*models.User
	for _, demo := range demoUsers {
		user, created, err := s.ensureUser(ctx, &services.RegisterRequest{
			Username: demo.Username,
			Email:    demo.Email,
			Password: DemoPassword,
			Name:     demo.Name,
		}, demo.Bio)
		if err != nil {
			return summary, err
		}
		users = append(users, user)
		if !created {
			continue
		}
		summary.Users++
		if _, err := s.feed.CreatePost(ctx, user.ID, &services.CreatePostRequest{
			ImageURL: imageURL(faker),
			Caption:  demo.Caption,
		}); err != nil {
			return summary, fmt.Errorf("failed to create demo post: %w", err)
		}
		summary.Posts++
	}

	for i := 0; i < opts.Users; i++ {
		username := fakeUsername(faker, i)
		user, created, err := s.ensureUser(ctx, &services.RegisterRequest{
			Username: username,
			Email:    username + "@example.com",
			Password: DemoPassword,
			Name:     truncate(faker.Name(), 50),
		}, truncate(faker.HipsterSentence(8), 150))
		if err != nil {
			return summary, err
		}
		users = append(users, user)
		if created {
			summary.Users++
		}
	}

	var posts []*models.PostView
	for _, user := range users {
		for j := 0; j < opts.PostsPerUser; j++ {
			post, err := s.feed.CreatePost(ctx, user.ID, &services.CreatePostRequest{
				ImageURL: imageURL(faker),
				Caption:  caption(faker),
			})
			if err != nil {
				return summary, fmt.Errorf("failed to create post: %w", err)
			}
			posts = append(posts, post)
			summary.Posts++
		}
	}

	// 每个用户随机关注约三分之一的其他用户
	for _, follower := range users {
		for _, target := range users {
			if follower.ID == target.ID || faker.Number(0, 2) != 0 {
				continue
			}
			err := s.users.Follow(ctx, follower.ID, target.Username)
			if models.IsKind(err, models.KindConflict) {
				continue
			}
			if err != nil {
				return summary, fmt.Errorf("failed to follow: %w", err)
			}
			summary.Follows++
		}
	}

	for _, post := range posts {
		for _, user := range users {
			if faker.Number(0, 9) < 3 {
				_, err := s.likes.LikePost(ctx, user.ID, post.ID)
				if err != nil && !models.IsKind(err, models.KindConflict) {
					return summary, fmt.Errorf("failed to like post: %w", err)
				}
				if err == nil {
					summary.Likes++
				}
			}
			if faker.Number(0, 9) == 0 {
				if _, _, err := s.comments.AddComment(ctx, user.ID, post.ID, &services.AddCommentRequest{
					Text: truncate(faker.Sentence(10), 500),
				}); err != nil {
					return summary, fmt.Errorf("failed to add comment: %w", err)
				}
				summary.Comments++
			}
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"users":    summary.Users,
		"posts":    summary.Posts,
		"follows":  summary.Follows,
		"likes":    summary.Likes,
		"comments": summary.Comments,
	}).Info("Database seeded successfully")
	return summary, nil
}

// ensureUser 用户已存在时登录取回，created 为 false
func (s *Seeder) ensureUser(ctx context.Context, req *services.RegisterRequest, bio string) (*models.User, bool, error) {
	password := req.Password
	user, err := s.users.Register(ctx, req)
	if models.IsKind(err, models.KindConflict) {
		existing, loginErr := s.users.Login(ctx, &services.LoginRequest{Email: req.Email, Password: password})
		if loginErr != nil {
			return nil, false, fmt.Errorf("user %s exists but cannot be reused: %w", req.Username, loginErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to register %s: %w", req.Username, err)
	}

	if bio != "" {
		if user, err = s.users.UpdateProfile(ctx, user.ID, &services.UpdateProfileRequest{Bio: &bio}); err != nil {
			return nil, false, fmt.Errorf("failed to set bio for %s: %w", req.Username, err)
		}
	}
	return user, true, nil
}

func fakeUsername(faker *gofakeit.Faker, i int) string {
	return sanitize(faker.Username(), i)
}

// sanitize 只保留小写字母、数字和下划线，加序号保证唯一
func sanitize(name string, i int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	base := truncate(b.String(), 20)
	if len(base) < 3 {
		base = "user"
	}
	return fmt.Sprintf("%s_%d", base, i)
}

func imageURL(faker *gofakeit.Faker) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s/600/600", faker.UUID())
}

func caption(faker *gofakeit.Faker) string {
	tags := []string{"#photography", "#travel", "#food", "#nature", "#city", "#friends"}
	return truncate(fmt.Sprintf("%s %s", faker.Sentence(8), tags[faker.Number(0, len(tags)-1)]), 2200)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
