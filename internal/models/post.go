package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MaxCaptionLength = 2200
	MaxCommentLength = 500
)

type Post struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID        uuid.UUID `json:"userId" gorm:"type:uuid;not null;index:idx_posts_user_created,priority:1"`
	ImageURL      string    `json:"imageUrl" gorm:"type:text;not null"`
	Caption       string    `json:"caption" gorm:"type:text;not null;default:''"`
	LikesCount    int64     `json:"likesCount" gorm:"not null;default:0;index"`
	CommentsCount int64     `json:"commentsCount" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"createdAt" gorm:"index:idx_posts_user_created,priority:2;index"`
	UpdatedAt     time.Time `json:"updatedAt"`

	Author   User      `json:"-" gorm:"foreignKey:UserID"`
	Likes    []Like    `json:"-" gorm:"foreignKey:PostID"`
	Comments []Comment `json:"-" gorm:"foreignKey:PostID"`
}

func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type Like struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	PostID    uuid.UUID `json:"postId" gorm:"type:uuid;not null;uniqueIndex:idx_like_post_user"`
	UserID    uuid.UUID `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_like_post_user;index"`
	CreatedAt time.Time `json:"createdAt"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (l *Like) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

type Comment struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	PostID    uuid.UUID `json:"postId" gorm:"type:uuid;not null;index:idx_comment_post_created,priority:1"`
	UserID    uuid.UUID `json:"userId" gorm:"type:uuid;not null;index"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_comment_post_created,priority:2"`

	User User `json:"-" gorm:"foreignKey:UserID"`
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (Post) TableName() string {
	return "posts"
}

func (Like) TableName() string {
	return "likes"
}

func (Comment) TableName() string {
	return "comments"
}

// RecomputeCounters 每次点赞/评论变更后调用，计数以子表为准
func RecomputeCounters(p *Post) *Post {
	p.LikesCount = int64(len(p.Likes))
	p.CommentsCount = int64(len(p.Comments))
	return p
}

func (p *Post) IsLikedBy(userID uuid.UUID) bool {
	for _, like := range p.Likes {
		if like.UserID == userID {
			return true
		}
	}
	return false
}

// RemoveLike 返回是否删除成功
func (p *Post) RemoveLike(userID uuid.UUID) bool {
	for i, like := range p.Likes {
		if like.UserID == userID {
			p.Likes = append(p.Likes[:i], p.Likes[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Post) FindComment(commentID uuid.UUID) *Comment {
	for i := range p.Comments {
		if p.Comments[i].ID == commentID {
			return &p.Comments[i]
		}
	}
	return nil
}

func (p *Post) RemoveComment(commentID uuid.UUID) bool {
	for i, comment := range p.Comments {
		if comment.ID == commentID {
			p.Comments = append(p.Comments[:i], p.Comments[i+1:]...)
			return true
		}
	}
	return false
}

// CanDeleteComment 评论作者或帖子作者可删除
func (p *Post) CanDeleteComment(c *Comment, viewerID uuid.UUID) bool {
	return c.UserID == viewerID || p.UserID == viewerID
}

type LikeView struct {
	User      LikeUser  `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

type LikeUser struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

type CommentView struct {
	ID        uuid.UUID   `json:"id"`
	User      UserSummary `json:"user"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (c *Comment) View() CommentView {
	user := c.User.Summary()
	user.ID = c.UserID
	return CommentView{
		ID:        c.ID,
		User:      user,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}

type PostView struct {
	ID            uuid.UUID     `json:"id"`
	Author        UserSummary   `json:"author"`
	ImageURL      string        `json:"imageUrl"`
	Caption       string        `json:"caption"`
	Likes         []LikeView    `json:"likes"`
	Comments      []CommentView `json:"comments"`
	LikesCount    int64         `json:"likesCount"`
	CommentsCount int64         `json:"commentsCount"`
	IsLiked       *bool         `json:"isLiked,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// View 构造对外结构，viewer 为 nil 时不输出 isLiked
func (p *Post) View(viewer *uuid.UUID) PostView {
	likes := make([]LikeView, 0, len(p.Likes))
	for _, like := range p.Likes {
		likes = append(likes, LikeView{
			User:      LikeUser{ID: like.UserID, Username: like.User.Username},
			CreatedAt: like.CreatedAt,
		})
	}

	comments := make([]CommentView, 0, len(p.Comments))
	for i := range p.Comments {
		comments = append(comments, p.Comments[i].View())
	}

	author := p.Author.Summary()
	author.ID = p.UserID
	view := PostView{
		ID:            p.ID,
		Author:        author,
		ImageURL:      p.ImageURL,
		Caption:       p.Caption,
		Likes:         likes,
		Comments:      comments,
		LikesCount:    p.LikesCount,
		CommentsCount: p.CommentsCount,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if viewer != nil {
		liked := p.IsLikedBy(*viewer)
		view.IsLiked = &liked
	}
	return view
}
